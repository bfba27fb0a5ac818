package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"journey-engine/internal/domain"
	"journey-engine/internal/graph"
)

func prop(key string, op graph.Operator, value any, rel graph.Relation) graph.Statement {
	return graph.Statement{Kind: graph.StatementProperty, Key: key, Operator: op, Value: value, Relation: rel}
}

func TestEvaluateStatements(t *testing.T) {
	attrs := map[string]any{
		"plan":      "pro",
		"age":       41,
		"score":     json.Number("7.5"),
		"verified":  true,
		"tags":      []any{"beta", "vip"},
		"joined":    "2026-03-01T10:00:00Z",
		"address":   map[string]any{"city": "Lisbon"},
		"nickname":  nil,
		"plan.tier": "gold",
	}

	tests := []struct {
		name  string
		stmts []graph.Statement
		want  bool
	}{
		{
			name:  "empty list matches",
			stmts: nil,
			want:  true,
		},
		{
			name:  "equals string",
			stmts: []graph.Statement{prop("plan", graph.OpEquals, "pro", "")},
			want:  true,
		},
		{
			name:  "equals number across types",
			stmts: []graph.Statement{prop("age", graph.OpEquals, 41.0, "")},
			want:  true,
		},
		{
			name:  "equals numeric string",
			stmts: []graph.Statement{prop("age", graph.OpEquals, "41", "")},
			want:  true,
		},
		{
			name:  "equals bool from string",
			stmts: []graph.Statement{prop("verified", graph.OpEquals, "true", "")},
			want:  true,
		},
		{
			name:  "not equals",
			stmts: []graph.Statement{prop("plan", graph.OpNotEquals, "free", "")},
			want:  true,
		},
		{
			name:  "missing key is false for not equals",
			stmts: []graph.Statement{prop("country", graph.OpNotEquals, "PT", "")},
			want:  false,
		},
		{
			name:  "contains in list",
			stmts: []graph.Statement{prop("tags", graph.OpContains, "vip", "")},
			want:  true,
		},
		{
			name:  "contains substring",
			stmts: []graph.Statement{prop("plan", graph.OpContains, "ro", "")},
			want:  true,
		},
		{
			name:  "greater than json number",
			stmts: []graph.Statement{prop("score", graph.OpGreaterThan, 7, "")},
			want:  true,
		},
		{
			name:  "less than time",
			stmts: []graph.Statement{prop("joined", graph.OpLessThan, "2026-04-01T00:00:00Z", "")},
			want:  true,
		},
		{
			name:  "ordering on non comparable values is false",
			stmts: []graph.Statement{prop("plan", graph.OpGreaterThan, 3, "")},
			want:  false,
		},
		{
			name:  "dotted path",
			stmts: []graph.Statement{prop("address.city", graph.OpEquals, "Lisbon", "")},
			want:  true,
		},
		{
			name:  "literal dotted key wins",
			stmts: []graph.Statement{prop("plan.tier", graph.OpEquals, "gold", "")},
			want:  true,
		},
		{
			name:  "exists",
			stmts: []graph.Statement{prop("plan", graph.OpExists, nil, "")},
			want:  true,
		},
		{
			name:  "exists on nil value is false",
			stmts: []graph.Statement{prop("nickname", graph.OpExists, nil, "")},
			want:  false,
		},
		{
			name:  "exists on missing key is false",
			stmts: []graph.Statement{prop("country", graph.OpExists, nil, "")},
			want:  false,
		},
		{
			name: "and chain",
			stmts: []graph.Statement{
				prop("plan", graph.OpEquals, "pro", graph.RelationAnd),
				prop("age", graph.OpGreaterThan, 18, ""),
			},
			want: true,
		},
		{
			// (false AND true) OR true
			name: "left fold does not give AND precedence",
			stmts: []graph.Statement{
				prop("plan", graph.OpEquals, "free", graph.RelationAnd),
				prop("age", graph.OpGreaterThan, 18, graph.RelationOr),
				prop("verified", graph.OpEquals, true, ""),
			},
			want: true,
		},
		{
			// (true OR x) AND false
			name: "or then and folds left",
			stmts: []graph.Statement{
				prop("plan", graph.OpEquals, "pro", graph.RelationOr),
				prop("age", graph.OpLessThan, 0, graph.RelationAnd),
				prop("verified", graph.OpEquals, false, ""),
			},
			want: false,
		},
		{
			name: "unset relation means and",
			stmts: []graph.Statement{
				prop("plan", graph.OpEquals, "pro", ""),
				prop("age", graph.OpLessThan, 18, ""),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateStatements(tt.stmts, attrs, nil))
		})
	}
}

func TestEvaluateStatements_EventProperty(t *testing.T) {
	payload := map[string]any{"amount": 25.0, "order": map[string]any{"currency": "EUR"}}
	stmts := []graph.Statement{
		{Kind: graph.StatementEventProperty, Key: "amount", Operator: graph.OpGreaterThan, Value: 10, Relation: graph.RelationAnd},
		{Kind: graph.StatementEventProperty, Key: "order.currency", Operator: graph.OpEquals, Value: "EUR"},
	}

	assert.True(t, EvaluateStatements(stmts, nil, payload))
	assert.False(t, EvaluateStatements(stmts, map[string]any{"amount": 25.0}, nil))
}

func waitNode() graph.WaitUntil {
	return graph.WaitUntil{Branches: []graph.Branch{
		graph.MaxTimeBranch{ID: "timeout", TimeKind: graph.TimeDelayKind},
		graph.EventBranch{ID: "any_purchase", Conditions: []graph.Condition{{EventName: "purchase"}}},
		graph.EventBranch{ID: "big_purchase", Conditions: []graph.Condition{{
			EventName: "purchase",
			Statements: []graph.Statement{{
				Kind: graph.StatementEventProperty, Key: "amount", Operator: graph.OpGreaterThan, Value: 100,
			}},
		}}},
		graph.EventBranch{ID: "click_or_open", Conditions: []graph.Condition{
			{EventName: "email_clicked", Relation: graph.RelationOr},
			{EventName: "email_opened"},
		}},
	}}
}

func TestFindMatchingBranch(t *testing.T) {
	wait := waitNode()

	t.Run("lowest index wins", func(t *testing.T) {
		res := FindMatchingBranch(wait, nil, domain.Event{Name: "purchase", Payload: map[string]any{"amount": 500}})
		assert.True(t, res.Matched)
		assert.Equal(t, "any_purchase", res.Branch.BranchID())
		assert.Equal(t, 1, res.Index)
	})

	t.Run("or across conditions", func(t *testing.T) {
		res := FindMatchingBranch(wait, nil, domain.Event{Name: "email_opened"})
		assert.True(t, res.Matched)
		assert.Equal(t, "click_or_open", res.Branch.BranchID())
	})

	t.Run("unrelated event", func(t *testing.T) {
		res := FindMatchingBranch(wait, nil, domain.Event{Name: "logout"})
		assert.False(t, res.Matched)
		assert.Equal(t, -1, res.Index)
		assert.Nil(t, res.Branch)
	})

	t.Run("max time never matches an event", func(t *testing.T) {
		assert.False(t, MatchBranch(wait.Branches[0], nil, domain.Event{Name: "timeout"}))
	})
}

func TestMatchBranch_AndAcrossConditions(t *testing.T) {
	branch := graph.EventBranch{ID: "both", Conditions: []graph.Condition{
		{EventName: "purchase", Relation: graph.RelationAnd},
		{EventName: "purchase", Statements: []graph.Statement{prop("plan", graph.OpEquals, "pro", "")}},
	}}

	assert.True(t, MatchBranch(branch, map[string]any{"plan": "pro"}, domain.Event{Name: "purchase"}))
	assert.False(t, MatchBranch(branch, map[string]any{"plan": "free"}, domain.Event{Name: "purchase"}))
}

package service

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"journey-engine/internal/domain"
	"journey-engine/internal/graph"
)

// EvaluationResult represents the outcome of matching an event against a wait node.
type EvaluationResult struct {
	Matched bool
	Branch  graph.Branch
	Index   int
	Reason  string
}

// FindMatchingBranch returns the lowest-index EVENT branch of wait that
// matches event. MAX_TIME branches never match events.
func FindMatchingBranch(wait graph.WaitUntil, attributes map[string]any, event domain.Event) EvaluationResult {
	for i, branch := range wait.Branches {
		if MatchBranch(branch, attributes, event) {
			return EvaluationResult{
				Matched: true,
				Branch:  branch,
				Index:   i,
				Reason:  "event branch matched",
			}
		}
	}
	return EvaluationResult{Index: -1, Reason: "no event branch matched"}
}

// MatchBranch reports whether event satisfies branch.
func MatchBranch(branch graph.Branch, attributes map[string]any, event domain.Event) bool {
	switch b := branch.(type) {
	case graph.EventBranch:
		return matchConditions(b.Conditions, attributes, event)
	case graph.MaxTimeBranch:
		return false
	default:
		return false
	}
}

// matchConditions folds conditions left to right, joined by each condition's
// relation to the next (AND when unset).
func matchConditions(conds []graph.Condition, attributes map[string]any, event domain.Event) bool {
	if len(conds) == 0 {
		return false
	}
	eval := func(c graph.Condition) bool {
		return c.EventName == event.Name && EvaluateStatements(c.Statements, attributes, event.Payload)
	}

	acc := eval(conds[0])
	for i := 1; i < len(conds); i++ {
		if conds[i-1].Relation == graph.RelationOr {
			if acc {
				continue
			}
		} else if !acc {
			continue
		}
		acc = eval(conds[i])
	}
	return acc
}

// EvaluateStatements folds statements strictly left to right. AND does not
// bind tighter than OR: a AND b OR c is (a AND b) OR c. An operand is skipped
// when the accumulator already decides the step (false AND x, true OR x).
// An empty list matches.
func EvaluateStatements(stmts []graph.Statement, attributes, payload map[string]any) bool {
	if len(stmts) == 0 {
		return true
	}

	acc := evaluateStatement(stmts[0], attributes, payload)
	for i := 1; i < len(stmts); i++ {
		if stmts[i-1].Relation == graph.RelationOr {
			if acc {
				continue
			}
		} else if !acc {
			continue
		}
		acc = evaluateStatement(stmts[i], attributes, payload)
	}
	return acc
}

func evaluateStatement(st graph.Statement, attributes, payload map[string]any) bool {
	source := attributes
	if st.Kind == graph.StatementEventProperty {
		source = payload
	}

	actual, found := lookup(source, st.Key)
	if st.Operator == graph.OpExists {
		return found && actual != nil
	}
	if !found {
		return false
	}

	switch st.Operator {
	case graph.OpEquals:
		return equal(actual, st.Value)
	case graph.OpNotEquals:
		return !equal(actual, st.Value)
	case graph.OpContains:
		return contains(actual, st.Value)
	case graph.OpGreaterThan:
		c, ok := order(actual, st.Value)
		return ok && c > 0
	case graph.OpLessThan:
		c, ok := order(actual, st.Value)
		return ok && c < 0
	default:
		return false
	}
}

// lookup resolves key in m, first as a literal key and then as a dotted path.
func lookup(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}

	var cur any = m
	for _, part := range strings.Split(key, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func equal(actual, expected any) bool {
	if isNumeric(actual) || isNumeric(expected) {
		a, okA := toNumber(actual)
		b, okB := toNumber(expected)
		if okA && okB {
			return a == b
		}
	}
	if ab, ok := actual.(bool); ok {
		if eb, err := strconv.ParseBool(fmt.Sprint(expected)); err == nil {
			return ab == eb
		}
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func contains(actual, expected any) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, fmt.Sprint(expected))
	case []any:
		for _, item := range a {
			if equal(item, expected) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range a {
			if item == fmt.Sprint(expected) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := a[fmt.Sprint(expected)]
		return ok
	default:
		return false
	}
}

// order compares numerically when both sides are numbers, then as timestamps.
func order(actual, expected any) (int, bool) {
	if a, ok := toNumber(actual); ok {
		if b, ok := toNumber(expected); ok {
			switch {
			case a < b:
				return -1, true
			case a > b:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if a, ok := toTime(actual); ok {
		if b, ok := toTime(expected); ok {
			return a.Compare(b), true
		}
	}
	return 0, false
}

func isNumeric(v any) bool {
	if _, ok := v.(json.Number); ok {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

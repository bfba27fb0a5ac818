package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"journey-engine/internal/graph"
)

// JourneyDefinition is the authored document for one journey, as stored in
// AppConfig, on disk, or inline in an activation request.
type JourneyDefinition struct {
	Journey Journey          `yaml:"journey" json:"journey"`
	Nodes   []NodeDefinition `yaml:"nodes" json:"nodes"`
	Edges   []EdgeDefinition `yaml:"edges" json:"edges"`
}

// Journey holds journey identification.
type Journey struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// NodeDefinition is one node. Which fields apply depends on Type.
type NodeDefinition struct {
	ID         string                `yaml:"id" json:"id"`
	Type       string                `yaml:"type" json:"type"`
	Channel    string                `yaml:"channel,omitempty" json:"channel,omitempty"`
	Template   string                `yaml:"template,omitempty" json:"template,omitempty"`
	Branches   []BranchDefinition    `yaml:"branches,omitempty" json:"branches,omitempty"`
	Delay      *Duration             `yaml:"delay,omitempty" json:"delay,omitempty"`
	Window     *WindowDefinition     `yaml:"window,omitempty" json:"window,omitempty"`
	Target     string                `yaml:"target,omitempty" json:"target,omitempty"`
	Statements []StatementDefinition `yaml:"statements,omitempty" json:"statements,omitempty"`
}

// BranchDefinition is one WAIT_UNTIL branch. EVENT branches carry
// conditions; MAX_TIME branches carry either a delay or a date.
type BranchDefinition struct {
	ID         string                `yaml:"id" json:"id"`
	Type       string                `yaml:"type" json:"type"`
	Conditions []ConditionDefinition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Delay      *Duration             `yaml:"delay,omitempty" json:"delay,omitempty"`
	Date       *time.Time            `yaml:"date,omitempty" json:"date,omitempty"`
}

type ConditionDefinition struct {
	Event      string                `yaml:"event" json:"event"`
	Relation   string                `yaml:"relation,omitempty" json:"relation,omitempty"`
	Statements []StatementDefinition `yaml:"statements,omitempty" json:"statements,omitempty"`
}

type StatementDefinition struct {
	Kind     string `yaml:"kind" json:"kind"`
	Key      string `yaml:"key" json:"key"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value,omitempty" json:"value,omitempty"`
	Relation string `yaml:"relation,omitempty" json:"relation,omitempty"`
}

// WindowDefinition holds the cron expressions that open and close a TIME_WINDOW.
type WindowDefinition struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

type EdgeDefinition struct {
	From   string `yaml:"from" json:"from"`
	To     string `yaml:"to" json:"to"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`
}

// Duration represents a duration in minutes for YAML configuration.
type Duration struct {
	Minutes int `yaml:"minutes" json:"minutes"`
}

// ParseJourneyDefinition decodes a YAML or JSON document.
func ParseJourneyDefinition(data []byte) (*JourneyDefinition, error) {
	var def JourneyDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse journey definition: %w", err)
	}
	return &def, nil
}

// LoadJourneyFile reads and decodes a definition from disk.
func LoadJourneyFile(path string) (*JourneyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journey file: %w", err)
	}
	return ParseJourneyDefinition(data)
}

// ToDuration converts to a standard time.Duration.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d.Minutes) * time.Minute
}

// FindNode finds a node by ID, returns nil if not found.
func (d *JourneyDefinition) FindNode(nodeID string) *NodeDefinition {
	for i := range d.Nodes {
		if d.Nodes[i].ID == nodeID {
			return &d.Nodes[i]
		}
	}
	return nil
}

// Build converts the document into a validated, frozen graph.
// Every failure is reported as *graph.GraphError values.
func (d *JourneyDefinition) Build(version int) (*graph.Graph, error) {
	if err := ValidateJourneyDefinition(d); err != nil {
		return nil, &graph.GraphError{Reason: err.Error()}
	}

	nodes := make([]graph.Node, 0, len(d.Nodes))
	for _, nd := range d.Nodes {
		spec, err := nd.spec()
		if err != nil {
			return nil, &graph.GraphError{NodeID: nd.ID, Reason: err.Error()}
		}
		nodes = append(nodes, graph.Node{ID: nd.ID, Spec: spec})
	}

	edges := make([]graph.Edge, 0, len(d.Edges))
	for _, e := range d.Edges {
		edges = append(edges, graph.Edge{Source: e.From, Target: e.To, BranchID: e.Branch})
	}

	return graph.New(d.Journey.ID, version, nodes, edges)
}

func (nd NodeDefinition) spec() (graph.Spec, error) {
	switch graph.NodeKind(strings.ToUpper(nd.Type)) {
	case graph.KindStart:
		return graph.Start{}, nil
	case graph.KindMessage:
		return graph.Message{Channel: nd.Channel, TemplateID: nd.Template}, nil
	case graph.KindExit:
		return graph.Exit{}, nil
	case graph.KindJumpTo:
		return graph.JumpTo{TargetID: nd.Target}, nil
	case graph.KindTimeDelay:
		if nd.Delay == nil {
			return nil, fmt.Errorf("time delay needs delay.minutes")
		}
		return graph.TimeDelay{Duration: nd.Delay.ToDuration()}, nil
	case graph.KindTimeWindow:
		if nd.Window == nil {
			return nil, fmt.Errorf("time window needs window.start and window.end")
		}
		return graph.NewTimeWindow(nd.Window.Start, nd.Window.End)
	case graph.KindUserAttribute:
		return graph.UserAttribute{Statements: statements(nd.Statements)}, nil
	case graph.KindWaitUntil:
		branches := make([]graph.Branch, 0, len(nd.Branches))
		for _, bd := range nd.Branches {
			b, err := bd.branch()
			if err != nil {
				return nil, err
			}
			branches = append(branches, b)
		}
		return graph.WaitUntil{Branches: branches}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", nd.Type)
	}
}

func (bd BranchDefinition) branch() (graph.Branch, error) {
	switch graph.BranchKind(strings.ToUpper(bd.Type)) {
	case graph.BranchEvent:
		conds := make([]graph.Condition, 0, len(bd.Conditions))
		for _, c := range bd.Conditions {
			conds = append(conds, graph.Condition{
				EventName:  c.Event,
				Relation:   graph.Relation(strings.ToUpper(c.Relation)),
				Statements: statements(c.Statements),
			})
		}
		return graph.EventBranch{ID: bd.ID, Conditions: conds}, nil
	case graph.BranchMaxTime:
		switch {
		case bd.Date != nil:
			return graph.MaxTimeBranch{ID: bd.ID, TimeKind: graph.TimeSpecificDate, Date: *bd.Date}, nil
		case bd.Delay != nil:
			return graph.MaxTimeBranch{ID: bd.ID, TimeKind: graph.TimeDelayKind, Delay: bd.Delay.ToDuration()}, nil
		default:
			return nil, fmt.Errorf("max time branch %q needs delay or date", bd.ID)
		}
	default:
		return nil, fmt.Errorf("branch %q has unknown type %q", bd.ID, bd.Type)
	}
}

func statements(defs []StatementDefinition) []graph.Statement {
	out := make([]graph.Statement, 0, len(defs))
	for _, s := range defs {
		out = append(out, graph.Statement{
			Kind:     graph.StatementKind(strings.ToUpper(s.Kind)),
			Key:      s.Key,
			Operator: graph.Operator(strings.ToUpper(s.Operator)),
			Value:    s.Value,
			Relation: graph.Relation(strings.ToUpper(s.Relation)),
		})
	}
	return out
}

// Package graph holds the immutable, validated representation of a journey.
package graph

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownNode    = errors.New("graph: unknown node")
	ErrNoOutgoingEdge = errors.New("graph: no outgoing edge")
)

// EdgeKind distinguishes plain successor edges from branch edges.
type EdgeKind string

const (
	EdgeNext   EdgeKind = "next"
	EdgeBranch EdgeKind = "branch"
)

// Edge connects Source to Target. BranchID is set for edges leaving a
// WAIT_UNTIL or USER_ATTRIBUTE node.
type Edge struct {
	Source   string
	Target   string
	BranchID string
}

// Kind returns EdgeBranch when the edge belongs to a branch.
func (e Edge) Kind() EdgeKind {
	if e.BranchID != "" {
		return EdgeBranch
	}
	return EdgeNext
}

// Graph is a frozen journey version. All lookups are read-only, so a Graph is
// safe for concurrent use.
type Graph struct {
	journeyID string
	version   int
	startID   string
	order     []string
	nodes     map[string]Node
	edges     []Edge
	next      map[string]string
	branches  map[string]map[string]string
}

// New validates nodes and edges and returns the frozen graph.
func New(journeyID string, version int, nodes []Node, edges []Edge) (*Graph, error) {
	if err := Validate(nodes, edges); err != nil {
		return nil, fmt.Errorf("journey %s v%d: %w", journeyID, version, err)
	}

	g := &Graph{
		journeyID: journeyID,
		version:   version,
		order:     make([]string, 0, len(nodes)),
		nodes:     make(map[string]Node, len(nodes)),
		edges:     append([]Edge(nil), edges...),
		next:      make(map[string]string),
		branches:  make(map[string]map[string]string),
	}
	for _, n := range nodes {
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
		if n.Kind() == KindStart {
			g.startID = n.ID
		}
	}
	for _, e := range edges {
		if e.BranchID == "" {
			g.next[e.Source] = e.Target
			continue
		}
		if g.branches[e.Source] == nil {
			g.branches[e.Source] = make(map[string]string)
		}
		g.branches[e.Source][e.BranchID] = e.Target
	}
	return g, nil
}

func (g *Graph) JourneyID() string { return g.journeyID }
func (g *Graph) Version() int      { return g.version }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns nodes in declaration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// StartID returns the START node id.
func (g *Graph) StartID() string {
	return g.startID
}

// EntryNode returns the START node's immediate successor, where new customers are placed.
func (g *Graph) EntryNode() string {
	return g.next[g.startID]
}

// NextNode resolves the node reached from nodeID. branchID selects a branch
// edge; an empty branchID follows the plain successor edge. JUMP_TO nodes
// resolve to their target.
func (g *Graph) NextNode(nodeID, branchID string) (string, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if jump, ok := n.Spec.(JumpTo); ok {
		return jump.TargetID, nil
	}
	if branchID != "" {
		target, ok := g.branches[nodeID][branchID]
		if !ok {
			return "", fmt.Errorf("%w: node %s branch %s", ErrNoOutgoingEdge, nodeID, branchID)
		}
		return target, nil
	}
	target, ok := g.next[nodeID]
	if !ok {
		return "", fmt.Errorf("%w: node %s", ErrNoOutgoingEdge, nodeID)
	}
	return target, nil
}

// HasSuccessor reports whether nodeID has a plain successor edge.
func (g *Graph) HasSuccessor(nodeID string) bool {
	_, ok := g.next[nodeID]
	return ok
}

package graph

import (
	"errors"
	"fmt"
)

// GraphError describes one violated invariant.
type GraphError struct {
	NodeID string
	Reason string
}

func (e *GraphError) Error() string {
	if e.NodeID == "" {
		return "graph: " + e.Reason
	}
	return fmt.Sprintf("graph: node %s: %s", e.NodeID, e.Reason)
}

func nodeErr(id, format string, args ...any) error {
	return &GraphError{NodeID: id, Reason: fmt.Sprintf(format, args...)}
}

type outgoing struct {
	next     []string
	branches map[string]int
}

// Validate checks every structural invariant and returns all violations joined.
func Validate(nodes []Node, edges []Edge) error {
	if len(nodes) == 0 {
		return &GraphError{Reason: "journey has no nodes"}
	}

	var errs []error
	byID := make(map[string]Node, len(nodes))
	var starts []string

	for i, n := range nodes {
		switch {
		case n.ID == "":
			errs = append(errs, &GraphError{Reason: fmt.Sprintf("nodes[%d] has no id", i)})
			continue
		case n.Spec == nil:
			errs = append(errs, nodeErr(n.ID, "node has no type"))
			continue
		}
		if _, dup := byID[n.ID]; dup {
			errs = append(errs, nodeErr(n.ID, "duplicate node id"))
			continue
		}
		byID[n.ID] = n
		if n.Kind() == KindStart {
			starts = append(starts, n.ID)
		}
	}

	if len(starts) != 1 {
		errs = append(errs, &GraphError{Reason: fmt.Sprintf("expected exactly one START node, found %d", len(starts))})
	}

	out := make(map[string]*outgoing, len(byID))
	for id := range byID {
		out[id] = &outgoing{branches: make(map[string]int)}
	}
	for i, e := range edges {
		src, okSrc := byID[e.Source]
		dst, okDst := byID[e.Target]
		if !okSrc || !okDst {
			errs = append(errs, &GraphError{Reason: fmt.Sprintf("edges[%d] %s -> %s references an unknown node", i, e.Source, e.Target)})
			continue
		}
		if dst.Kind() == KindStart {
			errs = append(errs, nodeErr(src.ID, "edge into START node %s", dst.ID))
		}
		if e.BranchID == "" {
			out[e.Source].next = append(out[e.Source].next, e.Target)
		} else {
			out[e.Source].branches[e.BranchID]++
		}
	}

	for _, n := range nodes {
		if _, ok := byID[n.ID]; !ok || out[n.ID] == nil {
			continue
		}
		errs = append(errs, validateNode(n, out[n.ID], byID)...)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := validateReachable(starts[0], byID, edges); err != nil {
		errs = append(errs, err...)
	}
	if err := validateHoldingCycles(byID, edges); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateNode(n Node, o *outgoing, byID map[string]Node) []error {
	var errs []error

	noBranches := func() {
		if len(o.branches) > 0 {
			errs = append(errs, nodeErr(n.ID, "%s node cannot have branch edges", n.Kind()))
		}
	}
	exactlyOneNext := func() {
		if len(o.next) != 1 {
			errs = append(errs, nodeErr(n.ID, "%s node needs exactly one outgoing edge, has %d", n.Kind(), len(o.next)))
		}
		noBranches()
	}

	switch spec := n.Spec.(type) {
	case Start:
		exactlyOneNext()
	case Message:
		if spec.Channel == "" {
			errs = append(errs, nodeErr(n.ID, "message node needs a channel"))
		}
		if spec.TemplateID == "" {
			errs = append(errs, nodeErr(n.ID, "message node needs a template id"))
		}
		// Zero edges is an implicit exit after the send.
		if len(o.next) > 1 {
			errs = append(errs, nodeErr(n.ID, "message node has %d outgoing edges, at most one allowed", len(o.next)))
		}
		noBranches()
	case TimeDelay:
		if spec.Duration <= 0 {
			errs = append(errs, nodeErr(n.ID, "time delay must be positive"))
		}
		exactlyOneNext()
	case TimeWindow:
		if spec.start == nil || spec.end == nil {
			errs = append(errs, nodeErr(n.ID, "time window cron expressions are not parsed"))
		}
		exactlyOneNext()
	case JumpTo:
		target, ok := byID[spec.TargetID]
		switch {
		case !ok:
			errs = append(errs, nodeErr(n.ID, "jump target %q does not exist", spec.TargetID))
		case target.Kind() == KindStart:
			errs = append(errs, nodeErr(n.ID, "jump target cannot be the START node"))
		case target.ID == n.ID:
			errs = append(errs, nodeErr(n.ID, "node jumps to itself"))
		}
		if len(o.next) > 0 || len(o.branches) > 0 {
			errs = append(errs, nodeErr(n.ID, "jump node cannot have outgoing edges"))
		}
	case Exit:
		if len(o.next) > 0 || len(o.branches) > 0 {
			errs = append(errs, nodeErr(n.ID, "exit node cannot have outgoing edges"))
		}
	case WaitUntil:
		errs = append(errs, validateWait(n.ID, spec, o)...)
	case UserAttribute:
		if len(spec.Statements) == 0 {
			errs = append(errs, nodeErr(n.ID, "user attribute node needs at least one statement"))
		}
		for i, st := range spec.Statements {
			if st.Kind != StatementProperty {
				errs = append(errs, nodeErr(n.ID, "statements[%d] must read a customer PROPERTY", i))
			}
			errs = append(errs, validateStatement(n.ID, i, st)...)
		}
		if len(o.next) > 0 {
			errs = append(errs, nodeErr(n.ID, "user attribute node routes only through %q/%q branch edges", BranchMatched, BranchUnmatched))
		}
		for _, b := range []string{BranchMatched, BranchUnmatched} {
			if o.branches[b] != 1 {
				errs = append(errs, nodeErr(n.ID, "branch %q needs exactly one edge, has %d", b, o.branches[b]))
			}
		}
		for b := range o.branches {
			if b != BranchMatched && b != BranchUnmatched {
				errs = append(errs, nodeErr(n.ID, "unknown branch %q", b))
			}
		}
	default:
		errs = append(errs, nodeErr(n.ID, "unsupported node type %T", spec))
	}
	return errs
}

func validateWait(id string, w WaitUntil, o *outgoing) []error {
	var errs []error
	if len(w.Branches) == 0 {
		errs = append(errs, nodeErr(id, "wait node needs at least one branch"))
	}
	if len(o.next) > 0 {
		errs = append(errs, nodeErr(id, "wait node edges must name a branch"))
	}

	declared := make(map[string]bool, len(w.Branches))
	maxTimes := 0
	for i, b := range w.Branches {
		bid := b.BranchID()
		if bid == "" {
			errs = append(errs, nodeErr(id, "branches[%d] has no id", i))
			continue
		}
		if declared[bid] {
			errs = append(errs, nodeErr(id, "duplicate branch id %q", bid))
		}
		declared[bid] = true
		if n := o.branches[bid]; n != 1 {
			errs = append(errs, nodeErr(id, "branch %q needs exactly one edge, has %d", bid, n))
		}

		switch br := b.(type) {
		case EventBranch:
			if len(br.Conditions) == 0 {
				errs = append(errs, nodeErr(id, "event branch %q has no conditions", bid))
			}
			for j, c := range br.Conditions {
				if c.EventName == "" {
					errs = append(errs, nodeErr(id, "branch %q conditions[%d] has no event name", bid, j))
				}
				if c.Relation != "" && c.Relation != RelationAnd && c.Relation != RelationOr {
					errs = append(errs, nodeErr(id, "branch %q conditions[%d] has unknown relation %q", bid, j, c.Relation))
				}
				for k, st := range c.Statements {
					errs = append(errs, validateStatement(id, k, st)...)
				}
			}
		case MaxTimeBranch:
			maxTimes++
			switch br.TimeKind {
			case TimeDelayKind:
				if br.Delay <= 0 {
					errs = append(errs, nodeErr(id, "max time branch %q needs a positive delay", bid))
				}
			case TimeSpecificDate:
				if br.Date.IsZero() {
					errs = append(errs, nodeErr(id, "max time branch %q needs a date", bid))
				}
			default:
				errs = append(errs, nodeErr(id, "max time branch %q has unknown time kind %q", bid, br.TimeKind))
			}
		default:
			errs = append(errs, nodeErr(id, "unsupported branch type %T", b))
		}
	}
	if maxTimes > 1 {
		errs = append(errs, nodeErr(id, "wait node has %d MAX_TIME branches, at most one allowed", maxTimes))
	}
	for bid := range o.branches {
		if !declared[bid] {
			errs = append(errs, nodeErr(id, "edge for undeclared branch %q", bid))
		}
	}
	return errs
}

func validateStatement(id string, i int, st Statement) []error {
	var errs []error
	if st.Key == "" {
		errs = append(errs, nodeErr(id, "statements[%d] has no property key", i))
	}
	if st.Kind != StatementProperty && st.Kind != StatementEventProperty {
		errs = append(errs, nodeErr(id, "statements[%d] has unknown kind %q", i, st.Kind))
	}
	if !st.Operator.Valid() {
		errs = append(errs, nodeErr(id, "statements[%d] has unknown operator %q", i, st.Operator))
	}
	if st.Operator != OpExists && st.Value == nil {
		errs = append(errs, nodeErr(id, "statements[%d] needs an expected value", i))
	}
	if st.Relation != "" && st.Relation != RelationAnd && st.Relation != RelationOr {
		errs = append(errs, nodeErr(id, "statements[%d] has unknown relation %q", i, st.Relation))
	}
	return errs
}

// successors lists targets of every edge plus JUMP_TO targets.
func successors(byID map[string]Node, edges []Edge) map[string][]string {
	adj := make(map[string][]string, len(byID))
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	for id, n := range byID {
		if jump, ok := n.Spec.(JumpTo); ok {
			adj[id] = append(adj[id], jump.TargetID)
		}
	}
	return adj
}

func validateReachable(startID string, byID map[string]Node, edges []Edge) []error {
	adj := successors(byID, edges)
	seen := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	var errs []error
	for id := range byID {
		if !seen[id] {
			errs = append(errs, nodeErr(id, "node is not reachable from START"))
		}
	}
	return errs
}

// holds reports whether entering the node always parks the customer for a
// non-zero time.
func holds(n Node) bool {
	switch spec := n.Spec.(type) {
	case TimeDelay:
		return true
	case WaitUntil:
		mt, ok := spec.MaxTime()
		return !ok || mt.TimeKind == TimeDelayKind
	}
	return false
}

// validateHoldingCycles rejects cycles that never park the customer, which
// would hop (and send) without bound. It runs a DFS over the graph with
// holding nodes removed.
func validateHoldingCycles(byID map[string]Node, edges []Edge) error {
	adj := successors(byID, edges)

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(byID))

	var dfs func(id string) string
	dfs = func(id string) string {
		state[id] = visiting
		for _, next := range adj[id] {
			if holds(byID[next]) {
				continue
			}
			switch state[next] {
			case visiting:
				return next
			case unvisited:
				if found := dfs(next); found != "" {
					return found
				}
			}
		}
		state[id] = visited
		return ""
	}

	for id, n := range byID {
		if holds(n) || state[id] != unvisited {
			continue
		}
		if found := dfs(id); found != "" {
			return nodeErr(found, "cycle does not pass through a waiting node")
		}
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"journey-engine/internal/domain"
	"journey-engine/internal/graph"
	"journey-engine/internal/ports"
)

// maxConflictRetries is how many times a transition is re-planned on fresh
// state after losing the compare-and-swap.
const maxConflictRetries = 1

// Engine owns every state transition. Router and Scheduler decide *when* a
// customer may move; Engine commits the move and performs the entry action of
// the node that was reached.
type Engine struct {
	states      ports.StateRepository
	timers      ports.TimerStore
	idempotency ports.IdempotencyStore
	customers   ports.CustomerDirectory
	journeys    ports.JourneyRepository
	loader      ports.JourneyDefinitionLoader
	scanner     ports.JourneyScanner
	dispatcher  *Dispatcher
	graphs      *GraphCache
	logger      *slog.Logger
	now         func() time.Time
	wake        chan struct{}
}

// EngineOptions configures the Engine.
type EngineOptions struct {
	States      ports.StateRepository
	Timers      ports.TimerStore
	Idempotency ports.IdempotencyStore
	Customers   ports.CustomerDirectory
	Journeys    ports.JourneyRepository
	Loader      ports.JourneyDefinitionLoader // optional
	Scanner     ports.JourneyScanner          // optional
	Dispatcher  *Dispatcher
	Logger      *slog.Logger
	Clock       func() time.Time
}

// NewEngine creates an Engine with all dependencies injected.
func NewEngine(opts EngineOptions) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		states:      opts.States,
		timers:      opts.Timers,
		idempotency: opts.Idempotency,
		customers:   opts.Customers,
		journeys:    opts.Journeys,
		loader:      opts.Loader,
		scanner:     opts.Scanner,
		dispatcher:  opts.Dispatcher,
		graphs:      NewGraphCache(opts.Journeys),
		logger:      opts.Logger,
		now:         clock,
		wake:        make(chan struct{}, 1),
	}
}

// Wakeups signals when a timer was armed that is already due.
func (e *Engine) Wakeups() <-chan struct{} {
	return e.wake
}

// Graphs exposes the frozen graph cache.
func (e *Engine) Graphs() *GraphCache {
	return e.graphs
}

// Outcome describes one transition attempt.
type Outcome struct {
	Advanced   bool
	FromNodeID string
	State      *domain.CustomerJourneyState
	JobIDs     []string
}

// hop is a move planned against a fresh snapshot.
type hop struct {
	to             string
	branchID       string
	cause          domain.TransitionCause
	eventID        string
	timerID        string
	idempotencyKey string
	event          *domain.Event
	fail           error // graph could not resolve the move
}

// effects are the side effects of entering a node, applied after commit.
type effects struct {
	message        *graph.Message
	timer          *domain.Timer
	entry          domain.TransitionEntry
	idempotencyKey string
	event          *domain.Event
}

type planFunc func(ctx context.Context, state *domain.CustomerJourneyState, g *graph.Graph) (*hop, error)

// advance loads the customer's state, asks plan for a move and commits it
// with compare-and-swap. A lost race is re-planned once on fresh state; if it
// is lost again the move is dropped.
func (e *Engine) advance(ctx context.Context, journeyID, customerID string, plan planFunc) (*Outcome, error) {
	logger := e.logger.With("journey_id", journeyID, "customer_id", customerID)

	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		state, err := e.states.GetJourneyState(ctx, journeyID, customerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logger.Debug("state no longer exists")
				return &Outcome{}, nil
			}
			return nil, &domain.JourneyError{JourneyID: journeyID, CustomerID: customerID, Op: "GetJourneyState", Err: err}
		}
		if state.Status.IsTerminal() {
			return &Outcome{State: state}, nil
		}

		g, err := e.graphs.Get(ctx, journeyID, state.GraphVersion)
		if err != nil {
			return nil, &domain.JourneyError{JourneyID: journeyID, CustomerID: customerID, Op: "LoadGraph", Err: err}
		}

		h, err := plan(ctx, state, g)
		if err != nil {
			return nil, &domain.JourneyError{JourneyID: journeyID, CustomerID: customerID, Op: "Plan", Err: err}
		}
		if h == nil {
			return &Outcome{State: state}, nil
		}

		next, eff := e.enter(state, g, h, e.isActive(ctx, journeyID))
		if eff.message != nil && e.dispatcher.Saturated(ctx) {
			return nil, &domain.JourneyError{JourneyID: journeyID, CustomerID: customerID, Op: "Enqueue", Err: domain.ErrQueueSaturated}
		}

		// Armed before commit: if the commit loses, the timer fires against a
		// different ArmedTimerID and is a no-op.
		if eff.timer != nil {
			if err := e.timers.Arm(ctx, *eff.timer); err != nil {
				return nil, &domain.JourneyError{JourneyID: journeyID, CustomerID: customerID, Op: "ArmTimer", Err: err}
			}
		}

		if err := e.states.CompareAndSwap(ctx, next, state.Version); err != nil {
			if errors.Is(err, domain.ErrTransitionConflict) {
				logger.Debug("transition conflict, re-planning", "attempt", attempt+1, "node_id", state.CurrentNodeID)
				continue
			}
			return nil, &domain.JourneyError{JourneyID: journeyID, CustomerID: customerID, Op: "CompareAndSwap", Err: err}
		}

		logger.Info("customer advanced",
			"from_node", state.CurrentNodeID,
			"to_node", next.CurrentNodeID,
			"branch_id", h.branchID,
			"cause", h.cause,
			"status", next.Status,
		)

		return &Outcome{
			Advanced:   true,
			FromNodeID: state.CurrentNodeID,
			State:      next,
			JobIDs:     e.applyEffects(ctx, next, eff, logger),
		}, nil
	}

	logger.Warn("transition dropped after repeated conflicts", "error", domain.ErrTransitionConflict)
	return &Outcome{}, nil
}

// enter computes the state after moving along h and the entry effects of the
// node reached. It does not touch storage.
func (e *Engine) enter(state *domain.CustomerJourneyState, g *graph.Graph, h *hop, active bool) (*domain.CustomerJourneyState, *effects) {
	now := e.now()

	enteredAt := now
	if h.cause == domain.CauseResume {
		enteredAt = state.EnteredNodeAt
	}

	next := state.Clone()
	next.CurrentNodeID = h.to
	next.Status = domain.StatusActive
	next.EnteredNodeAt = enteredAt
	next.ArmedTimerID = ""
	next.WaitDeadline = nil
	next.UpdatedAt = now
	if h.eventID != "" {
		next.LastProcessedEventID = h.eventID
	}

	eff := &effects{
		idempotencyKey: h.idempotencyKey,
		event:          h.event,
		entry: domain.TransitionEntry{
			FromNodeID: state.CurrentNodeID,
			ToNodeID:   h.to,
			BranchID:   h.branchID,
			Cause:      h.cause,
			EventID:    h.eventID,
			TimerID:    h.timerID,
			At:         now,
		},
	}

	node, ok := g.Node(h.to)
	if h.fail != nil || !ok {
		next.CurrentNodeID = state.CurrentNodeID
		next.Status = domain.StatusErrored
		eff.entry.ToNodeID = state.CurrentNodeID
		eff.entry.Status = next.Status
		e.logger.Error("graph cannot resolve transition",
			"journey_id", state.JourneyID,
			"customer_id", state.CustomerID,
			"node_id", state.CurrentNodeID,
			"target", h.to,
			"error", h.fail,
		)
		return next, eff
	}

	switch spec := node.Spec.(type) {
	case graph.Message:
		eff.message = &spec
		if g.HasSuccessor(node.ID) {
			e.arm(next, eff, domain.TimerContinue, now)
		} else {
			next.Status = domain.StatusExited
		}
	case graph.WaitUntil:
		next.Status = domain.StatusWaiting
		if mt, ok := spec.MaxTime(); ok && active {
			deadline := mt.Deadline(enteredAt)
			next.WaitDeadline = &deadline
			e.arm(next, eff, domain.TimerMaxTime, deadline)
		}
	case graph.TimeDelay:
		next.Status = domain.StatusWaiting
		if active {
			e.arm(next, eff, domain.TimerDelay, enteredAt.Add(spec.Duration))
		}
	case graph.TimeWindow:
		if spec.Contains(now) {
			e.arm(next, eff, domain.TimerContinue, now)
			break
		}
		next.Status = domain.StatusWaiting
		if active {
			e.arm(next, eff, domain.TimerWindow, spec.NextOpen(now))
		}
	case graph.Exit:
		next.Status = domain.StatusExited
	default:
		// START, JUMP_TO and USER_ATTRIBUTE resolve on the next hop.
		e.arm(next, eff, domain.TimerContinue, now)
	}

	eff.entry.Status = next.Status
	return next, eff
}

func (e *Engine) arm(state *domain.CustomerJourneyState, eff *effects, kind domain.TimerKind, due time.Time) {
	t := domain.Timer{
		ID:         uuid.NewString(),
		CustomerID: state.CustomerID,
		JourneyID:  state.JourneyID,
		NodeID:     state.CurrentNodeID,
		Kind:       kind,
		DueAt:      due,
	}
	state.ArmedTimerID = t.ID
	eff.timer = &t
}

// applyEffects runs the post-commit side effects. Failures are logged and
// never undo the committed position.
func (e *Engine) applyEffects(ctx context.Context, state *domain.CustomerJourneyState, eff *effects, logger *slog.Logger) []string {
	var jobIDs []string

	if eff.message != nil {
		req := EnqueueRequest{
			CustomerID: state.CustomerID,
			JourneyID:  state.JourneyID,
			NodeID:     state.CurrentNodeID,
			Channel:    eff.message.Channel,
			TemplateID: eff.message.TemplateID,
		}
		if eff.event != nil {
			req.CorrelationKey = eff.event.CorrelationKey
			req.CorrelationValue = eff.event.CorrelationValue
		}
		jobID, err := e.dispatcher.Enqueue(ctx, req)
		if jobID != "" {
			jobIDs = append(jobIDs, jobID)
			eff.entry.JobID = jobID
		}
		if err != nil {
			logger.Error("failed to enqueue dispatch job", "node_id", state.CurrentNodeID, "job_id", jobID, "error", err)
		}
	}

	if err := e.states.AppendHistory(ctx, state.JourneyID, state.CustomerID, eff.entry); err != nil {
		logger.Warn("failed to append history", "error", err)
	}

	if eff.idempotencyKey != "" {
		if _, err := e.idempotency.Mark(ctx, eff.idempotencyKey); err != nil {
			logger.Warn("failed to mark event processed", "key", eff.idempotencyKey, "error", err)
		}
	}

	if eff.timer != nil && !eff.timer.DueAt.After(e.now()) {
		e.signal()
	}

	return jobIDs
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// isActive treats lookup failures as active so a transient store error does
// not strand customers without timers.
func (e *Engine) isActive(ctx context.Context, journeyID string) bool {
	_, err := e.journeys.ActiveVersion(ctx, journeyID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrJourneyInactive), errors.Is(err, domain.ErrNotFound):
		return false
	default:
		e.logger.Warn("failed to read journey activation", "journey_id", journeyID, "error", err)
		return true
	}
}

// attributes returns the customer's snapshot. An unknown customer has no
// attributes; any other lookup failure is returned.
func (e *Engine) attributes(ctx context.Context, customerID string) (map[string]any, error) {
	attrs, err := e.customers.GetAttributes(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("load customer attributes: %w", err)
	}
	return attrs, nil
}

// ApplyEvent advances a customer waiting at a WAIT_UNTIL node if event
// matches one of its EVENT branches. Duplicate deliveries, late events and
// non-matching events are no-ops.
func (e *Engine) ApplyEvent(ctx context.Context, journeyID, customerID string, event domain.Event, attributes map[string]any) (*Outcome, error) {
	return e.advance(ctx, journeyID, customerID, func(ctx context.Context, state *domain.CustomerJourneyState, g *graph.Graph) (*hop, error) {
		if state.Status != domain.StatusWaiting {
			return nil, nil
		}
		node, ok := g.Node(state.CurrentNodeID)
		if !ok {
			return nil, nil
		}
		wait, ok := node.Spec.(graph.WaitUntil)
		if !ok {
			return nil, nil
		}
		if state.DeadlinePassed(e.now()) {
			e.logger.Debug("event arrived after wait deadline",
				"journey_id", journeyID, "customer_id", customerID, "event_id", event.ID)
			return nil, nil
		}

		key := event.IdempotencyKey(customerID, node.ID)
		seen, err := e.idempotency.Seen(ctx, key)
		if err != nil {
			return nil, err
		}
		if seen {
			e.logger.Debug("duplicate event ignored",
				"journey_id", journeyID, "customer_id", customerID, "event_id", event.ID)
			return nil, nil
		}

		result := FindMatchingBranch(wait, attributes, event)
		if !result.Matched {
			return nil, nil
		}

		h := &hop{
			branchID:       result.Branch.BranchID(),
			cause:          domain.CauseEvent,
			eventID:        event.ID,
			idempotencyKey: key,
			event:          &event,
		}
		h.to, h.fail = g.NextNode(node.ID, h.branchID)
		return h, nil
	})
}

// FireTimer releases the customer held by timer. The firing is a no-op
// unless the state still sits at the timer's node with the same armed timer.
func (e *Engine) FireTimer(ctx context.Context, timer domain.Timer) (*Outcome, error) {
	return e.advance(ctx, timer.JourneyID, timer.CustomerID, func(ctx context.Context, state *domain.CustomerJourneyState, g *graph.Graph) (*hop, error) {
		if state.CurrentNodeID != timer.NodeID || state.ArmedTimerID != timer.ID {
			return nil, nil
		}
		node, ok := g.Node(state.CurrentNodeID)
		if !ok {
			return &hop{to: state.CurrentNodeID, cause: domain.CauseTimer, timerID: timer.ID,
				fail: graph.ErrUnknownNode}, nil
		}

		h := &hop{cause: domain.CauseTimer, timerID: timer.ID}
		if timer.Kind == domain.TimerContinue {
			h.cause = domain.CauseContinue
		}

		switch spec := node.Spec.(type) {
		case graph.WaitUntil:
			mt, ok := spec.MaxTime()
			if !ok {
				return nil, nil
			}
			h.branchID = mt.ID
		case graph.TimeWindow:
			// A late firing can land after the window closed again.
			if timer.Kind == domain.TimerWindow && !spec.Contains(e.now()) {
				h.to = node.ID
				return h, nil
			}
		case graph.UserAttribute:
			attrs, err := e.attributes(ctx, state.CustomerID)
			if err != nil {
				return nil, err
			}
			h.branchID = graph.BranchUnmatched
			if EvaluateStatements(spec.Statements, attrs, nil) {
				h.branchID = graph.BranchMatched
			}
		}

		h.to, h.fail = g.NextNode(node.ID, h.branchID)
		return h, nil
	})
}

// AbandonTimer marks the customer held by timer ERRORED after its firing
// kept failing. It needs no graph, so it also works when the pinned version
// can no longer be loaded. A timer that no longer matches the state is
// ignored.
func (e *Engine) AbandonTimer(ctx context.Context, timer domain.Timer, cause error) error {
	state, err := e.states.GetJourneyState(ctx, timer.JourneyID, timer.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return &domain.JourneyError{JourneyID: timer.JourneyID, CustomerID: timer.CustomerID, Op: "GetJourneyState", Err: err}
	}
	if state.Status.IsTerminal() || state.ArmedTimerID != timer.ID {
		return nil
	}

	now := e.now()
	next := state.Clone()
	next.Status = domain.StatusErrored
	next.ArmedTimerID = ""
	next.WaitDeadline = nil
	next.UpdatedAt = now

	if err := e.states.CompareAndSwap(ctx, next, state.Version); err != nil {
		if errors.Is(err, domain.ErrTransitionConflict) {
			return nil
		}
		return &domain.JourneyError{JourneyID: timer.JourneyID, CustomerID: timer.CustomerID, Op: "CompareAndSwap", Err: err}
	}

	e.logger.Error("timer abandoned, customer marked errored",
		"journey_id", timer.JourneyID,
		"customer_id", timer.CustomerID,
		"node_id", state.CurrentNodeID,
		"timer_id", timer.ID,
		"attempts", timer.Attempts,
		"error", cause,
	)
	entry := domain.TransitionEntry{
		FromNodeID: state.CurrentNodeID,
		ToNodeID:   state.CurrentNodeID,
		Cause:      domain.CauseTimer,
		TimerID:    timer.ID,
		Status:     domain.StatusErrored,
		At:         now,
	}
	if err := e.states.AppendHistory(ctx, timer.JourneyID, timer.CustomerID, entry); err != nil {
		e.logger.Warn("failed to append history", "journey_id", timer.JourneyID, "customer_id", timer.CustomerID, "error", err)
	}
	return nil
}

// enroll places a new customer at the graph's entry node.
func (e *Engine) enroll(ctx context.Context, g *graph.Graph, customerID string) (*Outcome, error) {
	now := e.now()
	base := &domain.CustomerJourneyState{
		CustomerID:    customerID,
		JourneyID:     g.JourneyID(),
		GraphVersion:  g.Version(),
		CurrentNodeID: g.StartID(),
		Status:        domain.StatusActive,
		EnteredNodeAt: now,
		EnrolledAt:    now,
	}
	logger := e.logger.With("journey_id", g.JourneyID(), "customer_id", customerID)

	next, eff := e.enter(base, g, &hop{to: g.EntryNode(), cause: domain.CauseEnroll}, true)
	if eff.message != nil && e.dispatcher.Saturated(ctx) {
		return nil, &domain.JourneyError{JourneyID: g.JourneyID(), CustomerID: customerID, Op: "Enqueue", Err: domain.ErrQueueSaturated}
	}
	if eff.timer != nil {
		if err := e.timers.Arm(ctx, *eff.timer); err != nil {
			return nil, &domain.JourneyError{JourneyID: g.JourneyID(), CustomerID: customerID, Op: "ArmTimer", Err: err}
		}
	}

	if err := e.states.CreateJourneyState(ctx, next); err != nil {
		return nil, &domain.JourneyError{JourneyID: g.JourneyID(), CustomerID: customerID, Op: "CreateJourneyState", Err: err}
	}

	logger.Info("customer enrolled", "node_id", next.CurrentNodeID, "status", next.Status, "graph_version", g.Version())

	return &Outcome{
		Advanced:   true,
		FromNodeID: g.StartID(),
		State:      next,
		JobIDs:     e.applyEffects(ctx, next, eff, logger),
	}, nil
}

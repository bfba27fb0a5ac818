package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journey-engine/internal/domain"
)

func TestEngine_EventAdvancesThroughMessageToExit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)

	res := h.activate(t, signupJourney, "c1")
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, []string{"c1"}, res.Enrolled)
	assert.Empty(t, res.JobIDs)

	st := h.state(t, "signup", "c1")
	assert.Equal(t, "wait", st.CurrentNodeID)
	assert.Equal(t, domain.StatusWaiting, st.Status)
	require.NotNil(t, st.WaitDeadline)
	assert.Equal(t, h.clock.Now().Add(time.Hour), *st.WaitDeadline)
	assert.NotEmpty(t, st.ArmedTimerID)

	out := h.ingest(t, "evt-1", "signup_verified", "c1", nil)
	require.Len(t, out.Advances, 1)
	assert.Equal(t, "wait", out.Advances[0].FromNodeID)
	assert.Equal(t, "welcome", out.Advances[0].ToNodeID)
	assert.Equal(t, []string{"c1"}, out.AdvancedCustomers())
	require.Len(t, out.JobIDs(), 1)

	jobID := out.JobIDs()[0]
	status, err := h.dispatcher.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, status)

	stats := h.settle(t)
	assert.Equal(t, 1, stats.Advanced)

	st = h.state(t, "signup", "c1")
	assert.Equal(t, "done", st.CurrentNodeID)
	assert.Equal(t, domain.StatusExited, st.Status)
	assert.Equal(t, "evt-1", st.LastProcessedEventID)

	history := h.history(t, "signup", "c1")
	require.Len(t, history, 3)
	assert.Equal(t, domain.CauseEnroll, history[0].Cause)
	assert.Equal(t, domain.CauseEvent, history[1].Cause)
	assert.Equal(t, "verified", history[1].BranchID)
	assert.Equal(t, jobID, history[1].JobID)
	assert.Equal(t, domain.CauseContinue, history[2].Cause)

	drained, err := h.dispatcher.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, drained.Processed)

	sent := h.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "welcome", sent[0].TemplateID)
	assert.Equal(t, "c1", sent[0].CustomerID)

	status, err = h.dispatcher.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, status)
}

func TestEngine_MaxTimeTakesTimeoutBranch(t *testing.T) {
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")

	assert.Zero(t, h.settle(t).Fired)

	h.clock.Advance(61 * time.Minute)
	stats := h.settle(t)
	assert.Equal(t, 2, stats.Advanced)

	st := h.state(t, "signup", "c1")
	assert.Equal(t, "done", st.CurrentNodeID)
	assert.Equal(t, domain.StatusExited, st.Status)

	history := h.history(t, "signup", "c1")
	require.Len(t, history, 3)
	assert.Equal(t, domain.CauseTimer, history[1].Cause)
	assert.Equal(t, "timeout", history[1].BranchID)
	assert.Equal(t, "reminder", history[1].ToNodeID)
	assert.NotEmpty(t, history[1].JobID)
}

func TestEngine_EventAfterDeadlineIsIgnored(t *testing.T) {
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")

	h.clock.Advance(time.Hour)
	out := h.ingest(t, "late", "signup_verified", "c1", nil)
	assert.Empty(t, out.Advances)
	assert.Equal(t, "wait", h.state(t, "signup", "c1").CurrentNodeID)

	h.settle(t)
	history := h.history(t, "signup", "c1")
	assert.Equal(t, "reminder", history[1].ToNodeID)
}

func TestEngine_NonMatchingEventAndImplicitExit(t *testing.T) {
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")

	out := h.ingest(t, "small", "purchase", "c1", map[string]any{"amount": 5})
	assert.Empty(t, out.Advances)

	out = h.ingest(t, "big", "purchase", "c1", map[string]any{"amount": 50})
	require.Len(t, out.Advances, 1)
	assert.Equal(t, "thanks", out.Advances[0].ToNodeID)
	assert.Equal(t, domain.StatusExited, out.Advances[0].Status)
	assert.Len(t, out.JobIDs(), 1)

	// The old max time timer fires against a terminal state.
	h.clock.Advance(2 * time.Hour)
	stats := h.settle(t)
	assert.Equal(t, 1, stats.Stale)
	assert.Zero(t, stats.Advanced)
	assert.Equal(t, "thanks", h.state(t, "signup", "c1").CurrentNodeID)
}

func TestEngine_DuplicateEventIsIdempotent(t *testing.T) {
	h := newHarness(t, 100)
	h.activate(t, loopJourney, "c1")

	out := h.ingest(t, "e1", "ping", "c1", nil)
	require.Len(t, out.Advances, 1)

	// Redelivered while the customer is between nodes.
	assert.Empty(t, h.ingest(t, "e1", "ping", "c1", nil).Advances)

	h.settle(t)
	st := h.state(t, "loop", "c1")
	require.Equal(t, "wait", st.CurrentNodeID)
	require.Equal(t, domain.StatusWaiting, st.Status)

	// Same event id at the same node is a no-op even after looping back.
	assert.Empty(t, h.ingest(t, "e1", "ping", "c1", nil).Advances)

	out = h.ingest(t, "e2", "ping", "c1", nil)
	require.Len(t, out.Advances, 1)
	assert.Equal(t, "pong", out.Advances[0].ToNodeID)
}

func TestEngine_TimerAndEventRaceCommitsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")

	st := h.state(t, "signup", "c1")
	timer := domain.Timer{
		ID:         st.ArmedTimerID,
		CustomerID: "c1",
		JourneyID:  "signup",
		NodeID:     "wait",
		Kind:       domain.TimerMaxTime,
		DueAt:      *st.WaitDeadline,
	}
	event := domain.Event{ID: "e1", Name: "signup_verified"}

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		outcomes[0], errs[0] = h.engine.FireTimer(ctx, timer)
	}()
	go func() {
		defer wg.Done()
		outcomes[1], errs[1] = h.engine.ApplyEvent(ctx, "signup", "c1", event, nil)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	advanced := 0
	for _, out := range outcomes {
		if out.Advanced {
			advanced++
		}
	}
	assert.Equal(t, 1, advanced)

	final := h.state(t, "signup", "c1")
	assert.Contains(t, []string{"welcome", "reminder"}, final.CurrentNodeID)
	assert.Equal(t, int64(2), final.Version)
	assert.Len(t, h.history(t, "signup", "c1"), 2)
}

func TestEngine_ConcurrentEventsTakeOneBranch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")

	events := []domain.Event{
		{ID: "a", Name: "signup_verified"},
		{ID: "b", Name: "purchase", Payload: map[string]any{"amount": 99}},
	}

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, len(events))
	for i, ev := range events {
		wg.Add(1)
		go func(i int, ev domain.Event) {
			defer wg.Done()
			out, err := h.engine.ApplyEvent(ctx, "signup", "c1", ev, nil)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i, ev)
	}
	wg.Wait()

	advanced := 0
	for _, out := range outcomes {
		if out != nil && out.Advanced {
			advanced++
		}
	}
	assert.Equal(t, 1, advanced)

	// The first commit wins and the final position is that branch's target.
	targets := map[string]string{"verified": "welcome", "purchased": "thanks"}
	var taken []domain.TransitionEntry
	for _, entry := range h.history(t, "signup", "c1") {
		if entry.Cause == domain.CauseEvent {
			taken = append(taken, entry)
		}
	}
	require.Len(t, taken, 1)
	final := h.state(t, "signup", "c1")
	assert.Equal(t, targets[taken[0].BranchID], final.CurrentNodeID)
	assert.Equal(t, taken[0].EventID, final.LastProcessedEventID)
}

const overlapJourney = `
journey:
  id: overlap
nodes:
  - id: start
    type: START
  - id: wait
    type: WAIT_UNTIL
    branches:
      - id: any_purchase
        type: EVENT
        conditions:
          - event: purchase
      - id: big_purchase
        type: EVENT
        conditions:
          - event: purchase
            statements:
              - kind: EVENT_PROPERTY
                key: amount
                operator: GREATER_THAN
                value: 100
  - id: thanks
    type: EXIT
  - id: vip
    type: EXIT
edges:
  - {from: start, to: wait}
  - {from: wait, to: thanks, branch: any_purchase}
  - {from: wait, to: vip, branch: big_purchase}
`

func TestEngine_OverlappingBranchesTakeLowestIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.activate(t, overlapJourney, "c1", "c2")

	// Both branches match; the first declared one wins.
	out, err := h.engine.ApplyEvent(ctx, "overlap", "c1", domain.Event{
		ID: "e1", Name: "purchase", Payload: map[string]any{"amount": 500},
	}, nil)
	require.NoError(t, err)
	require.True(t, out.Advanced)

	st := h.state(t, "overlap", "c1")
	assert.Equal(t, "thanks", st.CurrentNodeID)
	history := h.history(t, "overlap", "c1")
	assert.Equal(t, "any_purchase", history[len(history)-1].BranchID)

	res := h.ingest(t, "e2", "purchase", "c2", map[string]any{"amount": 5})
	require.Len(t, res.Advances, 1)
	assert.Equal(t, "thanks", res.Advances[0].ToNodeID)
}

func TestRouter_RejectsWhenQueueSaturated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1)
	h.activate(t, signupJourney, "c1")
	require.NoError(t, h.queue.Push(ctx, "occupied"))

	before := h.state(t, "signup", "c1")
	_, err := h.router.Ingest(ctx, domain.Event{
		Name:             "signup_verified",
		CorrelationKey:   "customer_id",
		CorrelationValue: "c1",
	})
	require.ErrorIs(t, err, domain.ErrQueueSaturated)

	after := h.state(t, "signup", "c1")
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, "wait", after.CurrentNodeID)
}

func TestRouter_Correlation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")
	require.NoError(t, h.engine.UpsertCustomer(ctx, domain.Customer{
		ID:         "c1",
		Identities: map[string]string{"email": "ana@example.com"},
	}))

	res, err := h.router.Ingest(ctx, domain.Event{
		Name:             "signup_verified",
		CorrelationKey:   "email",
		CorrelationValue: "nobody@example.com",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Advances)
	assert.Empty(t, res.AdvancedCustomers())
	assert.NotEmpty(t, res.EventID)

	res, err = h.router.Ingest(ctx, domain.Event{
		Name:             "signup_verified",
		CorrelationKey:   "email",
		CorrelationValue: "ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.CustomerID)
	require.Len(t, res.Advances, 1)
}

func TestRouter_FansOutAcrossJourneys(t *testing.T) {
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")
	h.activate(t, loopJourney, "c1")

	res := h.ingest(t, "p1", "ping", "c1", nil)
	require.Len(t, res.Advances, 1)
	assert.Equal(t, "loop", res.Advances[0].JourneyID)
	assert.Equal(t, "wait", h.state(t, "signup", "c1").CurrentNodeID)
}

func TestEngine_DeactivationHoldsTimersUntilReactivated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.activate(t, loopJourney, "c1")

	require.NoError(t, h.engine.Deactivate(ctx, "loop"))

	_, err := h.engine.Enroll(ctx, "loop", []string{"c2"})
	require.ErrorIs(t, err, domain.ErrJourneyInactive)

	// In-flight customers still move on events and continuations.
	require.Len(t, h.ingest(t, "e1", "ping", "c1", nil).Advances, 1)
	h.settle(t)

	st := h.state(t, "loop", "c1")
	assert.Equal(t, "wait", st.CurrentNodeID)
	assert.Equal(t, domain.StatusWaiting, st.Status)
	assert.Empty(t, st.ArmedTimerID)
	assert.Nil(t, st.WaitDeadline)

	h.clock.Advance(2 * time.Hour)
	assert.Zero(t, h.settle(t).Advanced)

	res := h.activate(t, loopJourney)
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, 1, res.Resumed)

	st = h.state(t, "loop", "c1")
	assert.NotEmpty(t, st.ArmedTimerID)
	assert.Equal(t, 1, st.GraphVersion)

	h.settle(t)
	st = h.state(t, "loop", "c1")
	assert.Equal(t, "done", st.CurrentNodeID)
	assert.Equal(t, domain.StatusExited, st.Status)
}

func TestEngine_TimeDelay(t *testing.T) {
	h := newHarness(t, 100)
	h.activate(t, dripJourney, "c1")

	st := h.state(t, "drip", "c1")
	assert.Equal(t, "pause", st.CurrentNodeID)
	assert.Equal(t, domain.StatusWaiting, st.Status)

	h.clock.Advance(29 * time.Minute)
	assert.Zero(t, h.settle(t).Fired)

	h.clock.Advance(time.Minute)
	h.settle(t)
	assert.Equal(t, "done", h.state(t, "drip", "c1").CurrentNodeID)

	jobs := 0
	for _, entry := range h.history(t, "drip", "c1") {
		if entry.JobID != "" {
			jobs++
		}
	}
	assert.Equal(t, 1, jobs)
}

func TestEngine_TimeWindowAndUserAttribute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.clock.Set(time.Date(2026, 1, 5, 20, 0, 0, 0, time.Local))

	require.NoError(t, h.engine.UpsertCustomer(ctx, domain.Customer{ID: "pro", Attributes: map[string]any{"plan": "pro"}}))
	require.NoError(t, h.engine.UpsertCustomer(ctx, domain.Customer{ID: "free", Attributes: map[string]any{"plan": "free"}}))

	h.activate(t, hoursJourney, "pro", "free")
	for _, id := range []string{"pro", "free"} {
		st := h.state(t, "hours", id)
		assert.Equal(t, "office", st.CurrentNodeID)
		assert.Equal(t, domain.StatusWaiting, st.Status)
	}
	assert.Zero(t, h.settle(t).Fired)

	h.clock.Set(time.Date(2026, 1, 6, 9, 0, 0, 0, time.Local))
	h.settle(t)

	pro := h.state(t, "hours", "pro")
	assert.Equal(t, "vip_sms", pro.CurrentNodeID)
	assert.Equal(t, domain.StatusExited, pro.Status)

	free := h.state(t, "hours", "free")
	assert.Equal(t, "done", free.CurrentNodeID)

	history := h.history(t, "hours", "pro")
	assert.Equal(t, "matched", history[len(history)-1].BranchID)
}

func TestEngine_LateWindowFiringRearms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.clock.Set(time.Date(2026, 1, 5, 20, 0, 0, 0, time.Local))
	h.activate(t, hoursJourney, "c1")

	first := h.state(t, "hours", "c1")

	// The 09:00 firing is only picked up after the window closed.
	h.clock.Set(time.Date(2026, 1, 6, 18, 0, 0, 0, time.Local))
	out, err := h.engine.FireTimer(ctx, domain.Timer{
		ID:         first.ArmedTimerID,
		CustomerID: "c1",
		JourneyID:  "hours",
		NodeID:     "office",
		Kind:       domain.TimerWindow,
	})
	require.NoError(t, err)
	assert.True(t, out.Advanced)

	st := h.state(t, "hours", "c1")
	assert.Equal(t, "office", st.CurrentNodeID)
	assert.Equal(t, domain.StatusWaiting, st.Status)
	assert.NotEqual(t, first.ArmedTimerID, st.ArmedTimerID)
}

func TestEngine_StaleTimerIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.activate(t, signupJourney, "c1")

	out, err := h.engine.FireTimer(ctx, domain.Timer{
		ID: "someone-else", CustomerID: "c1", JourneyID: "signup", NodeID: "wait", Kind: domain.TimerMaxTime,
	})
	require.NoError(t, err)
	assert.False(t, out.Advanced)

	out, err = h.engine.FireTimer(ctx, domain.Timer{
		ID: "gone", CustomerID: "nobody", JourneyID: "signup", NodeID: "wait", Kind: domain.TimerMaxTime,
	})
	require.NoError(t, err)
	assert.False(t, out.Advanced)
}

func TestEngine_UnknownNodeMarksErrored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.activate(t, signupJourney)

	require.NoError(t, h.states.CreateJourneyState(ctx, &domain.CustomerJourneyState{
		CustomerID:    "c9",
		JourneyID:     "signup",
		GraphVersion:  1,
		CurrentNodeID: "ghost",
		Status:        domain.StatusWaiting,
		ArmedTimerID:  "t-ghost",
	}))

	out, err := h.engine.FireTimer(ctx, domain.Timer{
		ID: "t-ghost", CustomerID: "c9", JourneyID: "signup", NodeID: "ghost", Kind: domain.TimerDelay,
	})
	require.NoError(t, err)
	assert.True(t, out.Advanced)

	st := h.state(t, "signup", "c9")
	assert.Equal(t, domain.StatusErrored, st.Status)
	assert.Equal(t, "ghost", st.CurrentNodeID)
}

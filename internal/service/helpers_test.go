package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"journey-engine/internal/adapters/memory"
	"journey-engine/internal/config"
	"journey-engine/internal/domain"
	"journey-engine/internal/logging"
)

const signupJourney = `
journey:
  id: signup
nodes:
  - id: start
    type: START
  - id: wait
    type: WAIT_UNTIL
    branches:
      - id: verified
        type: EVENT
        conditions:
          - event: signup_verified
      - id: purchased
        type: EVENT
        conditions:
          - event: purchase
            statements:
              - kind: EVENT_PROPERTY
                key: amount
                operator: GREATER_THAN
                value: 10
      - id: timeout
        type: MAX_TIME
        delay:
          minutes: 60
  - id: welcome
    type: MESSAGE
    channel: email
    template: welcome
  - id: reminder
    type: MESSAGE
    channel: email
    template: reminder
  - id: thanks
    type: MESSAGE
    channel: sms
    template: thanks
  - id: done
    type: EXIT
edges:
  - {from: start, to: wait}
  - {from: wait, to: welcome, branch: verified}
  - {from: wait, to: thanks, branch: purchased}
  - {from: wait, to: reminder, branch: timeout}
  - {from: welcome, to: done}
  - {from: reminder, to: done}
`

const loopJourney = `
journey:
  id: loop
nodes:
  - id: start
    type: START
  - id: wait
    type: WAIT_UNTIL
    branches:
      - id: ping
        type: EVENT
        conditions:
          - event: ping
      - id: timeout
        type: MAX_TIME
        delay:
          minutes: 30
  - id: pong
    type: MESSAGE
    channel: push
    template: pong
  - id: again
    type: JUMP_TO
    target: wait
  - id: done
    type: EXIT
edges:
  - {from: start, to: wait}
  - {from: wait, to: pong, branch: ping}
  - {from: wait, to: done, branch: timeout}
  - {from: pong, to: again}
`

const dripJourney = `
journey:
  id: drip
nodes:
  - id: start
    type: START
  - id: pause
    type: TIME_DELAY
    delay:
      minutes: 30
  - id: nudge
    type: MESSAGE
    channel: email
    template: nudge
  - id: done
    type: EXIT
edges:
  - {from: start, to: pause}
  - {from: pause, to: nudge}
  - {from: nudge, to: done}
`

const hoursJourney = `
journey:
  id: hours
nodes:
  - id: start
    type: START
  - id: office
    type: TIME_WINDOW
    window:
      start: "0 9 * * *"
      end: "0 17 * * *"
  - id: vip
    type: USER_ATTRIBUTE
    statements:
      - kind: PROPERTY
        key: plan
        operator: EQUALS
        value: pro
  - id: vip_sms
    type: MESSAGE
    channel: sms
    template: vip
  - id: done
    type: EXIT
edges:
  - {from: start, to: office}
  - {from: office, to: vip}
  - {from: vip, to: vip_sms, branch: matched}
  - {from: vip, to: done, branch: unmatched}
`

// archiveTTL is how long the harness keeps finished customers.
const archiveTTL = 24 * time.Hour

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []domain.Message
	err  error
}

func (m *recordingMessenger) Send(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMessenger) Sent() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.sent...)
}

type harness struct {
	engine     *Engine
	router     *Router
	scheduler  *Scheduler
	dispatcher *Dispatcher

	states    *memory.StateStore
	timers    *memory.TimerStore
	jobs      *memory.JobStore
	queue     *memory.Queue
	customers *memory.CustomerDirectory
	journeys  *memory.JourneyStore
	clock     *fakeClock
	messenger *recordingMessenger
}

type harnessOption func(*DispatcherOptions)

func withAwaitCallback() harnessOption {
	return func(o *DispatcherOptions) { o.AwaitCallback = true }
}

func newHarness(t *testing.T, capacity int64, opts ...harnessOption) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 1, 5, 12, 0, 0, 0, time.Local)}
	h := &harness{
		states:    memory.NewStateStore(memory.WithArchiveTTL(archiveTTL, clock.Now)),
		timers:    memory.NewTimerStore(),
		jobs:      memory.NewJobStore(),
		queue:     memory.NewQueue(capacity),
		customers: memory.NewCustomerDirectory(),
		journeys:  memory.NewJourneyStore(),
		clock:     clock,
		messenger: &recordingMessenger{},
	}
	logger := logging.Discard()

	dopts := DispatcherOptions{
		Jobs:      h.jobs,
		Queue:     h.queue,
		Messenger: h.messenger,
		Customers: h.customers,
		Capacity:  capacity,
		Workers:   1,
		Logger:    logger,
		Clock:     h.clock.Now,
	}
	for _, opt := range opts {
		opt(&dopts)
	}
	h.dispatcher = NewDispatcher(dopts)

	h.engine = NewEngine(EngineOptions{
		States:      h.states,
		Timers:      h.timers,
		Idempotency: memory.NewIdempotencyStore(),
		Customers:   h.customers,
		Journeys:    h.journeys,
		Scanner:     h.states,
		Dispatcher:  h.dispatcher,
		Logger:      logger,
		Clock:       h.clock.Now,
	})
	h.router = NewRouter(h.engine, logger)
	h.scheduler = NewScheduler(h.engine, h.timers, 50, time.Minute, logger)
	return h
}

func parseDefinition(t *testing.T, doc string) *config.JourneyDefinition {
	t.Helper()
	def, err := config.ParseJourneyDefinition([]byte(doc))
	require.NoError(t, err)
	return def
}

func (h *harness) activate(t *testing.T, doc string, members ...string) *ActivationResult {
	t.Helper()
	res, err := h.engine.Activate(context.Background(), ActivationRequest{
		Definition: parseDefinition(t, doc),
		Members:    members,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) state(t *testing.T, journeyID, customerID string) *domain.CustomerJourneyState {
	t.Helper()
	st, err := h.states.GetJourneyState(context.Background(), journeyID, customerID)
	require.NoError(t, err)
	return st
}

func (h *harness) settle(t *testing.T) TickStats {
	t.Helper()
	stats, err := h.scheduler.RunDue(context.Background())
	require.NoError(t, err)
	return stats
}

func (h *harness) ingest(t *testing.T, id, name, customerID string, payload map[string]any) *IngestResult {
	t.Helper()
	res, err := h.router.Ingest(context.Background(), domain.Event{
		ID:               id,
		Name:             name,
		CorrelationKey:   "customer_id",
		CorrelationValue: customerID,
		Payload:          payload,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) history(t *testing.T, journeyID, customerID string) []domain.TransitionEntry {
	t.Helper()
	hist, err := h.states.GetHistory(context.Background(), journeyID, customerID)
	require.NoError(t, err)
	return hist.Entries
}

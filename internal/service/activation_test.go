package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
	"journey-engine/internal/graph"
)

type staticLoader map[string]*config.JourneyDefinition

func (l staticLoader) LoadJourneyDefinition(journeyID string) (*config.JourneyDefinition, error) {
	def, ok := l[journeyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return def, nil
}

func TestActivate_InvalidGraphStoresNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	def := parseDefinition(t, signupJourney)
	def.Nodes = append(def.Nodes, config.NodeDefinition{ID: "orphan", Type: "EXIT"})
	_, err := h.engine.Activate(ctx, ActivationRequest{Definition: def, Members: []string{"c1"}})
	require.Error(t, err)

	var ge *graph.GraphError
	require.True(t, errors.As(err, &ge))
	assert.Contains(t, err.Error(), "orphan")

	_, err = h.journeys.ActiveVersion(ctx, "signup")
	require.ErrorIs(t, err, domain.ErrJourneyInactive)
	_, err = h.states.GetJourneyState(ctx, "signup", "c1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivate_UsesLoader(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	_, err := h.engine.Activate(ctx, ActivationRequest{JourneyID: "signup"})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	h.engine.loader = staticLoader{"signup": parseDefinition(t, signupJourney)}
	res, err := h.engine.Activate(ctx, ActivationRequest{JourneyID: "signup", Members: []string{"c1"}})
	require.NoError(t, err)
	assert.Equal(t, "signup", res.JourneyID)
	assert.Equal(t, []string{"c1"}, res.Enrolled)

	_, err = h.engine.Activate(ctx, ActivationRequest{JourneyID: "missing"})
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "missing", ce.ConfigName)

	_, err = h.engine.Activate(ctx, ActivationRequest{JourneyID: "other", Definition: parseDefinition(t, signupJourney)})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestEnroll_SkipsExistingCustomers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.activate(t, dripJourney, "c1")

	res, err := h.engine.Enroll(ctx, "drip", []string{"c1", "c2", "c2", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, res.Enrolled)
	assert.Equal(t, []string{"c1"}, res.Skipped)
}

func TestEnroll_MessageEntryReturnsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	res, err := h.engine.Activate(ctx, ActivationRequest{Definition: helloDefinition(), Members: []string{"c1"}})
	require.NoError(t, err)
	require.Len(t, res.JobIDs, 1)

	job, err := h.dispatcher.GetJob(ctx, res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "nudge", job.NodeID)
	assert.Equal(t, domain.JobQueued, job.Status)
}

func helloDefinition() *config.JourneyDefinition {
	return &config.JourneyDefinition{
		Journey: config.Journey{ID: "hello"},
		Nodes: []config.NodeDefinition{
			{ID: "start", Type: "START"},
			{ID: "nudge", Type: "MESSAGE", Channel: "email", Template: "hello"},
			{ID: "done", Type: "EXIT"},
		},
		Edges: []config.EdgeDefinition{{From: "start", To: "nudge"}, {From: "nudge", To: "done"}},
	}
}

func TestEnroll_StopsWhenQueueSaturated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1)

	res, err := h.engine.Activate(ctx, ActivationRequest{Definition: helloDefinition(), Members: []string{"c1", "c2", "c3"}})
	require.ErrorIs(t, err, domain.ErrQueueSaturated)
	require.NotNil(t, res)
	assert.Equal(t, []string{"c1"}, res.Enrolled)
	require.Len(t, res.JobIDs, 1)

	_, err = h.states.GetJourneyState(ctx, "hello", "c2")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.journeys.ActiveVersion(ctx, "hello")
	require.NoError(t, err)

	job, err := h.dispatcher.GetJob(ctx, res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)

	_, err = h.dispatcher.Drain(ctx, 10)
	require.NoError(t, err)

	more, err := h.engine.Enroll(ctx, "hello", []string{"c1", "c2", "c3"})
	require.ErrorIs(t, err, domain.ErrQueueSaturated)
	assert.Equal(t, []string{"c1"}, more.Skipped)
	assert.Equal(t, []string{"c2"}, more.Enrolled)
}

func TestEnroll_AgainAfterArchiveExpires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.activate(t, dripJourney, "c1")

	h.clock.Advance(31 * time.Minute)
	h.settle(t)
	require.Equal(t, domain.StatusExited, h.state(t, "drip", "c1").Status)

	res, err := h.engine.Enroll(ctx, "drip", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, res.Skipped)

	h.clock.Advance(archiveTTL)
	res, err = h.engine.Enroll(ctx, "drip", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, res.Enrolled)

	st := h.state(t, "drip", "c1")
	assert.Equal(t, "pause", st.CurrentNodeID)
	assert.Equal(t, int64(1), st.Version)
	assert.Len(t, h.history(t, "drip", "c1"), 1)
}

func TestCustomerJourneyAndStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.activate(t, signupJourney, "c1", "c2", "c3")
	h.ingest(t, "e1", "purchase", "c2", map[string]any{"amount": 20})

	view, err := h.engine.CustomerJourney(ctx, "signup", "c2")
	require.NoError(t, err)
	assert.Equal(t, "thanks", view.State.CurrentNodeID)
	require.Len(t, view.History, 2)
	assert.Equal(t, "purchased", view.History[1].BranchID)

	_, err = h.engine.CustomerJourney(ctx, "signup", "nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)

	stats, err := h.engine.Stats(ctx, "signup")
	require.NoError(t, err)
	assert.True(t, stats.Active)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[domain.StatusWaiting])
	assert.Equal(t, 1, stats.ByStatus[domain.StatusExited])
	assert.Equal(t, 2, stats.ByNode["wait"])
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journey-engine/internal/domain"
)

func enqueueWelcome(t *testing.T, h *harness) string {
	t.Helper()
	jobID, err := h.dispatcher.Enqueue(context.Background(), EnqueueRequest{
		CustomerID: "c1",
		JourneyID:  "signup",
		NodeID:     "welcome",
		Channel:    "email",
		TemplateID: "welcome",
	})
	require.NoError(t, err)
	return jobID
}

func TestDispatcher_DrainCompletesJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	require.NoError(t, h.customers.UpsertCustomer(ctx, domain.Customer{
		ID:         "c1",
		Attributes: map[string]any{"first_name": "Ana"},
	}))

	jobID := enqueueWelcome(t, h)
	assert.True(t, strings.HasPrefix(jobID, "job_"))

	stats, err := h.dispatcher.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{Processed: 1}, stats)

	sent := h.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, jobID, sent[0].JobID)
	assert.Equal(t, "Ana", sent[0].Attributes["first_name"])

	job, err := h.dispatcher.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)

	// Completed twice is a no-op.
	require.NoError(t, h.dispatcher.ReportStatus(ctx, jobID, domain.JobCompleted, ""))

	err = h.dispatcher.ReportStatus(ctx, jobID, domain.JobFailed, "late")
	require.ErrorIs(t, err, domain.ErrInvalidJobTransition)
}

func TestDispatcher_SendFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.messenger.err = errors.New("provider down")

	jobID := enqueueWelcome(t, h)
	_, err := h.dispatcher.Drain(ctx, 10)
	require.NoError(t, err)

	job, err := h.dispatcher.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, "provider down", job.Error)
}

func TestDispatcher_AwaitCallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, withAwaitCallback())

	jobID := enqueueWelcome(t, h)
	_, err := h.dispatcher.Drain(ctx, 10)
	require.NoError(t, err)

	status, err := h.dispatcher.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSending, status)

	require.NoError(t, h.dispatcher.ReportStatus(ctx, jobID, domain.JobCompleted, ""))
	status, err = h.dispatcher.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, status)
}

func TestDispatcher_StatusEdgeCases(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	status, err := h.dispatcher.GetStatus(ctx, "job_missing")
	require.NoError(t, err)
	assert.Equal(t, domain.JobNotFound, status)

	err = h.dispatcher.ReportStatus(ctx, "job_missing", domain.JobCompleted, "")
	require.ErrorIs(t, err, domain.ErrNotFound)

	jobID := enqueueWelcome(t, h)
	err = h.dispatcher.ReportStatus(ctx, jobID, domain.JobQueued, "")
	require.ErrorIs(t, err, domain.ErrInvalidJobTransition)

	// QUEUED may finish directly.
	require.NoError(t, h.dispatcher.ReportStatus(ctx, jobID, domain.JobFailed, "bounced"))
	err = h.dispatcher.ReportStatus(ctx, jobID, domain.JobSending, "")
	require.ErrorIs(t, err, domain.ErrInvalidJobTransition)
}

func TestDispatcher_FullQueueFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1)
	require.NoError(t, h.queue.Push(ctx, "occupied"))
	assert.True(t, h.dispatcher.Saturated(ctx))

	jobID, err := h.dispatcher.Enqueue(ctx, EnqueueRequest{CustomerID: "c1", Channel: "sms", TemplateID: "t"})
	require.ErrorIs(t, err, domain.ErrQueueSaturated)
	require.NotEmpty(t, jobID)

	var de *domain.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "sms", de.Channel)

	status, err := h.dispatcher.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, status)
}

func TestDispatcher_RunWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, 10)

	done := make(chan error, 1)
	go func() { done <- h.dispatcher.Run(ctx) }()

	jobID := enqueueWelcome(t, h)
	require.Eventually(t, func() bool {
		status, err := h.dispatcher.GetStatus(context.Background(), jobID)
		return err == nil && status == domain.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}

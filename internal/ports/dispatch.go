package ports

import (
	"context"
	"time"

	"journey-engine/internal/domain"
)

// JobStore persists dispatch jobs.
type JobStore interface {
	// CreateJob stores a new job.
	CreateJob(ctx context.Context, job *domain.DispatchJob) error

	// GetJob returns domain.ErrNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*domain.DispatchJob, error)

	// UpdateJobStatus atomically applies a status transition and returns the updated job.
	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, reason string, at time.Time) (*domain.DispatchJob, error)
}

// JobQueue is the bounded hand-off between the engine and dispatch workers.
type JobQueue interface {
	// Push enqueues a job id. Returns domain.ErrQueueSaturated when full.
	Push(ctx context.Context, jobID string) error

	// Pop waits up to timeout for a job id. Returns domain.ErrNotFound when none arrived.
	Pop(ctx context.Context, timeout time.Duration) (string, error)

	// Len returns the number of queued ids.
	Len(ctx context.Context) (int64, error)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.jetify.com/typeid"

	"journey-engine/internal/domain"
	"journey-engine/internal/ports"
)

// popTimeout bounds how long an idle worker blocks on the queue before
// re-checking its context.
const popTimeout = time.Second

// EnqueueRequest describes the message to send when a customer enters a
// MESSAGE node.
type EnqueueRequest struct {
	CustomerID       string
	JourneyID        string
	NodeID           string
	Channel          string
	TemplateID       string
	CorrelationKey   string
	CorrelationValue string
}

// DispatchStats summarizes one drain pass.
type DispatchStats struct {
	Processed int
	Errors    int
}

// Dispatcher owns the dispatch job lifecycle and the bounded queue feeding
// channel workers.
type Dispatcher struct {
	jobs      ports.JobStore
	queue     ports.JobQueue
	processor *Processor
	capacity  int64
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// DispatcherOptions configures the Dispatcher.
type DispatcherOptions struct {
	Jobs          ports.JobStore
	Queue         ports.JobQueue
	Messenger     ports.Messenger
	Customers     ports.CustomerDirectory
	Capacity      int64
	Workers       int
	AwaitCallback bool
	Logger        *slog.Logger
	Clock         func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		jobs:      opts.Jobs,
		queue:     opts.Queue,
		processor: NewProcessor(opts.Jobs, opts.Customers, opts.Messenger, opts.AwaitCallback, opts.Logger, clock),
		capacity:  opts.Capacity,
		workers:   workers,
		logger:    opts.Logger,
		now:       clock,
	}
}

// NewJobID returns a new prefixed job identifier.
func NewJobID() string {
	id, err := typeid.WithPrefix("job")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Enqueue records a QUEUED job and pushes it to the queue. If the push fails
// the job is marked FAILED and its id is still returned with the error.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	now := d.now()
	job := &domain.DispatchJob{
		JobID:            NewJobID(),
		CustomerID:       req.CustomerID,
		JourneyID:        req.JourneyID,
		NodeID:           req.NodeID,
		Channel:          req.Channel,
		TemplateID:       req.TemplateID,
		Status:           domain.JobQueued,
		CorrelationKey:   req.CorrelationKey,
		CorrelationValue: req.CorrelationValue,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return "", &domain.DispatchError{JobID: job.JobID, Channel: job.Channel, Err: err}
	}

	if err := d.queue.Push(ctx, job.JobID); err != nil {
		if _, uerr := d.jobs.UpdateJobStatus(ctx, job.JobID, domain.JobFailed, err.Error(), d.now()); uerr != nil {
			d.logger.Error("failed to mark unqueued job", "job_id", job.JobID, "error", uerr)
		}
		return job.JobID, &domain.DispatchError{JobID: job.JobID, Channel: job.Channel, Err: err}
	}

	d.logger.Debug("job queued", "job_id", job.JobID, "channel", job.Channel, "node_id", job.NodeID)
	return job.JobID, nil
}

// ReportStatus applies a channel-reported status. Repeating the current
// terminal status is a no-op; other invalid moves wrap ErrInvalidJobTransition.
func (d *Dispatcher) ReportStatus(ctx context.Context, jobID string, status domain.JobStatus, reason string) error {
	if status == domain.JobQueued || status == domain.JobNotFound {
		return fmt.Errorf("%w: cannot report %s", domain.ErrInvalidJobTransition, status)
	}
	job, err := d.jobs.UpdateJobStatus(ctx, jobID, status, reason, d.now())
	if err != nil {
		return err
	}
	d.logger.Info("job status reported", "job_id", jobID, "status", job.Status, "channel", job.Channel)
	return nil
}

// GetStatus returns the job's status, or JobNotFound for unknown ids.
func (d *Dispatcher) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.JobNotFound, nil
		}
		return "", err
	}
	return job.Status, nil
}

// GetJob returns the full job record.
func (d *Dispatcher) GetJob(ctx context.Context, jobID string) (*domain.DispatchJob, error) {
	return d.jobs.GetJob(ctx, jobID)
}

// Saturated reports whether the queue has reached capacity. Read errors
// count as not saturated.
func (d *Dispatcher) Saturated(ctx context.Context) bool {
	if d.capacity <= 0 {
		return false
	}
	n, err := d.queue.Len(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue depth", "error", err)
		return false
	}
	return n >= d.capacity
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch workers started", "workers", d.workers)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	d.logger.Info("dispatch workers stopped")
	return nil
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	logger := d.logger.With("worker", worker)
	for ctx.Err() == nil {
		jobID, err := d.queue.Pop(ctx, popTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
				continue
			}
			logger.Error("failed to pop job", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(popTimeout):
			}
			continue
		}
		if err := d.processor.ProcessJob(ctx, jobID); err != nil {
			logger.Error("failed to process job", "job_id", jobID, "error", err)
		}
	}
}

// Drain processes up to limit queued jobs without waiting for new ones.
func (d *Dispatcher) Drain(ctx context.Context, limit int) (DispatchStats, error) {
	var stats DispatchStats
	for stats.Processed < limit {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		jobID, err := d.queue.Pop(ctx, 0)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				break
			}
			return stats, fmt.Errorf("pop job: %w", err)
		}
		stats.Processed++
		if err := d.processor.ProcessJob(ctx, jobID); err != nil {
			stats.Errors++
			d.logger.Error("failed to process job", "job_id", jobID, "error", err)
		}
	}
	return stats, nil
}

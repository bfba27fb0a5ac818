package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"journey-engine/internal/domain"
	"journey-engine/internal/ports"
)

// Processor delivers a single dispatch job through the messenger.
type Processor struct {
	jobs          ports.JobStore
	customers     ports.CustomerDirectory
	messenger     ports.Messenger
	awaitCallback bool
	logger        *slog.Logger
	now           func() time.Time
}

// NewProcessor creates a new processor with injected dependencies.
// With awaitCallback the job stays SENDING after a successful hand-off until
// the channel reports the final status.
func NewProcessor(
	jobs ports.JobStore,
	customers ports.CustomerDirectory,
	messenger ports.Messenger,
	awaitCallback bool,
	logger *slog.Logger,
	clock func() time.Time,
) *Processor {
	if clock == nil {
		clock = time.Now
	}
	return &Processor{
		jobs:          jobs,
		customers:     customers,
		messenger:     messenger,
		awaitCallback: awaitCallback,
		logger:        logger,
		now:           clock,
	}
}

// ProcessJob moves a QUEUED job through SENDING and records the outcome.
// Jobs that are no longer QUEUED were handled elsewhere and are skipped.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	logger := p.logger.With("job_id", jobID)

	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("queued job has no record")
			return nil
		}
		return &domain.DispatchError{JobID: jobID, Err: err}
	}

	if job.Status != domain.JobQueued {
		logger.Debug("job already handled", "status", job.Status)
		return nil
	}

	logger = logger.With(
		"journey_id", job.JourneyID,
		"customer_id", job.CustomerID,
		"channel", job.Channel,
	)

	channel := job.Channel
	job, err = p.jobs.UpdateJobStatus(ctx, jobID, domain.JobSending, "", p.now())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidJobTransition) {
			logger.Debug("job claimed by another worker")
			return nil
		}
		return &domain.DispatchError{JobID: jobID, Channel: channel, Err: err}
	}

	attributes, err := p.customers.GetAttributes(ctx, job.CustomerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("sending without customer attributes", "error", err)
	}

	if err := p.messenger.Send(ctx, domain.NewMessage(job, attributes)); err != nil {
		logger.Error("failed to send message", "template", job.TemplateID, "error", err)
		if _, uerr := p.jobs.UpdateJobStatus(ctx, jobID, domain.JobFailed, err.Error(), p.now()); uerr != nil {
			return &domain.DispatchError{JobID: jobID, Channel: job.Channel, Err: uerr}
		}
		return nil
	}

	if p.awaitCallback {
		logger.Debug("message handed off, awaiting status callback")
		return nil
	}

	if _, err := p.jobs.UpdateJobStatus(ctx, jobID, domain.JobCompleted, "", p.now()); err != nil {
		// A callback may already have finalized the job.
		if errors.Is(err, domain.ErrInvalidJobTransition) {
			return nil
		}
		return &domain.DispatchError{JobID: jobID, Channel: job.Channel, Err: err}
	}

	logger.Info("message sent", "template", job.TemplateID)
	return nil
}

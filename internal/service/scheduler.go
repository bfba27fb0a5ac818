package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"journey-engine/internal/domain"
	"journey-engine/internal/ports"
)

// maxPasses caps how many Due batches one RunDue call drains, so chains of
// continuation timers cannot starve the caller.
const maxPasses = 32

const (
	maxTimerAttempts = 8
	maxTimerBackoff  = time.Hour
)

// TickStats summarizes one scheduler pass.
type TickStats struct {
	Fired    int
	Advanced int
	Stale    int
	Deferred int // left in place because the dispatch queue was full
	Errors   int
}

// Scheduler fires due timers. Delivery is at-least-once: a timer is removed
// only after its firing was handled, and a stale firing is a no-op. A firing
// that fails is re-armed with backoff.
type Scheduler struct {
	engine   *Engine
	timers   ports.TimerStore
	batch    int64
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(engine *Engine, timers ports.TimerStore, batch int64, interval time.Duration, logger *slog.Logger) *Scheduler {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		engine:   engine,
		timers:   timers,
		batch:    batch,
		interval: interval,
		logger:   logger,
	}
}

// RunDue fires every timer due at the engine's current time, including
// continuation timers armed while firing.
func (s *Scheduler) RunDue(ctx context.Context) (TickStats, error) {
	var stats TickStats

	for pass := 0; pass < maxPasses; pass++ {
		due, err := s.timers.Due(ctx, s.engine.now(), s.batch)
		if err != nil {
			return stats, fmt.Errorf("load due timers: %w", err)
		}
		if len(due) == 0 {
			break
		}

		removed := 0
		for _, timer := range due {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Fired++

			out, err := s.engine.FireTimer(ctx, timer)
			if err != nil {
				if errors.Is(err, domain.ErrQueueSaturated) {
					// Left in place for the pass after the workers drained.
					stats.Deferred++
					s.logger.Warn("dispatch queue saturated, deferring timers", "timer_id", timer.ID)
					s.logSummary(stats)
					return stats, nil
				}
				stats.Errors++
				s.logger.Error("failed to fire timer",
					"timer_id", timer.ID,
					"journey_id", timer.JourneyID,
					"customer_id", timer.CustomerID,
					"attempts", timer.Attempts+1,
					"error", err,
				)
				if s.retryLater(ctx, timer, err) {
					removed++
				}
				continue
			}
			if out.Advanced {
				stats.Advanced++
			} else {
				stats.Stale++
				s.logger.Debug("timer no longer matches state", "timer_id", timer.ID, "error", domain.ErrSchedulerMiss)
			}

			if err := s.timers.Remove(ctx, timer.ID); err != nil {
				s.logger.Warn("failed to remove fired timer", "timer_id", timer.ID, "error", err)
				continue
			}
			removed++
		}

		if removed == 0 {
			break
		}
	}

	s.logSummary(stats)
	return stats, nil
}

func (s *Scheduler) logSummary(stats TickStats) {
	if stats.Fired == 0 {
		return
	}
	s.logger.Info("timers fired",
		"fired", stats.Fired,
		"advanced", stats.Advanced,
		"stale", stats.Stale,
		"deferred", stats.Deferred,
		"errors", stats.Errors,
	)
}

// retryLater moves a failed timer out of the head of the due order so it
// cannot hold back other customers. After maxTimerAttempts the customer is
// marked ERRORED and the timer dropped. Reports whether the timer left the
// due set.
func (s *Scheduler) retryLater(ctx context.Context, timer domain.Timer, cause error) bool {
	timer.Attempts++
	if timer.Attempts >= maxTimerAttempts {
		if err := s.engine.AbandonTimer(ctx, timer, cause); err != nil {
			s.logger.Error("failed to abandon timer", "timer_id", timer.ID, "error", err)
		} else if err := s.timers.Remove(ctx, timer.ID); err == nil {
			return true
		}
		// Keep retrying at the longest backoff.
		timer.Attempts = maxTimerAttempts - 1
	}

	timer.DueAt = s.engine.now().Add(s.backoff(timer.Attempts))
	if err := s.timers.Arm(ctx, timer); err != nil {
		s.logger.Warn("failed to re-arm timer", "timer_id", timer.ID, "error", err)
		return false
	}
	return true
}

// backoff doubles the scheduler interval per failed attempt, capped at
// maxTimerBackoff.
func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.interval
	for i := 1; i < attempts && d < maxTimerBackoff; i++ {
		d *= 2
	}
	return min(d, maxTimerBackoff)
}

// Run fires due timers on every interval tick and whenever the engine arms a
// timer that is already due. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "batch", s.batch)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		case <-s.engine.Wakeups():
		}
	}
}

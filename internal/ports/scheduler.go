package ports

import (
	"context"
	"time"

	"journey-engine/internal/domain"
)

// TimerStore persists scheduled firings. Delivery is at-least-once; a timer
// stays due until it is removed.
type TimerStore interface {
	// Arm schedules a timer. Arming never cancels older timers.
	Arm(ctx context.Context, timer domain.Timer) error

	// Due returns up to limit timers whose due time is at or before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int64) ([]domain.Timer, error)

	// Remove deletes a timer after it fired.
	Remove(ctx context.Context, timerID string) error
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"journey-engine/internal/domain"
)

// TimerStore implements ports.TimerStore.
type TimerStore struct {
	mu     sync.Mutex
	timers map[string]domain.Timer
}

// NewTimerStore creates an empty TimerStore.
func NewTimerStore() *TimerStore {
	return &TimerStore{timers: make(map[string]domain.Timer)}
}

// Arm schedules timer. Re-arming an id replaces it.
func (s *TimerStore) Arm(_ context.Context, timer domain.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[timer.ID] = timer
	return nil
}

// Due returns up to limit timers due at or before now, oldest first.
func (s *TimerStore) Due(_ context.Context, now time.Time, limit int64) ([]domain.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Timer
	for _, t := range s.timers {
		if !t.DueAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && int64(len(due)) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Remove deletes a timer. Unknown ids are ignored.
func (s *TimerStore) Remove(_ context.Context, timerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, timerID)
	return nil
}

// Len returns the number of pending timers.
func (s *TimerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

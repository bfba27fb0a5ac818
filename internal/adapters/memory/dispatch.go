package memory

import (
	"context"
	"sync"
	"time"

	"journey-engine/internal/domain"
)

// JobStore implements ports.JobStore.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.DispatchJob
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]domain.DispatchJob)}
}

// CreateJob stores job. Returns domain.ErrAlreadyExists for a reused id.
func (s *JobStore) CreateJob(_ context.Context, job *domain.DispatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.JobID]; ok {
		return domain.ErrAlreadyExists
	}
	s.jobs[job.JobID] = *job
	return nil
}

// GetJob returns a copy of the job.
func (s *JobStore) GetJob(_ context.Context, jobID string) (*domain.DispatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

// UpdateJobStatus applies the transition under the store lock.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status domain.JobStatus, reason string, at time.Time) (*domain.DispatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := job.ApplyStatus(status, reason, at); err != nil {
		return nil, err
	}
	s.jobs[jobID] = job
	return &job, nil
}

// Queue implements ports.JobQueue on a buffered channel.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding at most capacity ids.
func NewQueue(capacity int64) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan string, capacity)}
}

// Push enqueues jobID or returns domain.ErrQueueSaturated when full.
func (q *Queue) Push(_ context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	default:
		return domain.ErrQueueSaturated
	}
}

// Pop waits up to timeout for an id. A non-positive timeout does not wait.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		select {
		case id := <-q.ch:
			return id, nil
		default:
			return "", domain.ErrNotFound
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", domain.ErrNotFound
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len returns the number of queued ids.
func (q *Queue) Len(_ context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"journey-engine/internal/domain"
)

// maxTxRetries bounds optimistic retries of a job status update.
const maxTxRetries = 3

// JobStore implements ports.JobStore.
type JobStore struct {
	client *Client
	ttl    time.Duration
}

// NewJobStore creates a new Redis job store. Jobs expire after ttl.
func NewJobStore(client *Client, ttl time.Duration) *JobStore {
	return &JobStore{client: client, ttl: ttl}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(ctx context.Context, job *domain.DispatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyPatternJob, job.JobID), string(data), s.ttl)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return domain.ErrAlreadyExists
	}
	return nil
}

// GetJob returns the job or domain.ErrNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*domain.DispatchJob, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyPatternJob, jobID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job domain.DispatchJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// UpdateJobStatus applies the transition inside a WATCH transaction.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, reason string, at time.Time) (*domain.DispatchJob, error) {
	key := fmt.Sprintf(KeyPatternJob, jobID)
	var updated domain.DispatchJob

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrNotFound
			}
			return err
		}

		var job domain.DispatchJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}
		if err := job.ApplyStatus(status, reason, at); err != nil {
			return err
		}

		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Native().Watch(ctx, txf, key)
		if err == nil {
			return &updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidJobTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("update job status: %w", err)
	}

	return nil, fmt.Errorf("update job status: %w", redis.TxFailedErr)
}

// pushScript pushes only while the list is below capacity.
var pushScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// Queue implements ports.JobQueue on a Redis list.
type Queue struct {
	client   *Client
	capacity int64
}

// NewQueue creates a queue holding at most capacity ids.
func NewQueue(client *Client, capacity int64) *Queue {
	return &Queue{client: client, capacity: capacity}
}

// Push enqueues jobID or returns domain.ErrQueueSaturated when full.
func (q *Queue) Push(ctx context.Context, jobID string) error {
	ok, err := pushScript.Run(ctx, q.client.Native(), []string{KeyDispatchQueue}, jobID, q.capacity).Int()
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	if ok == 0 {
		return domain.ErrQueueSaturated
	}
	return nil
}

// Pop waits up to timeout for an id. A non-positive timeout does not wait.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		id, err := q.client.Native().RPop(ctx, KeyDispatchQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return "", domain.ErrNotFound
			}
			return "", fmt.Errorf("pop job: %w", err)
		}
		return id, nil
	}

	res, err := q.client.Native().BRPop(ctx, timeout, KeyDispatchQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("pop job: %w", err)
	}
	return res[1], nil
}

// Len returns the number of queued ids.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.Native().LLen(ctx, KeyDispatchQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"journey-engine/internal/domain"
)

// TimerStore implements ports.TimerStore with a sorted set of timer ids
// scored by due time plus one JSON document per timer.
type TimerStore struct {
	client *Client
}

// NewTimerStore creates a new Redis timer store.
func NewTimerStore(client *Client) *TimerStore {
	return &TimerStore{client: client}
}

// Arm schedules timer.
func (s *TimerStore) Arm(ctx context.Context, timer domain.Timer) error {
	data, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("marshal timer: %w", err)
	}

	pipe := s.client.Native().TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyPatternTimer, timer.ID), data, 0)
	pipe.ZAdd(ctx, KeyTimersDue, redis.Z{Score: float64(timer.DueAt.UnixMilli()), Member: timer.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("arm timer: %w", err)
	}
	return nil
}

// Due returns up to limit timers due at or before now, oldest first.
func (s *TimerStore) Due(ctx context.Context, now time.Time, limit int64) ([]domain.Timer, error) {
	ids, err := s.client.Native().ZRangeByScore(ctx, KeyTimersDue, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("load due timers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Native().Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf(KeyPatternTimer, id))
	}
	_, _ = pipe.Exec(ctx)

	timers := make([]domain.Timer, 0, len(ids))
	var orphans []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				orphans = append(orphans, ids[i])
				continue
			}
			return nil, fmt.Errorf("get timer: %w", err)
		}
		var timer domain.Timer
		if err := json.Unmarshal(data, &timer); err != nil {
			return nil, fmt.Errorf("unmarshal timer: %w", err)
		}
		timers = append(timers, timer)
	}

	if len(orphans) > 0 {
		_ = s.client.Native().ZRem(ctx, KeyTimersDue, orphans...).Err()
	}

	return timers, nil
}

// Remove deletes a fired timer.
func (s *TimerStore) Remove(ctx context.Context, timerID string) error {
	pipe := s.client.Native().TxPipeline()
	pipe.ZRem(ctx, KeyTimersDue, timerID)
	pipe.Del(ctx, fmt.Sprintf(KeyPatternTimer, timerID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove timer: %w", err)
	}
	return nil
}

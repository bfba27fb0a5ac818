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

// Repository implements ports.StateRepository using Redis.
// Terminal states are kept for archiveTTL, everything else for stateTTL.
type Repository struct {
	client     *Client
	stateTTL   time.Duration
	archiveTTL time.Duration
}

// NewRepository creates a new Redis repository.
func NewRepository(client *Client, stateTTL, archiveTTL time.Duration) *Repository {
	return &Repository{
		client:     client,
		stateTTL:   stateTTL,
		archiveTTL: archiveTTL,
	}
}

func (r *Repository) ttlFor(status domain.JourneyStatus) time.Duration {
	if status.IsTerminal() {
		return r.archiveTTL
	}
	return r.stateTTL
}

// indexTTL is refreshed on every write so the customer index outlives each
// state it points at.
func (r *Repository) indexTTL() time.Duration {
	return max(r.stateTTL, r.archiveTTL)
}

// GetJourneyState retrieves the current state of a customer's journey.
func (r *Repository) GetJourneyState(ctx context.Context, journeyID, customerID string) (*domain.CustomerJourneyState, error) {
	key := fmt.Sprintf(KeyPatternJourneyState, journeyID, customerID)

	data, err := r.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get journey state: %w", err)
	}

	var state domain.CustomerJourneyState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshal journey state: %w", err)
	}

	return &state, nil
}

// CreateJourneyState stores a new state with version 1.
func (r *Repository) CreateJourneyState(ctx context.Context, state *domain.CustomerJourneyState) error {
	key := fmt.Sprintf(KeyPatternJourneyState, state.JourneyID, state.CustomerID)

	created := *state
	created.Version = 1
	data, err := json.Marshal(&created)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	ok, err := r.client.SetNX(ctx, key, string(data), r.ttlFor(created.Status))
	if err != nil {
		return fmt.Errorf("create journey state: %w", err)
	}
	if !ok {
		return domain.ErrAlreadyExists
	}
	state.Version = 1

	index := fmt.Sprintf(KeyPatternCustomerIndex, state.CustomerID)
	pipe := r.client.Native().Pipeline()
	pipe.SAdd(ctx, index, state.JourneyID)
	pipe.Expire(ctx, index, r.indexTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index customer journey: %w", err)
	}

	return nil
}

// CompareAndSwap replaces the state inside a WATCH transaction so a
// concurrent writer makes the commit fail instead of being overwritten.
func (r *Repository) CompareAndSwap(ctx context.Context, state *domain.CustomerJourneyState, expectedVersion int64) error {
	key := fmt.Sprintf(KeyPatternJourneyState, state.JourneyID, state.CustomerID)
	index := fmt.Sprintf(KeyPatternCustomerIndex, state.CustomerID)

	next := *state
	next.Version = expectedVersion + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrNotFound
			}
			return err
		}

		var current domain.CustomerJourneyState
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("unmarshal journey state: %w", err)
		}
		if current.Version != expectedVersion {
			return domain.ErrTransitionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttlFor(next.Status))
			pipe.SAdd(ctx, index, next.JourneyID)
			pipe.Expire(ctx, index, r.indexTTL())
			return nil
		})
		return err
	}

	if err := r.client.Native().Watch(ctx, txf, key); err != nil {
		switch {
		case errors.Is(err, redis.TxFailedErr):
			return domain.ErrTransitionConflict
		case errors.Is(err, domain.ErrTransitionConflict), errors.Is(err, domain.ErrNotFound):
			return err
		default:
			return fmt.Errorf("compare and swap journey state: %w", err)
		}
	}

	state.Version = next.Version
	return nil
}

// ListCustomerJourneys returns every state indexed for the customer.
// Index entries whose state expired are pruned.
func (r *Repository) ListCustomerJourneys(ctx context.Context, customerID string) ([]*domain.CustomerJourneyState, error) {
	index := fmt.Sprintf(KeyPatternCustomerIndex, customerID)

	journeyIDs, err := r.client.Native().SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("list customer journeys: %w", err)
	}
	if len(journeyIDs) == 0 {
		return nil, nil
	}

	pipe := r.client.Native().Pipeline()
	cmds := make([]*redis.StringCmd, len(journeyIDs))
	for i, journeyID := range journeyIDs {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf(KeyPatternJourneyState, journeyID, customerID))
	}
	// Missing keys surface as redis.Nil on the individual commands.
	_, _ = pipe.Exec(ctx)

	var states []*domain.CustomerJourneyState
	var expired []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				expired = append(expired, journeyIDs[i])
				continue
			}
			return nil, fmt.Errorf("get journey state: %w", err)
		}
		var state domain.CustomerJourneyState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("unmarshal journey state: %w", err)
		}
		states = append(states, &state)
	}

	if len(expired) > 0 {
		_ = r.client.Native().SRem(ctx, index, expired...).Err()
	}

	return states, nil
}

// AppendHistory appends a transition entry to the journey history list.
func (r *Repository) AppendHistory(ctx context.Context, journeyID, customerID string, entry domain.TransitionEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	key := fmt.Sprintf(KeyPatternJourneyHistory, journeyID, customerID)
	pipe := r.client.Native().Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, r.stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	return nil
}

// GetHistory returns the transition history. Returns an empty history if
// no entries exist.
func (r *Repository) GetHistory(ctx context.Context, journeyID, customerID string) (*domain.TransitionHistory, error) {
	key := fmt.Sprintf(KeyPatternJourneyHistory, journeyID, customerID)

	items, err := r.client.Native().LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	history := &domain.TransitionHistory{Entries: make([]domain.TransitionEntry, 0, len(items))}
	for _, item := range items {
		var entry domain.TransitionEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal history entry: %w", err)
		}
		history.Entries = append(history.Entries, entry)
	}

	return history, nil
}

// DeleteJourneyState removes a journey state and its history.
func (r *Repository) DeleteJourneyState(ctx context.Context, journeyID, customerID string) error {
	err := r.client.Del(ctx,
		fmt.Sprintf(KeyPatternJourneyState, journeyID, customerID),
		fmt.Sprintf(KeyPatternJourneyHistory, journeyID, customerID),
	)
	if err != nil {
		return fmt.Errorf("delete journey state: %w", err)
	}
	return r.client.Native().SRem(ctx, fmt.Sprintf(KeyPatternCustomerIndex, customerID), journeyID).Err()
}

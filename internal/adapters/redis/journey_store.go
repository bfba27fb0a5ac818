package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
)

// JourneyStore implements ports.JourneyRepository. Versions live in a hash
// keyed by version number; a counter hands out new versions.
type JourneyStore struct {
	client *Client
}

// NewJourneyStore creates a new Redis journey store.
func NewJourneyStore(client *Client) *JourneyStore {
	return &JourneyStore{client: client}
}

// SaveVersion stores def as the next version of its journey.
func (s *JourneyStore) SaveVersion(ctx context.Context, def *config.JourneyDefinition) (int, error) {
	id := def.Journey.ID
	data, err := json.Marshal(def)
	if err != nil {
		return 0, fmt.Errorf("marshal journey definition: %w", err)
	}

	version, err := s.client.Native().Incr(ctx, fmt.Sprintf(KeyPatternJourneySeq, id)).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate journey version: %w", err)
	}

	field := strconv.FormatInt(version, 10)
	if err := s.client.Native().HSet(ctx, fmt.Sprintf(KeyPatternJourneyDefs, id), field, data).Err(); err != nil {
		return 0, fmt.Errorf("save journey version: %w", err)
	}
	return int(version), nil
}

// GetVersion returns a stored version.
func (s *JourneyStore) GetVersion(ctx context.Context, journeyID string, version int) (*config.JourneyDefinition, error) {
	data, err := s.client.Native().HGet(ctx, fmt.Sprintf(KeyPatternJourneyDefs, journeyID), strconv.Itoa(version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("journey %s v%d: %w", journeyID, version, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get journey version: %w", err)
	}

	var def config.JourneyDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal journey definition: %w", err)
	}
	return &def, nil
}

// SetActive marks version as active.
func (s *JourneyStore) SetActive(ctx context.Context, journeyID string, version int) error {
	exists, err := s.client.Native().HExists(ctx, fmt.Sprintf(KeyPatternJourneyDefs, journeyID), strconv.Itoa(version)).Result()
	if err != nil {
		return fmt.Errorf("check journey version: %w", err)
	}
	if !exists {
		return fmt.Errorf("journey %s v%d: %w", journeyID, version, domain.ErrNotFound)
	}
	return s.client.Set(ctx, fmt.Sprintf(KeyPatternJourneyActive, journeyID), strconv.Itoa(version), 0)
}

// Deactivate clears the active version.
func (s *JourneyStore) Deactivate(ctx context.Context, journeyID string) error {
	n, err := s.client.Native().Exists(ctx, fmt.Sprintf(KeyPatternJourneyDefs, journeyID)).Result()
	if err != nil {
		return fmt.Errorf("check journey: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("journey %s: %w", journeyID, domain.ErrNotFound)
	}
	return s.client.Del(ctx, fmt.Sprintf(KeyPatternJourneyActive, journeyID))
}

// ActiveVersion returns the active version or domain.ErrJourneyInactive.
func (s *JourneyStore) ActiveVersion(ctx context.Context, journeyID string) (int, error) {
	v, err := s.client.Get(ctx, fmt.Sprintf(KeyPatternJourneyActive, journeyID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrJourneyInactive
		}
		return 0, fmt.Errorf("get active version: %w", err)
	}
	version, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse active version %q: %w", v, err)
	}
	return version, nil
}

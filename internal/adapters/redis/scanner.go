package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"journey-engine/internal/domain"
)

// Scanner implements ports.JourneyScanner using Redis.
type Scanner struct {
	client       *Client
	scanCount    int64
	pipelineSize int // How many keys to fetch in one pipeline
	logger       *slog.Logger
}

// NewScanner creates a new Redis scanner.
func NewScanner(client *Client, scanCount int64, logger *slog.Logger) *Scanner {
	return &Scanner{
		client:       client,
		scanCount:    scanCount,
		pipelineSize: 100,
		logger:       logger,
	}
}

// ScanAllJourneys returns every stored customer journey state.
func (s *Scanner) ScanAllJourneys(ctx context.Context) ([]*domain.CustomerJourneyState, error) {
	return s.scan(ctx, "journey:*:*:state")
}

// ScanJourneys returns customer journey states for a specific journey ID.
func (s *Scanner) ScanJourneys(ctx context.Context, journeyID string) ([]*domain.CustomerJourneyState, error) {
	pattern := fmt.Sprintf(KeyPatternJourneyState, journeyID, "*")
	return s.scan(ctx, pattern)
}

// scan is a helper that performs the actual Redis SCAN operation.
func (s *Scanner) scan(ctx context.Context, pattern string) ([]*domain.CustomerJourneyState, error) {
	var states []*domain.CustomerJourneyState
	var cursor uint64
	keyBatch := make([]string, 0, s.pipelineSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during scan: %w", err)
		}

		keys, nextCursor, err := s.client.Native().Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan redis keys: %w", err)
		}

		keyBatch = append(keyBatch, keys...)

		// Fetch batch if we've accumulated enough keys or this is the last iteration
		if len(keyBatch) >= s.pipelineSize || nextCursor == 0 {
			batch, err := s.fetchBatch(ctx, keyBatch)
			if err != nil {
				s.logger.Warn("failed to fetch key batch", "error", err, "batch_size", len(keyBatch))
			} else {
				states = append(states, batch...)
			}
			keyBatch = keyBatch[:0]
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	s.logger.Debug("scan completed", "pattern", pattern, "count", len(states))
	return states, nil
}

// fetchBatch fetches multiple keys using one pipeline.
func (s *Scanner) fetchBatch(ctx context.Context, keys []string) ([]*domain.CustomerJourneyState, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Native().Pipeline()

	cmds := make([]*goredis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		// Keys can expire between SCAN and GET; handle per command.
		s.logger.Debug("pipeline exec encountered errors", "error", err)
	}

	var states []*domain.CustomerJourneyState
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			s.logger.Debug("failed to get key", "key", keys[i], "error", err)
			continue
		}

		var state domain.CustomerJourneyState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			s.logger.Warn("failed to unmarshal journey state", "key", keys[i], "error", err)
			continue
		}

		states = append(states, &state)
	}

	return states, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
)

// JourneyStore implements ports.JourneyRepository on PostgreSQL via pgx.
// Every saved definition is kept; journeys.active_version points at the one
// new customers enroll into.
type JourneyStore struct {
	db *pgxpool.Pool
}

// New creates a JourneyStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *JourneyStore {
	return &JourneyStore{db: db}
}

// Connect opens a pool for url and verifies it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("journeys: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journeys: ping: %w", err)
	}
	return pool, nil
}

// SaveVersion stores def as the next version of its journey in one transaction.
// The journeys row is locked so concurrent saves get distinct versions.
func (s *JourneyStore) SaveVersion(ctx context.Context, def *config.JourneyDefinition) (int, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return 0, fmt.Errorf("journeys: marshal definition: %w", err)
	}
	id := def.Journey.ID

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("journeys: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO journeys (journey_id) VALUES ($1) ON CONFLICT (journey_id) DO NOTHING`, id,
	); err != nil {
		return 0, fmt.Errorf("journeys: insert journey: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`SELECT 1 FROM journeys WHERE journey_id = $1 FOR UPDATE`, id,
	); err != nil {
		return 0, fmt.Errorf("journeys: lock journey: %w", err)
	}

	var version int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM journey_versions WHERE journey_id = $1`, id,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("journeys: next version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO journey_versions (journey_id, version, definition) VALUES ($1, $2, $3)`,
		id, version, data,
	); err != nil {
		return 0, fmt.Errorf("journeys: insert version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("journeys: commit: %w", err)
	}
	return version, nil
}

// GetVersion returns a stored definition or domain.ErrNotFound.
func (s *JourneyStore) GetVersion(ctx context.Context, journeyID string, version int) (*config.JourneyDefinition, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT definition FROM journey_versions WHERE journey_id = $1 AND version = $2`,
		journeyID, version,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("journey %s v%d: %w", journeyID, version, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("journeys: get version: %w", err)
	}

	var def config.JourneyDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("journeys: unmarshal definition: %w", err)
	}
	return &def, nil
}

// SetActive points the journey at version. The version must exist.
func (s *JourneyStore) SetActive(ctx context.Context, journeyID string, version int) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE journeys SET active_version = $2, updated_at = NOW()
		 WHERE journey_id = $1
		   AND EXISTS (SELECT 1 FROM journey_versions WHERE journey_id = $1 AND version = $2)`,
		journeyID, version,
	)
	if err != nil {
		return fmt.Errorf("journeys: set active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("journey %s v%d: %w", journeyID, version, domain.ErrNotFound)
	}
	return nil
}

// Deactivate clears the active version.
func (s *JourneyStore) Deactivate(ctx context.Context, journeyID string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE journeys SET active_version = NULL, updated_at = NOW() WHERE journey_id = $1`,
		journeyID,
	)
	if err != nil {
		return fmt.Errorf("journeys: deactivate: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("journey %s: %w", journeyID, domain.ErrNotFound)
	}
	return nil
}

// ActiveVersion returns the active version or domain.ErrJourneyInactive.
func (s *JourneyStore) ActiveVersion(ctx context.Context, journeyID string) (int, error) {
	var version *int
	err := s.db.QueryRow(ctx,
		`SELECT active_version FROM journeys WHERE journey_id = $1`, journeyID,
	).Scan(&version)
	if err != nil {
		if isNoRows(err) {
			return 0, domain.ErrJourneyInactive
		}
		return 0, fmt.Errorf("journeys: active version: %w", err)
	}
	if version == nil {
		return 0, domain.ErrJourneyInactive
	}
	return *version, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

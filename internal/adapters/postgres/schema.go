package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS journeys (
    journey_id     TEXT PRIMARY KEY,
    active_version INT,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS journey_versions (
    journey_id TEXT NOT NULL REFERENCES journeys(journey_id) ON DELETE CASCADE,
    version    INT NOT NULL,
    definition JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (journey_id, version)
);
`

// CreateSchema creates the journeys and journey_versions tables if they don't exist.
func (s *JourneyStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops both tables.
func (s *JourneyStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS journey_versions, journeys CASCADE;`)
	return err
}

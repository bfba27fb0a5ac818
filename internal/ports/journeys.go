package ports

import (
	"context"

	"journey-engine/internal/config"
)

// JourneyRepository stores versioned journey definitions and which version is active.
type JourneyRepository interface {
	// SaveVersion stores def as the next version of its journey and returns that version.
	SaveVersion(ctx context.Context, def *config.JourneyDefinition) (int, error)

	// GetVersion returns domain.ErrNotFound for unknown journeys or versions.
	GetVersion(ctx context.Context, journeyID string, version int) (*config.JourneyDefinition, error)

	// SetActive marks version as the one new customers enroll into.
	SetActive(ctx context.Context, journeyID string, version int) error

	// Deactivate stops new enrollments and timer arming for the journey.
	Deactivate(ctx context.Context, journeyID string) error

	// ActiveVersion returns domain.ErrJourneyInactive if the journey is not active.
	ActiveVersion(ctx context.Context, journeyID string) (int, error)
}

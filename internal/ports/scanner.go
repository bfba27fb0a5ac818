package ports

import (
	"context"

	"journey-engine/internal/domain"
)

// JourneyScanner scans for customer states in the data store.
type JourneyScanner interface {
	// ScanAllJourneys returns every stored customer journey state.
	ScanAllJourneys(ctx context.Context) ([]*domain.CustomerJourneyState, error)

	// ScanJourneys returns the customer states of a specific journey.
	ScanJourneys(ctx context.Context, journeyID string) ([]*domain.CustomerJourneyState, error)
}

package ports

import (
	"context"

	"journey-engine/internal/domain"
)

// StateRepository handles customer journey state persistence.
type StateRepository interface {
	// GetJourneyState retrieves the state of a customer in a journey.
	// Returns domain.ErrNotFound when the customer is not enrolled.
	GetJourneyState(ctx context.Context, journeyID, customerID string) (*domain.CustomerJourneyState, error)

	// CreateJourneyState stores a new state with version 1.
	// Returns domain.ErrAlreadyExists if the customer is already enrolled.
	CreateJourneyState(ctx context.Context, state *domain.CustomerJourneyState) error

	// CompareAndSwap replaces the stored state only if its version still equals
	// expectedVersion, and sets state.Version to expectedVersion+1.
	// Returns domain.ErrTransitionConflict when the version moved.
	CompareAndSwap(ctx context.Context, state *domain.CustomerJourneyState, expectedVersion int64) error

	// ListCustomerJourneys returns every state held by one customer.
	ListCustomerJourneys(ctx context.Context, customerID string) ([]*domain.CustomerJourneyState, error)

	// AppendHistory appends a transition entry for a customer's journey.
	AppendHistory(ctx context.Context, journeyID, customerID string, entry domain.TransitionEntry) error

	// GetHistory returns the transition history, empty if none.
	GetHistory(ctx context.Context, journeyID, customerID string) (*domain.TransitionHistory, error)
}

// IdempotencyStore records processed (event, customer, node) keys.
type IdempotencyStore interface {
	// Seen reports whether key was already marked.
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records key. Returns true if this call created it.
	Mark(ctx context.Context, key string) (bool, error)
}

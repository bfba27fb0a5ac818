package ports

import (
	"context"

	"journey-engine/internal/domain"
)

// CustomerDirectory resolves event correlations and serves attribute snapshots.
type CustomerDirectory interface {
	// ResolveCustomer maps a correlation pair to a customer id.
	// Returns domain.ErrNotFound when no customer matches.
	ResolveCustomer(ctx context.Context, key, value string) (string, error)

	// GetAttributes returns the customer's attribute snapshot.
	GetAttributes(ctx context.Context, customerID string) (map[string]any, error)

	// UpsertCustomer replaces the customer's identities and attributes.
	UpsertCustomer(ctx context.Context, customer domain.Customer) error
}

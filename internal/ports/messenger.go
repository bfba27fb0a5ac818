package ports

import (
	"context"

	"journey-engine/internal/domain"
)

// Messenger hands a dispatch job to a channel adapter.
type Messenger interface {
	// Send delivers a single message. Retry policy belongs to the implementation.
	Send(ctx context.Context, msg domain.Message) error
}

package channel

import (
	"context"
	"fmt"

	"journey-engine/internal/domain"
	"journey-engine/internal/ports"
	"journey-engine/internal/retry"
)

// Mux routes each message to the sender registered for its channel.
type Mux struct {
	senders  map[string]ports.Messenger
	fallback ports.Messenger
}

// NewMux creates a mux. fallback handles unregistered channels and may be nil.
func NewMux(fallback ports.Messenger) *Mux {
	return &Mux{senders: make(map[string]ports.Messenger), fallback: fallback}
}

// Handle registers sender for channel.
func (m *Mux) Handle(channel string, sender ports.Messenger) {
	m.senders[channel] = sender
}

func (m *Mux) Send(ctx context.Context, msg domain.Message) error {
	if sender, ok := m.senders[msg.Channel]; ok {
		return sender.Send(ctx, msg)
	}
	if m.fallback != nil {
		return m.fallback.Send(ctx, msg)
	}
	return retry.Final(fmt.Errorf("no sender for channel %q", msg.Channel))
}

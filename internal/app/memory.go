package app

import (
	"log/slog"
	"time"

	"journey-engine/internal/adapters/memory"
	"journey-engine/internal/config"
	"journey-engine/internal/ports"
)

// NewMemory builds an App on in-process adapters. Nothing survives a restart.
func NewMemory(cfg *config.AppConfig, loader ports.JourneyDefinitionLoader, messenger ports.Messenger, logger *slog.Logger, clock func() time.Time) *App {
	states := memory.NewStateStore(memory.WithArchiveTTL(cfg.Engine.ArchiveTTL, clock))
	return New(Options{
		Config:      cfg,
		Logger:      logger,
		States:      states,
		Scanner:     states,
		Timers:      memory.NewTimerStore(),
		Idempotency: memory.NewIdempotencyStore(),
		Customers:   memory.NewCustomerDirectory(),
		Journeys:    memory.NewJourneyStore(),
		Loader:      loader,
		Jobs:        memory.NewJobStore(),
		Queue:       memory.NewQueue(cfg.Engine.QueueCapacity),
		Messenger:   messenger,
		Clock:       clock,
	})
}

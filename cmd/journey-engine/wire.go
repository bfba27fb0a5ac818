package main

import (
	"context"
	"fmt"
	"log/slog"

	"journey-engine/internal/adapters/appconfig"
	"journey-engine/internal/adapters/channel"
	"journey-engine/internal/adapters/postgres"
	"journey-engine/internal/adapters/redis"
	"journey-engine/internal/adapters/secrets"
	"journey-engine/internal/app"
	"journey-engine/internal/config"
	"journey-engine/internal/logging"
	"journey-engine/internal/ports"
)

// build wires the configured backends into an App. The returned func
// releases every connection it opened.
func build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*app.App, func(), error) {
	loader := appconfig.NewLoader(cfg.AppConfig, cfg.AppConfig.CacheTTL, logging.WithComponent(logger, "config_loader"))

	messenger, err := buildMessenger(ctx, cfg.Channel, logger)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, state is lost on exit")
		return app.NewMemory(cfg, loader, messenger, logger, nil), func() {}, nil
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	closers := []func(){func() { _ = redisClient.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	var journeys ports.JourneyRepository = redis.NewJourneyStore(redisClient)
	if cfg.Postgres.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pool.Close)

		store := postgres.New(pool)
		if err := store.CreateSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("create journey schema: %w", err)
		}
		journeys = store
		logger.Info("journey definitions stored in postgres")
	}

	states := redis.NewRepository(redisClient, cfg.Engine.StateTTL, cfg.Engine.ArchiveTTL)
	application := app.New(app.Options{
		Config:      cfg,
		Logger:      logger,
		States:      states,
		Scanner:     redis.NewScanner(redisClient, cfg.Engine.ScanCount, logging.WithComponent(logger, "scanner")),
		Timers:      redis.NewTimerStore(redisClient),
		Idempotency: redis.NewIdempotencyStore(redisClient, cfg.Engine.IdempotencyTTL),
		Customers:   redis.NewCustomerDirectory(redisClient),
		Journeys:    journeys,
		Loader:      loader,
		Jobs:        redis.NewJobStore(redisClient, cfg.Engine.StateTTL),
		Queue:       redis.NewQueue(redisClient, cfg.Engine.QueueCapacity),
		Messenger:   messenger,
	})

	return application, cleanup, nil
}

// buildMessenger logs messages when no channel endpoint is configured.
// Otherwise messages are POSTed to the endpoint, with a bearer token from STS
// when credentials are available. The "log" channel always only logs.
func buildMessenger(ctx context.Context, cfg config.ChannelConfig, logger *slog.Logger) (ports.Messenger, error) {
	logSender := channel.NewLogSender(logging.WithComponent(logger, "messenger"))
	if cfg.Endpoint == "" {
		return logSender, nil
	}

	var tokens *channel.STSClient
	if cfg.STSEndpoint != "" && cfg.SecretName != "" {
		store, err := secrets.NewStore(ctx)
		if err != nil {
			return nil, err
		}
		creds, err := store.Credentials(ctx, cfg.SecretName)
		if err != nil {
			return nil, err
		}
		tokens = channel.NewSTSClient(channel.STSConfig{
			Endpoint:     cfg.STSEndpoint,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Timeout:      cfg.Timeout,
		})
	}

	mux := channel.NewMux(channel.NewWebhookSender(channel.WebhookConfig{
		Endpoint:   cfg.Endpoint,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, tokens))
	mux.Handle("log", logSender)
	return mux, nil
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"journey-engine/internal/api"
	"journey-engine/internal/config"
	"journey-engine/internal/logging"
)

// Lambda roles, selected with JOURNEY_LAMBDA_ROLE.
const (
	roleAPI       = "api"
	roleScheduler = "scheduler"
)

func main() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		if err := startLambda(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := runLocal(); err != nil {
			os.Exit(1)
		}
	}
}

// startLambda builds the app once per container and serves invocations.
func startLambda() error {
	ctx := context.Background()
	logger := logging.New(logging.DefaultConfig())

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	application, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		return err
	}
	defer cleanup()

	switch role := os.Getenv("JOURNEY_LAMBDA_ROLE"); role {
	case roleAPI, "":
		apiLogger := logging.WithComponent(logger, "api")
		handler := api.NewLambdaHandler(api.NewHandler(application, apiLogger), apiLogger)
		lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			return handler.Handle(ctx, req)
		})
	case roleScheduler:
		lambda.Start(func(ctx context.Context) error {
			_, err := application.RunOnce(ctx)
			return err
		})
	default:
		logger.Error("unknown lambda role", "role", role)
		return errors.New("unknown lambda role " + role)
	}
	return nil
}

// runLocal serves the HTTP API and runs the scheduler and dispatch workers
// until SIGINT or SIGTERM.
func runLocal() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(logging.DefaultConfig())

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	application, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		return err
	}
	defer cleanup()

	server := api.NewServer(api.NewHandler(application, logging.WithComponent(logger, "api")))
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		serverErr <- server.Listen(cfg.HTTP.Addr)
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx) }()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
			cancel()
			<-runErr
			return err
		}
	case <-ctx.Done():
	}

	if err := server.Shutdown(); err != nil {
		logger.Warn("http server shutdown failed", "error", err)
	}
	return <-runErr
}

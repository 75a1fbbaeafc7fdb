package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/relayflow"
)

// Consumer daemon: drains the durable queue in bounded batches, relays every
// delivery to the fan-out topic as a rendered notification, and serves the
// ops endpoints. Configuration comes from the RELAY_* environment variables.
func main() {
	baseLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := relayflow.NewSlogServiceLogger(baseLogger)

	cfg, err := relayflow.FromEnv()
	if err != nil {
		logger.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := relayflow.NewService(cfg, logger, ctx, relayflow.ServiceDependencies{
		Hooks: relayflow.LoggingHooks(logger),
	})
	if err != nil {
		logger.Error("Failed to create relay service", err, nil)
		os.Exit(1)
	}

	runErr := svc.StartConsumer(ctx)
	if runErr != nil {
		logger.Error("Consumer stopped", runErr, nil)
	}

	if err := svc.Close(); err != nil {
		logger.Error("Shutdown failed", err, nil)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

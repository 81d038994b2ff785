// Package main provides the projection worker entry point.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lllypuk/actuality/internal/bootstrap"
	"github.com/lllypuk/actuality/internal/config"
	"github.com/lllypuk/actuality/internal/infrastructure/httpserver"
)

//nolint:funlen // Main function handles startup orchestration and is readable as-is
func main() {
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := bootstrap.SetupLogger(cfg)

	logger.Info("starting actuality worker",
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("views_backend", cfg.Views.Backend),
		slog.Any("aggregate_types", cfg.EventBus.AggregateTypes),
	)

	// Create a context that will be cancelled on shutdown signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleShutdown(cancel, logger)

	container, err := bootstrap.NewContainer(cfg, bootstrap.WithLogger(logger))
	if err != nil {
		logger.Error("failed to initialize container", slog.String("error", err.Error()))
		cancel()
		os.Exit(1) //nolint:gocritic // cancel() called before exit
	}
	defer func() {
		if closeErr := container.Close(); closeErr != nil {
			logger.Error("failed to close container", slog.String("error", closeErr.Error()))
		}
	}()

	w, err := newWorker(ctx, container)
	if err != nil {
		logger.Error("failed to set up projections", slog.String("error", err.Error()))
		return
	}
	defer w.close()

	server := httpserver.NewServer(cfg.Server, logger)
	server.RegisterRoutes(w.registerRoutes)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if runErr := w.run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Error("event bus subscriber error", slog.String("error", runErr.Error()))
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if startErr := server.Start(); startErr != nil {
			logger.Error("ops server error", slog.String("error", startErr.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	if shutdownErr := server.Shutdown(context.Background()); shutdownErr != nil {
		logger.Error("failed to shut down ops server", slog.String("error", shutdownErr.Error()))
	}
	w.stop()

	wg.Wait()

	logger.Info("worker shutdown complete")
}

// handleShutdown listens for OS signals and cancels the context.
func handleShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-quit
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	cancel()
}

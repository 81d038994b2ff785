// Package main provides the replay tool: it prints the stored envelopes of an
// aggregate type, rebuilds their activity views or verifies them.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lllypuk/actuality/internal/application/query"
	"github.com/lllypuk/actuality/internal/bootstrap"
	"github.com/lllypuk/actuality/internal/config"
	"github.com/lllypuk/actuality/internal/domain/event"
)

func main() {
	aggregateType := flag.String("type", "", "Aggregate type")
	aggregateID := flag.String("id", "", "Aggregate ID (omit for all aggregates of the type)")
	rebuild := flag.Bool("rebuild", false, "Rebuild activity views instead of printing envelopes")
	verify := flag.Bool("verify", false, "Report activity views that lag behind the event store")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// envelopes go to stdout, so logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: bootstrap.ParseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	if *aggregateType == "" {
		logger.Error("type is required")
		flag.Usage()
		os.Exit(2)
	}
	if *rebuild && *verify {
		logger.Error("rebuild and verify are mutually exclusive")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runErr := run(ctx, cfg, logger, options{
		aggregateType: *aggregateType,
		aggregateID:   *aggregateID,
		rebuild:       *rebuild,
		verify:        *verify,
	}); runErr != nil {
		logger.Error("replay failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}

type options struct {
	aggregateType string
	aggregateID   string
	rebuild       bool
	verify        bool
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts options) error {
	container, err := bootstrap.NewContainer(cfg, bootstrap.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := container.Close(); closeErr != nil {
			logger.Error("failed to close container", slog.String("error", closeErr.Error()))
		}
	}()

	store, err := container.RawStore(ctx, opts.aggregateType)
	if err != nil {
		return err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	if !opts.rebuild && !opts.verify {
		return printEnvelopes(ctx, store, opts.aggregateID, os.Stdout)
	}

	repo, err := bootstrap.ViewRepository[*query.StreamActivity](ctx, container, "activity_"+opts.aggregateType)
	if err != nil {
		return err
	}

	if opts.verify {
		return verifyViews(ctx, store, repo, logger)
	}

	activity := query.New[*query.StreamActivity, event.Raw](
		repo,
		query.NewStreamActivity,
		query.WithName("activity/"+opts.aggregateType),
		query.WithLogger(logger),
		query.WithRetryOnConflict(cfg.App.RetryOnConflict),
	)
	defer activity.Close()

	return rebuildViews(ctx, store, activity, opts.aggregateID, logger)
}

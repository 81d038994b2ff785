package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/application/query"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
	"github.com/lllypuk/actuality/internal/infrastructure/healthcheck"
	"github.com/lllypuk/actuality/internal/infrastructure/projector"
)

// printEnvelopes writes the envelopes of one aggregate, or of every aggregate
// when aggregateID is empty, as JSON lines.
func printEnvelopes(ctx context.Context, source projector.EventSource[event.Raw], aggregateID string, out io.Writer) error {
	ids := []string{aggregateID}
	if aggregateID == "" {
		var err error
		if ids, err = source.AggregateIDs(ctx); err != nil {
			return fmt.Errorf("failed to list aggregates: %w", err)
		}
	}

	enc := json.NewEncoder(out)
	for _, id := range ids {
		envelopes, err := source.LoadEvents(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load events of %s: %w", id, err)
		}
		for _, env := range envelopes {
			rec, recErr := codec.ToRecord[event.Raw](codec.RawCodec{}, env)
			if recErr != nil {
				return recErr
			}
			if encErr := enc.Encode(rec); encErr != nil {
				return encErr
			}
		}
	}
	return nil
}

func rebuildViews(
	ctx context.Context,
	source projector.EventSource[event.Raw],
	target projector.Target[event.Raw],
	aggregateID string,
	logger *slog.Logger,
) error {
	r := projector.NewRebuilder(source, target, projector.WithLogger(logger))
	if aggregateID != "" {
		return r.RebuildOne(ctx, aggregateID)
	}
	return r.RebuildAll(ctx)
}

// verifyViews fails when any activity view misses stored envelopes.
func verifyViews(
	ctx context.Context,
	source projector.EventSource[event.Raw],
	repo appcore.ViewRepository[*query.StreamActivity],
	logger *slog.Logger,
) error {
	ids, err := source.AggregateIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list aggregates: %w", err)
	}

	checker := healthcheck.NewViewSyncChecker[*query.StreamActivity, event.Raw]("view_sync", source, repo, len(ids))
	lagging, checked, err := checker.Lagging(ctx)
	if err != nil {
		return err
	}
	if len(lagging) > 0 {
		logger.WarnContext(ctx, "activity views are behind, rebuild recommended",
			slog.Int("checked", checked),
			slog.Any("lagging", lagging),
		)
		return fmt.Errorf("%d of %d views lag behind the event store", len(lagging), checked)
	}

	logger.InfoContext(ctx, "activity views are consistent", slog.Int("checked", checked))
	return nil
}

// Package projector rebuilds views from the event store.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lllypuk/actuality/internal/domain/event"
)

// ErrNoEvents is returned when an aggregate has no stored events.
var ErrNoEvents = errors.New("aggregate has no events")

// EventSource is the part of an event store a rebuild reads from.
type EventSource[E event.Event] interface {
	LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope[E], error)
	AggregateIDs(ctx context.Context) ([]string, error)
}

// Target applies envelopes to a view; query.GenericQuery implements it.
type Target[E event.Event] interface {
	ApplyEvents(ctx context.Context, viewID string, envelopes []event.Envelope[E]) error
}

// Option configures a Rebuilder.
type Option func(*rebuilderOptions)

type rebuilderOptions struct {
	logger *slog.Logger
	viewID func(aggregateID string) string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *rebuilderOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithViewID maps an aggregate id to the id of the view it feeds.
// By default every aggregate has a view with the same id.
func WithViewID(fn func(aggregateID string) string) Option {
	return func(o *rebuilderOptions) {
		if fn != nil {
			o.viewID = fn
		}
	}
}

// Rebuilder replays stored envelopes into a view target. Envelopes the view already
// reflects are skipped by the target, so a rebuild can run any number of times
// and next to live dispatch.
type Rebuilder[E event.Event] struct {
	source EventSource[E]
	target Target[E]
	opts   rebuilderOptions
}

// NewRebuilder creates a Rebuilder.
func NewRebuilder[E event.Event](source EventSource[E], target Target[E], opts ...Option) *Rebuilder[E] {
	o := rebuilderOptions{
		logger: slog.Default(),
		viewID: func(aggregateID string) string { return aggregateID },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Rebuilder[E]{source: source, target: target, opts: o}
}

// RebuildOne replays all envelopes of one aggregate.
func (r *Rebuilder[E]) RebuildOne(ctx context.Context, aggregateID string) error {
	viewID := r.opts.viewID(aggregateID)
	r.opts.logger.InfoContext(ctx, "rebuilding view",
		slog.String("aggregate_id", aggregateID),
		slog.String("view_id", viewID),
	)

	envelopes, err := r.source.LoadEvents(ctx, aggregateID)
	if err != nil {
		return fmt.Errorf("failed to load events for %s: %w", aggregateID, err)
	}
	if len(envelopes) == 0 {
		return fmt.Errorf("%w: %s", ErrNoEvents, aggregateID)
	}

	if err = r.target.ApplyEvents(ctx, viewID, envelopes); err != nil {
		return fmt.Errorf("failed to apply events of %s: %w", aggregateID, err)
	}

	r.opts.logger.InfoContext(ctx, "successfully rebuilt view",
		slog.String("aggregate_id", aggregateID),
		slog.String("view_id", viewID),
		slog.Int("events_applied", len(envelopes)),
	)
	return nil
}

// RebuildAll replays every aggregate known to the source. It continues past
// failures and reports them together at the end.
func (r *Rebuilder[E]) RebuildAll(ctx context.Context) error {
	r.opts.logger.InfoContext(ctx, "starting rebuild of all views")

	ids, err := r.source.AggregateIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get aggregate IDs: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if err = ctx.Err(); err != nil {
			return err
		}
		if rebuildErr := r.RebuildOne(ctx, id); rebuildErr != nil {
			r.opts.logger.ErrorContext(ctx, "failed to rebuild view",
				slog.String("aggregate_id", id),
				slog.String("error", rebuildErr.Error()),
			)
			errs = append(errs, rebuildErr)
		}
	}

	r.opts.logger.InfoContext(ctx, "completed rebuild of all views",
		slog.Int("total", len(ids)),
		slog.Int("success", len(ids)-len(errs)),
		slog.Int("failed", len(errs)),
	)

	if len(errs) > 0 {
		return fmt.Errorf("rebuild completed with %d failures out of %d total: %w",
			len(errs), len(ids), errors.Join(errs...))
	}
	return nil
}

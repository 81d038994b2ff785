// Package cqrs executes commands against event-sourced aggregates: load, handle,
// commit and dispatch to queries.
package cqrs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/perkey"
)

// Framework ties an event store to a set of queries.
//
// Executions for the same aggregate id run one after another in submission order,
// dispatch included, so every query sees the envelopes of one aggregate in commit
// order. Different ids run concurrently.
type Framework[A aggregate.Aggregate[C, E, S], C any, E event.Event, S any] struct {
	store     appcore.EventStore[A, E]
	queries   []appcore.Query[E]
	services  S
	scheduler *perkey.Scheduler[string]
	opts      *frameworkOptions
}

// New creates a Framework. The store must already be initialized.
func New[A aggregate.Aggregate[C, E, S], C any, E event.Event, S any](
	store appcore.EventStore[A, E],
	queries []appcore.Query[E],
	services S,
	opts ...Option,
) *Framework[A, C, E, S] {
	return &Framework[A, C, E, S]{
		store:     store,
		queries:   queries,
		services:  services,
		scheduler: perkey.New[string](),
		opts:      newFrameworkOptions(opts),
	}
}

// Execute runs cmd against the aggregate with the given id, without caller metadata.
func (f *Framework[A, C, E, S]) Execute(ctx context.Context, aggregateID string, cmd C) error {
	return f.ExecuteWithMetadata(ctx, aggregateID, cmd, nil)
}

// ExecuteWithMetadata runs cmd against the aggregate with the given id.
//
// Metadata found in ctx (user, correlation and causation ids) is merged under the
// explicit metadata and attached to every committed envelope. A rejected command
// is returned as *appcore.CommandError wrapping the aggregate's error; a load or
// commit failure is returned as the store reported it. Query failures are never
// returned.
func (f *Framework[A, C, E, S]) ExecuteWithMetadata(
	ctx context.Context,
	aggregateID string,
	cmd C,
	metadata map[string]string,
) error {
	start := time.Now()
	ctx, span := f.opts.tracer.Start(ctx, "cqrs.Execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID)),
	)
	defer span.End()

	var aggregateType string
	err := f.scheduler.DoContext(ctx, aggregateID, func() error {
		var execErr error
		aggregateType, execErr = f.execute(ctx, aggregateID, cmd, metadata)
		return execErr
	})

	outcome := outcomeOf(err)
	f.opts.recorder.CommandExecuted(aggregateType, outcome, time.Since(start))
	span.SetAttributes(
		attribute.String("aggregate.type", aggregateType),
		attribute.String("cqrs.outcome", outcome),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logFailure(ctx, aggregateType, aggregateID, outcome, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Close waits for running executions and rejects new ones with perkey.ErrSchedulerClosed.
func (f *Framework[A, C, E, S]) Close() {
	f.scheduler.Close()
}

func (f *Framework[A, C, E, S]) execute(
	ctx context.Context,
	aggregateID string,
	cmd C,
	metadata map[string]string,
) (string, error) {
	var aggregateType string
	merged := appcore.MergeMetadata(ctx, metadata)

	for attempt := 0; ; attempt++ {
		// 1. Load
		ac, err := f.store.LoadAggregate(ctx, aggregateID)
		if err != nil {
			return aggregateType, err
		}
		aggregateType = ac.Aggregate.AggregateType()
		if err = ctx.Err(); err != nil {
			return aggregateType, err
		}

		// 2. Handle
		events, err := ac.Aggregate.Handle(ctx, cmd, f.services)
		if err != nil {
			return aggregateType, &appcore.CommandError{
				AggregateType: aggregateType,
				AggregateID:   aggregateID,
				Err:           err,
			}
		}
		if err = ctx.Err(); err != nil {
			return aggregateType, err
		}

		// 3. Commit
		committed, err := f.store.Commit(ctx, events, ac, merged)
		if err != nil {
			if !appcore.IsConcurrencyConflict(err) {
				return aggregateType, err
			}
			f.opts.recorder.ConcurrencyConflict(aggregateType)
			if attempt >= f.opts.retryOnConflict {
				return aggregateType, err
			}
			f.opts.logger.DebugContext(ctx, "retrying command after concurrency conflict",
				slog.String("aggregate_type", aggregateType),
				slog.String("aggregate_id", aggregateID),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if len(committed) == 0 {
			return aggregateType, nil
		}
		f.opts.recorder.EventsCommitted(aggregateType, len(committed))

		// 4. Dispatch: committed events are delivered even if the caller gave up
		f.dispatch(context.WithoutCancel(ctx), aggregateID, committed)
		return aggregateType, nil
	}
}

// dispatch hands the envelopes to every query and waits for all of them.
func (f *Framework[A, C, E, S]) dispatch(ctx context.Context, aggregateID string, envelopes []event.Envelope[E]) {
	var g errgroup.Group
	if f.opts.dispatchConcurrency > 0 {
		g.SetLimit(f.opts.dispatchConcurrency)
	}
	for _, q := range f.queries {
		g.Go(func() error {
			q.Dispatch(ctx, aggregateID, envelopes)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Framework[A, C, E, S]) logFailure(ctx context.Context, aggregateType, aggregateID, outcome string, err error) {
	attrs := []any{
		slog.String("aggregate_type", aggregateType),
		slog.String("aggregate_id", aggregateID),
		slog.String("outcome", outcome),
		slog.String("error", err.Error()),
	}
	switch outcome {
	case OutcomeRejected:
		f.opts.logger.DebugContext(ctx, "command rejected", attrs...)
	case OutcomeConflict:
		f.opts.logger.WarnContext(ctx, "command failed with concurrency conflict", attrs...)
	default:
		f.opts.logger.ErrorContext(ctx, "command execution failed", attrs...)
	}
}

func outcomeOf(err error) string {
	var cmdErr *appcore.CommandError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &cmdErr):
		return OutcomeRejected
	case appcore.IsConcurrencyConflict(err):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

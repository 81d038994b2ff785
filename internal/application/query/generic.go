// Package query maintains views from committed envelopes.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/perkey"
)

// GenericQuery keeps one view per view id up to date.
//
// The view context records, per aggregate, the last sequence reflected in the view,
// so redelivered envelopes are skipped and every envelope changes a view at most
// once. Updates of the same view id are serialized within the process; the
// repository's version check protects against other processes.
type GenericQuery[V appcore.View[E], E event.Event] struct {
	repo      appcore.ViewRepository[V]
	newView   func() V
	scheduler *perkey.Scheduler[string]
	opts      queryOptions

	mu      sync.RWMutex
	handler ErrorHandler
}

var _ appcore.Query[event.Raw] = (*GenericQuery[*StreamActivity, event.Raw])(nil)

// New creates a query over repo. newView returns the state of a view that was
// never stored.
func New[V appcore.View[E], E event.Event](
	repo appcore.ViewRepository[V],
	newView func() V,
	opts ...Option,
) *GenericQuery[V, E] {
	o := queryOptions{
		name:   fmt.Sprintf("%T", newView()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &GenericQuery[V, E]{
		repo:      repo,
		newView:   newView,
		scheduler: perkey.New[string](),
		opts:      o,
	}
}

// UseErrorHandler installs the handler for load and update failures.
// Without a handler such failures are only logged.
func (q *GenericQuery[V, E]) UseErrorHandler(h ErrorHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// Name returns the query name.
func (q *GenericQuery[V, E]) Name() string {
	return q.opts.name
}

// Load returns the stored view. The second result is false when the view does not
// exist or could not be loaded; load failures go to the error handler.
func (q *GenericQuery[V, E]) Load(ctx context.Context, viewID string) (V, bool) {
	view, _, err := q.repo.LoadWithContext(ctx, viewID)
	if err != nil {
		var zero V
		if !errors.Is(err, appcore.ErrViewNotFound) {
			q.handle(ctx, q.queryError(viewID, "load", err))
		}
		return zero, false
	}
	return view, true
}

// ApplyEvents folds envelopes into the view with the given id and stores it.
//
// Envelopes already reflected in the view are skipped; the remaining ones are
// applied in sequence order. Nothing is written when no envelope is new. On
// failure the stored view is left as it was and a *appcore.QueryError is returned.
func (q *GenericQuery[V, E]) ApplyEvents(ctx context.Context, viewID string, envelopes []event.Envelope[E]) error {
	ordered := slices.Clone(envelopes)
	slices.SortStableFunc(ordered, func(a, b event.Envelope[E]) int {
		return a.Sequence - b.Sequence
	})

	for attempt := 0; ; attempt++ {
		err := q.apply(ctx, viewID, ordered)
		if err == nil {
			return nil
		}
		if !appcore.IsConcurrencyConflict(err) || attempt >= q.opts.retryOnConflict {
			return err
		}
		q.opts.logger.DebugContext(ctx, "view changed concurrently, reloading",
			slog.String("query", q.opts.name),
			slog.String("view_id", viewID),
			slog.Int("attempt", attempt+1),
		)
	}
}

// Dispatch applies envelopes like ApplyEvents and routes failures to the error handler.
func (q *GenericQuery[V, E]) Dispatch(ctx context.Context, viewID string, envelopes []event.Envelope[E]) {
	err := q.scheduler.DoContext(ctx, viewID, func() error {
		return q.ApplyEvents(ctx, viewID, envelopes)
	})
	if err == nil {
		return
	}

	var qerr *appcore.QueryError
	if !errors.As(err, &qerr) {
		qerr = q.queryError(viewID, "dispatch", err)
	}
	q.handle(ctx, qerr)
}

// Close waits for running dispatches; later dispatches fail with perkey.ErrSchedulerClosed.
func (q *GenericQuery[V, E]) Close() {
	q.scheduler.Close()
}

func (q *GenericQuery[V, E]) apply(ctx context.Context, viewID string, envelopes []event.Envelope[E]) error {
	view, vc, err := q.repo.LoadWithContext(ctx, viewID)
	switch {
	case errors.Is(err, appcore.ErrViewNotFound):
		view = q.newView()
		vc = appcore.NewViewContext(viewID)
	case err != nil:
		return q.queryError(viewID, "load", err)
	}

	applied := 0
	for _, env := range envelopes {
		if vc.Seen(env.AggregateID, env.Sequence) {
			continue
		}
		view.Update(env)
		vc.Advance(env.AggregateID, env.Sequence)
		applied++
	}
	if applied == 0 {
		return nil
	}

	if err = q.repo.UpdateView(ctx, view, vc); err != nil {
		return q.queryError(viewID, "update", err)
	}
	return nil
}

func (q *GenericQuery[V, E]) queryError(viewID, op string, err error) *appcore.QueryError {
	return &appcore.QueryError{Query: q.opts.name, ViewID: viewID, Op: op, Err: err}
}

func (q *GenericQuery[V, E]) handle(ctx context.Context, err *appcore.QueryError) {
	q.mu.RLock()
	h := q.handler
	q.mu.RUnlock()

	if h != nil {
		h(err)
		return
	}
	q.opts.logger.WarnContext(ctx, "query failed without error handler",
		slog.String("query", err.Query),
		slog.String("view_id", err.ViewID),
		slog.String("op", err.Op),
		slog.String("error", err.Err.Error()),
	)
}

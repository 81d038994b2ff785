package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/application/query"
	"github.com/lllypuk/actuality/internal/bootstrap"
	"github.com/lllypuk/actuality/internal/config"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
	"github.com/lllypuk/actuality/internal/infrastructure/eventbus"
	"github.com/lllypuk/actuality/internal/infrastructure/healthcheck"
	"github.com/lllypuk/actuality/internal/infrastructure/httpserver"
)

type activityQuery = query.GenericQuery[*query.StreamActivity, event.Raw]

// projection maintains the activity views of one aggregate type.
type projection struct {
	aggregateType string
	query         *activityQuery
}

type worker struct {
	container   *bootstrap.Container
	logger      *slog.Logger
	subscriber  *eventbus.RedisSubscriber[event.Raw]
	projections []projection
	stores      []bootstrap.RawStore
}

func newWorker(ctx context.Context, c *bootstrap.Container) (*worker, error) {
	cfg := c.Config
	w := &worker{container: c, logger: c.Logger}

	if strings.EqualFold(cfg.EventBus.Type, "redis") {
		retryCfg := eventbus.DefaultRetryConfig()
		retryCfg.MaxRetries = cfg.EventBus.MaxRetries
		w.subscriber = eventbus.NewRedisSubscriber[event.Raw](
			c.Redis,
			codec.RawCodec{},
			eventbus.WithLogger(c.Logger),
			eventbus.WithChannelPrefix(cfg.EventBus.RedisChannelPrefix),
			eventbus.WithRetryConfig(retryCfg),
		)
		c.Health.Critical(healthcheck.NewRunningChecker("eventbus", w.subscriber.IsRunning))
	}

	if len(cfg.EventBus.AggregateTypes) == 0 {
		w.logger.WarnContext(ctx, "no aggregate types configured, nothing to project")
	}

	for _, aggregateType := range cfg.EventBus.AggregateTypes {
		p, err := w.addProjection(ctx, aggregateType)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("projection %s: %w", aggregateType, err)
		}
		w.projections = append(w.projections, p)
	}

	return w, nil
}

func (w *worker) addProjection(ctx context.Context, aggregateType string) (projection, error) {
	cfg := w.container.Config

	repo, err := bootstrap.ViewRepository[*query.StreamActivity](ctx, w.container, "activity_"+aggregateType)
	if err != nil {
		return projection{}, err
	}

	q := query.New[*query.StreamActivity, event.Raw](
		repo,
		query.NewStreamActivity,
		query.WithName("activity/"+aggregateType),
		query.WithLogger(w.logger),
		query.WithRetryOnConflict(cfg.App.RetryOnConflict),
	)
	onError := w.container.Metrics.QueryErrorHandler(func(qe *appcore.QueryError) {
		w.logger.Warn("activity view update failed",
			slog.String("view_id", qe.ViewID),
			slog.String("op", qe.Op),
			slog.String("error", qe.Err.Error()),
		)
	})
	q.UseErrorHandler(onError)

	// The view can only be checked against a store every process can read.
	if cfg.Store.Backend != config.BackendMemory {
		store, storeErr := w.container.RawStore(ctx, aggregateType)
		if storeErr != nil {
			q.Close()
			return projection{}, storeErr
		}
		w.stores = append(w.stores, store)
		w.container.Health.Optional(
			healthcheck.NewViewSyncChecker[*query.StreamActivity, event.Raw]("view_sync_"+aggregateType, store, repo, 0),
		)
	}

	if w.subscriber != nil {
		subErr := w.subscriber.Subscribe(aggregateType, func(ctx context.Context, env event.Envelope[event.Raw]) error {
			applyErr := q.ApplyEvents(ctx, env.AggregateID, []event.Envelope[event.Raw]{env})
			var qe *appcore.QueryError
			if errors.As(applyErr, &qe) {
				onError(qe)
			}
			return applyErr
		})
		if subErr != nil {
			q.Close()
			return projection{}, subErr
		}
	}

	return projection{aggregateType: aggregateType, query: q}, nil
}

// run blocks until ctx ends or the subscriber stops.
func (w *worker) run(ctx context.Context) error {
	if w.subscriber == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return w.subscriber.Start(ctx)
}

func (w *worker) registerRoutes(e *echo.Echo) {
	httpserver.NewHealthEndpoints(w.container.Health).Register(e)
	httpserver.RegisterMetrics(e, w.container.Registry)

	for _, p := range w.projections {
		q := p.query
		httpserver.RegisterViews(e, "/views/"+p.aggregateType, func(ctx context.Context, viewID string) (any, bool) {
			view, ok := q.Load(ctx, viewID)
			return view, ok
		})
	}
}

// stop stops receiving and waits for queued envelopes.
func (w *worker) stop() {
	if w.subscriber == nil {
		return
	}
	if err := w.subscriber.Shutdown(); err != nil {
		w.logger.Error("failed to shut down subscriber", slog.String("error", err.Error()))
	}
}

func (w *worker) close() {
	for _, p := range w.projections {
		p.query.Close()
	}
	for _, s := range w.stores {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				w.logger.Error("failed to close event store", slog.String("error", err.Error()))
			}
		}
	}
}

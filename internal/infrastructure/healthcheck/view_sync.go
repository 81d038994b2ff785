package healthcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/projector"
)

const defaultSampleSize = 100

// ViewSyncChecker compares the head sequence of sampled aggregates with the
// positions stored in their views. A view that lags behind its stream makes
// the check unhealthy; run a rebuild to repair it.
type ViewSyncChecker[V any, E event.Event] struct {
	name       string
	source     projector.EventSource[E]
	views      appcore.ViewRepository[V]
	viewID     func(aggregateID string) string
	sampleSize int
}

// NewViewSyncChecker creates a checker over the first sampleSize aggregates of source.
func NewViewSyncChecker[V any, E event.Event](
	name string,
	source projector.EventSource[E],
	views appcore.ViewRepository[V],
	sampleSize int,
) *ViewSyncChecker[V, E] {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	return &ViewSyncChecker[V, E]{
		name:       name,
		source:     source,
		views:      views,
		viewID:     func(id string) string { return id },
		sampleSize: sampleSize,
	}
}

// Name returns the name of this health checker.
func (c *ViewSyncChecker[V, E]) Name() string { return c.name }

// Check performs the health check.
func (c *ViewSyncChecker[V, E]) Check(ctx context.Context) Status {
	lagging, checked, err := c.Lagging(ctx)
	if err != nil {
		return unhealthy(err.Error(), nil)
	}

	details := map[string]any{
		"checked": checked,
		"lagging": len(lagging),
	}
	if len(lagging) > 0 {
		details["aggregates"] = lagging
		return unhealthy(fmt.Sprintf("%d of %d views lag behind the event store", len(lagging), checked), details)
	}
	return healthy(fmt.Sprintf("%d views in sync", checked), details)
}

// Lagging returns the sampled aggregate ids whose view misses stored events.
func (c *ViewSyncChecker[V, E]) Lagging(ctx context.Context) ([]string, int, error) {
	ids, err := c.source.AggregateIDs(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list aggregates: %w", err)
	}
	if len(ids) > c.sampleSize {
		ids = ids[:c.sampleSize]
	}

	var lagging []string
	for _, id := range ids {
		envelopes, loadErr := c.source.LoadEvents(ctx, id)
		if loadErr != nil {
			return nil, 0, fmt.Errorf("failed to load events of %s: %w", id, loadErr)
		}
		if len(envelopes) == 0 {
			continue
		}
		head := envelopes[len(envelopes)-1].Sequence

		_, vc, viewErr := c.views.LoadWithContext(ctx, c.viewID(id))
		switch {
		case errors.Is(viewErr, appcore.ErrViewNotFound):
			lagging = append(lagging, id)
		case viewErr != nil:
			return nil, 0, fmt.Errorf("failed to load view of %s: %w", id, viewErr)
		case !vc.Seen(id, head):
			lagging = append(lagging, id)
		}
	}
	return lagging, len(ids), nil
}

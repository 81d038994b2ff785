package appcore

import (
	"context"

	"github.com/lllypuk/actuality/internal/domain/event"
)

// Query consumes newly committed envelopes, typically to maintain read models.
// Queries are downstream of the write path and can not fail it: Dispatch has no
// error result and implementations handle their own failures.
type Query[E event.Event] interface {
	Dispatch(ctx context.Context, viewID string, envelopes []event.Envelope[E])
}

// View is a read model built by folding committed envelopes.
type View[E event.Event] interface {
	Update(env event.Envelope[E])
}

// ViewContext is the positional context persisted next to a view.
type ViewContext struct {
	// ViewID identifies the view. It may differ from the aggregate id for
	// grouped or global views.
	ViewID string `json:"view_id" bson:"view_id"`
	// Version is incremented on every successful update. 0 means the view was
	// never stored.
	Version int `json:"version" bson:"version"`
	// Positions maps aggregate id to the last sequence reflected in the view.
	Positions map[string]int `json:"positions,omitempty" bson:"positions,omitempty"`
}

// NewViewContext returns the context of a view that has not been stored yet.
func NewViewContext(viewID string) ViewContext {
	return ViewContext{ViewID: viewID, Positions: map[string]int{}}
}

// Seen reports whether the envelope for aggregateID at sequence is already reflected.
func (vc ViewContext) Seen(aggregateID string, sequence int) bool {
	return vc.Positions[aggregateID] >= sequence
}

// Advance records that the view reflects aggregateID up to sequence.
func (vc *ViewContext) Advance(aggregateID string, sequence int) {
	if vc.Positions == nil {
		vc.Positions = map[string]int{}
	}
	if sequence > vc.Positions[aggregateID] {
		vc.Positions[aggregateID] = sequence
	}
}

// ViewRepository loads and stores views together with their context.
type ViewRepository[V any] interface {
	// LoadWithContext returns the stored view, or ErrViewNotFound.
	LoadWithContext(ctx context.Context, viewID string) (V, ViewContext, error)

	// UpdateView stores the view if the stored version still equals vc.Version,
	// otherwise it returns ErrConcurrencyConflict and leaves the stored view unchanged.
	UpdateView(ctx context.Context, view V, vc ViewContext) error
}

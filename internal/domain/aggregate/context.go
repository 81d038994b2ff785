package aggregate

import (
	"github.com/lllypuk/actuality/internal/domain/event"
)

// Context is the transient result of loading an aggregate: replayed state plus the
// sequence of the last applied event.
//
// A Context anchors the next commit. It is consumed by exactly one commit; stores
// reject a second commit made from the same Context as a concurrency conflict.
type Context[A any] struct {
	// AggregateID is the identity of the loaded aggregate instance.
	AggregateID string
	// Aggregate is the replayed state.
	Aggregate A
	// CurrentSequence is the last committed sequence, 0 if no events exist yet.
	CurrentSequence int
}

// Replay folds envelopes through Apply starting from the default state.
func Replay[A Root[E], E event.Event](
	newAggregate Factory[A],
	aggregateID string,
	envelopes []event.Envelope[E],
) *Context[A] {
	agg := newAggregate()
	current := 0
	for _, env := range envelopes {
		agg.Apply(env.Payload)
		current = env.Sequence
	}
	return &Context[A]{
		AggregateID:     aggregateID,
		Aggregate:       agg,
		CurrentSequence: current,
	}
}

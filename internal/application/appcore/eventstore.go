package appcore

import (
	"context"

	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
)

// StoreContext carries process-level settings handed to a store during Init.
type StoreContext struct {
	// ServiceName identifies the running service in logs and store metadata.
	ServiceName string
	// SystemID tags every committed envelope, e.g. with a build hash.
	SystemID string
}

// EventStore is the append-only log of events per aggregate.
// The interface is declared here (on the consumer side - application layer),
// not in infrastructure, following idiomatic Go approach.
type EventStore[A aggregate.Root[E], E event.Event] interface {
	// Init runs one-time setup: connections, indexes, stream definitions.
	Init(ctx context.Context, sc StoreContext) error

	// LoadEvents returns the committed envelopes for an aggregate in ascending
	// sequence order. An unknown aggregate yields an empty slice and no error.
	LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope[E], error)

	// LoadAggregate replays the committed events from the default state.
	LoadAggregate(ctx context.Context, aggregateID string) (*aggregate.Context[A], error)

	// Commit appends events after ac.CurrentSequence and returns the new envelopes.
	// An empty events slice is a no-op. If the log moved past ac.CurrentSequence
	// the commit fails with ErrConcurrencyConflict and nothing is written.
	Commit(
		ctx context.Context,
		events []E,
		ac *aggregate.Context[A],
		metadata map[string]string,
	) ([]event.Envelope[E], error)
}

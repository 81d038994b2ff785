// Package aggregate defines the contract of event-sourced domain entities.
package aggregate

import (
	"context"

	"github.com/lllypuk/actuality/internal/domain/event"
)

// Root is the part of an aggregate a store needs to rebuild state.
type Root[E event.Event] interface {
	// AggregateType returns the constant type name of the aggregate.
	AggregateType() string

	// Apply mutates state with a single event. It is the only way state changes
	// and must never fail: validation belongs in Handle.
	Apply(evt E)
}

// Aggregate is a domain entity type with its command, event and services types.
//
// C is the command type, E the event type and S the external services the
// aggregate needs to decide commands (clocks, validators, lookups).
type Aggregate[C any, E event.Event, S any] interface {
	Root[E]

	// Handle decides which events, if any, a command implies given the current
	// state. It must not mutate state. A rejected command is reported as an error
	// and no events are committed.
	Handle(ctx context.Context, cmd C, services S) ([]E, error)
}

// Factory returns a fresh aggregate in its default (empty) state.
type Factory[A any] func() A

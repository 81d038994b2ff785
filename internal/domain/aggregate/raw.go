package aggregate

import "github.com/lllypuk/actuality/internal/domain/event"

// RawRoot is a type-erased aggregate for tooling that reads streams without
// knowing their event types. It only tracks what it has seen.
type RawRoot struct {
	Type          string
	Events        int
	LastEventType string
}

// RawFactory returns a Factory of RawRoot for the given aggregate type.
func RawFactory(aggregateType string) Factory[*RawRoot] {
	return func() *RawRoot {
		return &RawRoot{Type: aggregateType}
	}
}

// AggregateType returns the aggregate type the root was created for.
func (r *RawRoot) AggregateType() string { return r.Type }

// Apply counts the event.
func (r *RawRoot) Apply(evt event.Raw) {
	r.Events++
	r.LastEventType = evt.Type
}

// Package event defines domain events and the envelopes they are stored in.
package event

// Event is an immutable fact that already happened to an aggregate.
//
// Events are named in the past tense (AccountOpened, EmailChanged) and must be
// serializable. EventType and EventVersion identify the payload schema and are
// recorded on every envelope so stored events can be upcast later.
type Event interface {
	// EventType returns the event type name
	EventType() string

	// EventVersion returns the schema version of the event type
	EventVersion() string
}

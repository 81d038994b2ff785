package event

import (
	"time"
)

// Envelope is the durable record of a single event.
//
// The pair (AggregateID, Sequence) is unique. For one aggregate the sequences form
// the run 1..N without gaps.
type Envelope[E Event] struct {
	// ID uniquely identifies the envelope among all envelopes of all aggregates.
	ID string `json:"id"`
	// AggregateID is the identity of the aggregate instance that emitted the event.
	AggregateID string `json:"aggregate_id"`
	// AggregateType is the type name of the emitting aggregate.
	AggregateType string `json:"aggregate_type"`
	// SystemID identifies the system that committed the event, e.g. a build hash.
	SystemID string `json:"system_id,omitempty"`
	// Sequence is the position of the event within its aggregate, starting at 1.
	Sequence int `json:"sequence"`
	// EventType and EventVersion are copied from the payload at commit time.
	EventType    string `json:"event_type"`
	EventVersion string `json:"event_version"`
	// Payload is the event itself.
	Payload E `json:"payload"`
	// Metadata carries causation and audit data. Every envelope owns its copy.
	Metadata map[string]string `json:"metadata,omitempty"`
	// OccurredAt is the commit time.
	OccurredAt time.Time `json:"occurred_at"`
}

// Payloads returns the payloads of the given envelopes in order.
func Payloads[E Event](envelopes []Envelope[E]) []E {
	out := make([]E, 0, len(envelopes))
	for _, env := range envelopes {
		out = append(out, env.Payload)
	}
	return out
}

// LastSequence returns the sequence of the last envelope, or 0 if there are none.
func LastSequence[E Event](envelopes []Envelope[E]) int {
	if len(envelopes) == 0 {
		return 0
	}
	return envelopes[len(envelopes)-1].Sequence
}

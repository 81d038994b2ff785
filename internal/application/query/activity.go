package query

import (
	"time"

	"github.com/lllypuk/actuality/internal/domain/event"
)

// StreamActivity summarizes the envelopes of one or more aggregates without
// knowing their event types in advance.
type StreamActivity struct {
	AggregateType  string         `json:"aggregate_type" bson:"aggregate_type"`
	EventCount     int            `json:"event_count" bson:"event_count"`
	LastSequence   int            `json:"last_sequence" bson:"last_sequence"`
	LastEventType  string         `json:"last_event_type" bson:"last_event_type"`
	LastEventID    string         `json:"last_event_id" bson:"last_event_id"`
	LastOccurredAt time.Time      `json:"last_occurred_at" bson:"last_occurred_at"`
	EventTypes     map[string]int `json:"event_types" bson:"event_types"`
}

// NewStreamActivity returns an empty activity view.
func NewStreamActivity() *StreamActivity {
	return &StreamActivity{EventTypes: map[string]int{}}
}

// Update counts one envelope.
func (a *StreamActivity) Update(env event.Envelope[event.Raw]) {
	if a.EventTypes == nil {
		a.EventTypes = map[string]int{}
	}
	a.AggregateType = env.AggregateType
	a.EventCount++
	a.EventTypes[env.EventType]++
	if env.Sequence > a.LastSequence {
		a.LastSequence = env.Sequence
		a.LastEventType = env.EventType
		a.LastEventID = env.ID
		a.LastOccurredAt = env.OccurredAt
	}
}

package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lllypuk/actuality/internal/domain/event"
)

// Record is the codec-neutral wire form of an envelope: the payload is kept as
// encoded bytes so it can be decoded once the event type is known.
type Record struct {
	ID            string            `json:"id"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	SystemID      string            `json:"system_id,omitempty"`
	Sequence      int               `json:"sequence"`
	EventType     string            `json:"event_type"`
	EventVersion  string            `json:"event_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// ToRecord encodes env with c.
func ToRecord[E event.Event](c Codec[E], env event.Envelope[E]) (Record, error) {
	payload, err := c.Encode(env.Payload)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:            env.ID,
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		SystemID:      env.SystemID,
		Sequence:      env.Sequence,
		EventType:     env.EventType,
		EventVersion:  env.EventVersion,
		Payload:       payload,
		Metadata:      env.Metadata,
		OccurredAt:    env.OccurredAt,
	}, nil
}

// FromRecord decodes r with c.
func FromRecord[E event.Event](c Codec[E], r Record) (event.Envelope[E], error) {
	payload, err := c.Decode(r.EventType, r.EventVersion, r.Payload)
	if err != nil {
		return event.Envelope[E]{}, fmt.Errorf("envelope %s/%d: %w", r.AggregateID, r.Sequence, err)
	}
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return event.Envelope[E]{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		SystemID:      r.SystemID,
		Sequence:      r.Sequence,
		EventType:     r.EventType,
		EventVersion:  r.EventVersion,
		Payload:       payload,
		Metadata:      metadata,
		OccurredAt:    r.OccurredAt,
	}, nil
}

// MarshalEnvelope encodes env as a JSON Record.
func MarshalEnvelope[E event.Event](c Codec[E], env event.Envelope[E]) ([]byte, error) {
	r, err := ToRecord(c, env)
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// UnmarshalEnvelope decodes a JSON Record produced by MarshalEnvelope.
func UnmarshalEnvelope[E event.Event](c Codec[E], data []byte) (event.Envelope[E], error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return event.Envelope[E]{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return FromRecord(c, r)
}

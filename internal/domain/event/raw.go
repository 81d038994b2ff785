package event

import "encoding/json"

// Raw is a type-erased event. Tools and downstream consumers that do not know
// the concrete event types of an aggregate work with Raw payloads.
//
// Raw encodes to JSON as its Data only; the type and version travel on the envelope.
type Raw struct {
	Type    string
	Version string
	Data    json.RawMessage
}

// EventType returns the original event type.
func (r Raw) EventType() string { return r.Type }

// EventVersion returns the original event version.
func (r Raw) EventVersion() string { return r.Version }

// Decode unmarshals the raw payload into v.
func (r Raw) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// MarshalJSON implements json.Marshaler.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return []byte("null"), nil
	}
	return r.Data, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Raw) UnmarshalJSON(data []byte) error {
	r.Data = append(r.Data[:0], data...)
	return nil
}

// RawEnvelope returns a copy of env with a Raw payload carrying the envelope's
// event type and version.
func RawEnvelope[E Event](env Envelope[E]) (Envelope[Raw], error) {
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return Envelope[Raw]{}, err
	}
	return Envelope[Raw]{
		ID:            env.ID,
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		SystemID:      env.SystemID,
		Sequence:      env.Sequence,
		EventType:     env.EventType,
		EventVersion:  env.EventVersion,
		Payload:       Raw{Type: env.EventType, Version: env.EventVersion, Data: data},
		Metadata:      env.Metadata,
		OccurredAt:    env.OccurredAt,
	}, nil
}

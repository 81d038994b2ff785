package eventstore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
)

// EventDocument represents an event document in MongoDB
type EventDocument struct {
	ID string `bson:"_id"`

	AggregateID   string            `bson:"aggregate_id"`
	AggregateType string            `bson:"aggregate_type"`
	SystemID      string            `bson:"system_id,omitempty"`
	Sequence      int               `bson:"sequence"`
	EventType     string            `bson:"event_type"`
	EventVersion  string            `bson:"event_version"`
	Data          bson.D            `bson:"data"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	OccurredAt    time.Time         `bson:"occurred_at"`
	CreatedAt     time.Time         `bson:"created_at"`
}

// EventSerializer converts envelopes to MongoDB documents and back.
// Payloads go through the codec as JSON and are stored as a nested document,
// so they stay queryable in the database.
type EventSerializer[E event.Event] struct {
	codec codec.Codec[E]
}

// NewEventSerializer creates a serializer over the given codec
func NewEventSerializer[E event.Event](c codec.Codec[E]) *EventSerializer[E] {
	return &EventSerializer[E]{codec: c}
}

// Serialize converts an envelope into a document
func (s *EventSerializer[E]) Serialize(env event.Envelope[E]) (*EventDocument, error) {
	jsonData, err := s.codec.Encode(env.Payload)
	if err != nil {
		return nil, err
	}

	var data bson.D
	if err = bson.UnmarshalExtJSON(jsonData, false, &data); err != nil {
		return nil, fmt.Errorf("failed to convert event %s to document: %w", env.EventType, err)
	}

	return &EventDocument{
		ID:            env.ID,
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		SystemID:      env.SystemID,
		Sequence:      env.Sequence,
		EventType:     env.EventType,
		EventVersion:  env.EventVersion,
		Data:          data,
		Metadata:      env.Metadata,
		OccurredAt:    env.OccurredAt,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// SerializeMany serializes several envelopes at once
func (s *EventSerializer[E]) SerializeMany(envelopes []event.Envelope[E]) ([]*EventDocument, error) {
	documents := make([]*EventDocument, 0, len(envelopes))

	for _, env := range envelopes {
		doc, err := s.Serialize(env)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize event at index %d: %w", len(documents), err)
		}
		documents = append(documents, doc)
	}

	return documents, nil
}

// Deserialize converts a document back into an envelope
func (s *EventSerializer[E]) Deserialize(doc *EventDocument) (event.Envelope[E], error) {
	jsonData, err := bson.MarshalExtJSON(doc.Data, false, false)
	if err != nil {
		return event.Envelope[E]{}, fmt.Errorf("failed to marshal BSON to JSON: %w", err)
	}

	payload, err := s.codec.Decode(doc.EventType, doc.EventVersion, jsonData)
	if err != nil {
		return event.Envelope[E]{}, err
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	return event.Envelope[E]{
		ID:            doc.ID,
		AggregateID:   doc.AggregateID,
		AggregateType: doc.AggregateType,
		SystemID:      doc.SystemID,
		Sequence:      doc.Sequence,
		EventType:     doc.EventType,
		EventVersion:  doc.EventVersion,
		Payload:       payload,
		Metadata:      metadata,
		OccurredAt:    doc.OccurredAt.UTC(),
	}, nil
}

// DeserializeMany deserializes several documents at once
func (s *EventSerializer[E]) DeserializeMany(docs []*EventDocument) ([]event.Envelope[E], error) {
	envelopes := make([]event.Envelope[E], 0, len(docs))

	for i, doc := range docs {
		env, err := s.Deserialize(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize event at index %d: %w", i, err)
		}
		envelopes = append(envelopes, env)
	}

	return envelopes, nil
}

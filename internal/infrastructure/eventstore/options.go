// Package eventstore contains EventStore backends: an in-process reference store,
// MongoDB and NATS JetStream.
package eventstore

import (
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/lllypuk/actuality/internal/domain/event"
)

const (
	defaultCollection    = "events"
	defaultStreamName    = "ACTUALITY_EVENTS"
	defaultSubjectPrefix = "actuality.events"
)

type storeOptions struct {
	logger        *slog.Logger
	now           func() time.Time
	collection    string
	streamName    string
	subjectPrefix string
	stream        StreamSettings

	// Init may replace the system id while commits are running.
	systemID atomic.Pointer[string]
}

func newStoreOptions(opts []Option) *storeOptions {
	o := &storeOptions{
		logger:        slog.Default(),
		now:           time.Now,
		collection:    defaultCollection,
		streamName:    defaultStreamName,
		subjectPrefix: defaultSubjectPrefix,
		stream:        StreamSettings{Storage: jetstream.FileStorage, Replicas: 1},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures an event store backend.
type Option func(*storeOptions)

// WithLogger sets the logger for event store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSystemID stamps committed envelopes with the given system id.
// A non-empty StoreContext.SystemID passed to Init takes precedence.
func WithSystemID(systemID string) Option {
	return func(o *storeOptions) {
		o.setSystemID(systemID)
	}
}

func (o *storeOptions) setSystemID(systemID string) {
	o.systemID.Store(&systemID)
}

func (o *storeOptions) currentSystemID() string {
	if id := o.systemID.Load(); id != nil {
		return *id
	}
	return ""
}

// WithClock overrides the commit time source.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCollection sets the MongoDB collection name (default "events").
func WithCollection(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithStream sets the JetStream stream name and subject prefix.
func WithStream(streamName, subjectPrefix string) Option {
	return func(o *storeOptions) {
		if streamName != "" {
			o.streamName = streamName
		}
		if subjectPrefix != "" {
			o.subjectPrefix = subjectPrefix
		}
	}
}

// StreamSettings are applied when the JetStream stream is created or updated.
// There are no retention limits: messages are never removed from the log.
type StreamSettings struct {
	Storage         jetstream.StorageType
	Replicas        int
	MaxMsgSize      int32
	DuplicateWindow time.Duration
}

// WithStreamSettings sets storage, replicas and message limits of the stream.
// Zero Replicas keeps 1; zero MaxMsgSize and DuplicateWindow keep the server defaults.
func WithStreamSettings(settings StreamSettings) Option {
	return func(o *storeOptions) {
		if settings.Replicas <= 0 {
			settings.Replicas = 1
		}
		o.stream = settings
	}
}

// buildEnvelopes wraps events into envelopes numbered after current.
// Every envelope receives its own copy of metadata.
func buildEnvelopes[E event.Event](
	aggregateType, aggregateID, systemID string,
	current int,
	events []E,
	metadata map[string]string,
	occurredAt time.Time,
) []event.Envelope[E] {
	envelopes := make([]event.Envelope[E], 0, len(events))
	for i, evt := range events {
		md := maps.Clone(metadata)
		if md == nil {
			md = map[string]string{}
		}
		envelopes = append(envelopes, event.Envelope[E]{
			ID:            uuid.NewString(),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			SystemID:      systemID,
			Sequence:      current + i + 1,
			EventType:     evt.EventType(),
			EventVersion:  evt.EventVersion(),
			Payload:       evt,
			Metadata:      md,
			OccurredAt:    occurredAt,
		})
	}
	return envelopes
}

// cloneEnvelopes copies envelopes together with their metadata maps, so the
// caller cannot change a stored log through the returned slice.
func cloneEnvelopes[E event.Event](envelopes []event.Envelope[E]) []event.Envelope[E] {
	out := make([]event.Envelope[E], len(envelopes))
	for i, env := range envelopes {
		env.Metadata = maps.Clone(env.Metadata)
		out[i] = env
	}
	return out
}

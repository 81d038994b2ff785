// Package codec encodes event payloads and envelopes for durable storage and transport.
package codec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/event"
)

// Codec converts event payloads to bytes and back.
type Codec[E event.Event] interface {
	// Encode serializes the payload.
	Encode(evt E) ([]byte, error)
	// Decode restores a payload of the given type and version.
	Decode(eventType, eventVersion string, data []byte) (E, error)
}

// JSONCodec is a registry of event constructors keyed by event type.
type JSONCodec[E event.Event] struct {
	mu    sync.RWMutex
	ctors map[string]func() E
}

// NewJSONCodec creates a codec and registers the given constructors.
func NewJSONCodec[E event.Event](ctors ...func() E) *JSONCodec[E] {
	c := &JSONCodec[E]{ctors: make(map[string]func() E)}
	c.Register(ctors...)
	return c
}

// Register adds constructors. The type name is taken from a sample's EventType,
// so a constructor must return a pointer that can be unmarshaled into.
func (c *JSONCodec[E]) Register(ctors ...func() E) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ctor := range ctors {
		c.ctors[ctor().EventType()] = ctor
	}
}

// Types returns the registered event types.
func (c *JSONCodec[E]) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.ctors))
	for t := range c.ctors {
		out = append(out, t)
	}
	return out
}

// Encode serializes the payload as JSON.
func (c *JSONCodec[E]) Encode(evt E) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Decode restores a payload with the registered constructor for eventType.
func (c *JSONCodec[E]) Decode(eventType, _ string, data []byte) (E, error) {
	var zero E

	c.mu.RLock()
	ctor, ok := c.ctors[eventType]
	c.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", appcore.ErrUnknownEventType, eventType)
	}

	evt := ctor()
	if err := json.Unmarshal(data, evt); err != nil {
		return zero, fmt.Errorf("failed to unmarshal event %s: %w", eventType, err)
	}
	return evt, nil
}

// RawCodec passes payloads through untouched. It decodes any event type.
type RawCodec struct{}

// Encode returns the raw payload bytes.
func (RawCodec) Encode(evt event.Raw) ([]byte, error) {
	return evt.MarshalJSON()
}

// Decode wraps the bytes into a Raw event.
func (RawCodec) Decode(eventType, eventVersion string, data []byte) (event.Raw, error) {
	return event.Raw{
		Type:    eventType,
		Version: eventVersion,
		Data:    append(json.RawMessage(nil), data...),
	}, nil
}

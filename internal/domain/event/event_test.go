package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventDomain "github.com/lllypuk/actuality/internal/domain/event"
)

type noteAdded struct {
	Text string `json:"text"`
}

func (*noteAdded) EventType() string    { return "note.added" }
func (*noteAdded) EventVersion() string { return "1.0" }

func TestNewMetadata(t *testing.T) {
	// Arrange
	userID := "user-123"
	correlationID := "corr-456"
	causationID := "cause-789"

	// Act
	metadata := eventDomain.NewMetadata(userID, correlationID, causationID)

	// Assert
	assert.Equal(t, userID, metadata[eventDomain.MetadataUserID])
	assert.Equal(t, correlationID, metadata[eventDomain.MetadataCorrelationID])
	assert.Equal(t, causationID, metadata[eventDomain.MetadataCausationID])
	assert.WithinDuration(t, time.Now(), metadata.Timestamp(), time.Second)
}

func TestNewMetadata_SkipsEmptyValues(t *testing.T) {
	metadata := eventDomain.NewMetadata("", "corr-1", "")

	assert.NotContains(t, metadata, eventDomain.MetadataUserID)
	assert.NotContains(t, metadata, eventDomain.MetadataCausationID)
	assert.Equal(t, "corr-1", metadata[eventDomain.MetadataCorrelationID])
}

func TestMetadata_WithIPAddress(t *testing.T) {
	// Arrange
	metadata := eventDomain.NewMetadata("user-1", "corr-1", "cause-1")
	ip := "192.168.1.1"

	// Act
	updated := metadata.WithIPAddress(ip)

	// Assert
	assert.Equal(t, ip, updated[eventDomain.MetadataIPAddress])
	assert.Equal(t, metadata[eventDomain.MetadataUserID], updated[eventDomain.MetadataUserID])
	assert.NotContains(t, metadata, eventDomain.MetadataIPAddress, "original must not be mutated")
}

func TestMetadata_WithUserAgent(t *testing.T) {
	metadata := eventDomain.NewMetadata("user-1", "corr-1", "cause-1")
	ua := "Mozilla/5.0"

	updated := metadata.WithUserAgent(ua)

	assert.Equal(t, ua, updated[eventDomain.MetadataUserAgent])
	assert.NotContains(t, metadata, eventDomain.MetadataUserAgent)
}

func TestMetadata_Clone(t *testing.T) {
	t.Run("nil yields empty map", func(t *testing.T) {
		var m eventDomain.Metadata
		c := m.Clone()
		require.NotNil(t, c)
		assert.Empty(t, c)
	})

	t.Run("copy is independent", func(t *testing.T) {
		m := eventDomain.Metadata{"k": "v"}
		c := m.Clone()
		c["k"] = "changed"
		assert.Equal(t, "v", m["k"])
	})
}

func TestMetadata_Timestamp_Malformed(t *testing.T) {
	m := eventDomain.Metadata{eventDomain.MetadataTimestamp: "yesterday"}
	assert.True(t, m.Timestamp().IsZero())
}

func TestEnvelopeHelpers(t *testing.T) {
	envelopes := []eventDomain.Envelope[*noteAdded]{
		{AggregateID: "n-1", Sequence: 1, Payload: &noteAdded{Text: "a"}},
		{AggregateID: "n-1", Sequence: 2, Payload: &noteAdded{Text: "b"}},
	}

	t.Run("Payloads", func(t *testing.T) {
		payloads := eventDomain.Payloads(envelopes)
		require.Len(t, payloads, 2)
		assert.Equal(t, "a", payloads[0].Text)
		assert.Equal(t, "b", payloads[1].Text)
	})

	t.Run("LastSequence", func(t *testing.T) {
		assert.Equal(t, 2, eventDomain.LastSequence(envelopes))
		assert.Equal(t, 0, eventDomain.LastSequence[*noteAdded](nil))
	})
}

func TestEnvelope_JSON(t *testing.T) {
	env := eventDomain.Envelope[*noteAdded]{
		ID:            "env-1",
		AggregateID:   "n-1",
		AggregateType: "note",
		Sequence:      3,
		EventType:     "note.added",
		EventVersion:  "1.0",
		Payload:       &noteAdded{Text: "hello"},
		Metadata:      map[string]string{"user_id": "u-1"},
		OccurredAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw eventDomain.Envelope[eventDomain.Raw]
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 3, raw.Sequence)
	assert.Equal(t, "note.added", raw.EventType)
	assert.JSONEq(t, `{"text":"hello"}`, string(raw.Payload.Data))
}

func TestRawEnvelope(t *testing.T) {
	env := eventDomain.Envelope[*noteAdded]{
		AggregateID:  "n-1",
		Sequence:     1,
		EventType:    "note.added",
		EventVersion: "1.0",
		Payload:      &noteAdded{Text: "hi"},
	}

	raw, err := eventDomain.RawEnvelope(env)
	require.NoError(t, err)

	assert.Equal(t, "note.added", raw.Payload.EventType())
	assert.Equal(t, "1.0", raw.Payload.EventVersion())
	assert.JSONEq(t, `{"text":"hi"}`, string(raw.Payload.Data))
	assert.Equal(t, 1, raw.Sequence)
}

func TestRaw(t *testing.T) {
	r := eventDomain.Raw{Type: "note.added", Version: "1.0", Data: json.RawMessage(`{"text":"x"}`)}

	assert.Equal(t, "note.added", r.EventType())
	assert.Equal(t, "1.0", r.EventVersion())

	var n noteAdded
	require.NoError(t, r.Decode(&n))
	assert.Equal(t, "x", n.Text)

	var _ eventDomain.Event = r
}

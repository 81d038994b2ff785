package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/domain/event"
)

// RequireGapless checks that the envelopes of one aggregate are numbered 1..N
// and carry distinct ids.
func RequireGapless[E event.Event](t *testing.T, envelopes []event.Envelope[E]) {
	t.Helper()

	seen := make(map[string]struct{}, len(envelopes))
	for i, env := range envelopes {
		require.Equal(t, i+1, env.Sequence, "envelope %d has sequence %d", i, env.Sequence)
		require.NotEmpty(t, env.ID, "envelope %d has no id", i)
		_, dup := seen[env.ID]
		require.False(t, dup, "envelope id %s is not unique", env.ID)
		seen[env.ID] = struct{}{}
	}
}

// AssertEventTypes checks the event types of the envelopes in order
func AssertEventTypes[E event.Event](t *testing.T, envelopes []event.Envelope[E], expected ...string) {
	t.Helper()

	actual := make([]string, 0, len(envelopes))
	for _, env := range envelopes {
		actual = append(actual, env.EventType)
	}
	assert.Equal(t, expected, actual)
}

// AssertAggregate checks aggregate type and id of every envelope
func AssertAggregate[E event.Event](t *testing.T, envelopes []event.Envelope[E], aggregateType, aggregateID string) {
	t.Helper()

	for _, env := range envelopes {
		assert.Equal(t, aggregateType, env.AggregateType, "envelope %d", env.Sequence)
		assert.Equal(t, aggregateID, env.AggregateID, "envelope %d", env.Sequence)
	}
}

// AssertMetadata checks that every envelope carries the given metadata entries.
func AssertMetadata[E event.Event](t *testing.T, envelopes []event.Envelope[E], expected map[string]string) {
	t.Helper()

	for _, env := range envelopes {
		for k, v := range expected {
			assert.Equal(t, v, env.Metadata[k], "envelope %d metadata %q", env.Sequence, k)
		}
	}
}

// ==================== Time Assertions ====================

// AssertTimeApproximatelyEqual checks, that two time approximately equal
// with acceptable tolerance delta (usually time.Second or time.Millisecond)
func AssertTimeApproximatelyEqual(t *testing.T, expected, actual time.Time, delta time.Duration, msgAndArgs ...any) {
	t.Helper()

	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	assert.LessOrEqual(t, diff, delta, append([]any{
		"expected time %v to be within %v of %v, but difference was %v",
		actual, delta, expected, diff,
	}, msgAndArgs...)...)
}

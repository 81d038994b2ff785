package eventstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/eventstore"
	"github.com/lllypuk/actuality/tests/fixtures"
)

func newMemoryStore(opts ...eventstore.Option) *eventstore.MemoryStore[*fixtures.TestAggregate, fixtures.TestEvent] {
	return eventstore.NewMemoryStore[*fixtures.TestAggregate, fixtures.TestEvent](fixtures.NewTestAggregate, opts...)
}

func TestMemoryStore_CommitAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	require.NoError(t, store.Init(ctx, appcore.StoreContext{ServiceName: "test", SystemID: "build-1"}))

	id := "test_id_A"

	initial, err := store.LoadEvents(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, initial)
	assert.Empty(t, initial)

	ac, err := store.LoadAggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, ac.CurrentSequence)

	committed, err := store.Commit(ctx,
		[]fixtures.TestEvent{&fixtures.Created{ID: "test_event_A"}},
		ac, fixtures.TestMetadata())
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, 1, committed[0].Sequence)
	assert.Equal(t, fixtures.AggregateType, committed[0].AggregateType)
	assert.Equal(t, fixtures.EventCreated, committed[0].EventType)
	assert.Equal(t, "1.0", committed[0].EventVersion)
	assert.Equal(t, "build-1", committed[0].SystemID)
	assert.NotEmpty(t, committed[0].ID)

	stored, err := store.LoadEvents(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	ac, err = store.LoadAggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, ac.CurrentSequence)

	_, err = store.Commit(ctx, []fixtures.TestEvent{
		&fixtures.Tested{TestName: "test A"},
		&fixtures.Tested{TestName: "test B"},
		&fixtures.SomethingElse{Description: "something else happening here"},
	}, ac, fixtures.TestMetadata())
	require.NoError(t, err)

	stored, err = store.LoadEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for i, env := range stored {
		assert.Equal(t, i+1, env.Sequence)
		assert.Equal(t, id, env.AggregateID)
		assert.Equal(t, fixtures.TestMetadata(), env.Metadata)
	}

	agg := fixtures.NewTestAggregate()
	for _, env := range stored {
		agg.Apply(env.Payload)
	}
	assert.Equal(t, &fixtures.TestAggregate{
		ID:          "test_event_A",
		Description: "something else happening here",
		Tests:       []string{"test A", "test B"},
	}, agg)

	replayed, err := store.LoadAggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, agg, replayed.Aggregate)
	assert.Equal(t, 4, replayed.CurrentSequence)
}

func TestMemoryStore_EmptyCommitIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	ac, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)

	committed, err := store.Commit(ctx, nil, ac, nil)
	require.NoError(t, err)
	assert.Empty(t, committed)
	ids, err := store.AggregateIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// the same context is still usable afterwards
	_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: "a-1"}}, ac, nil)
	require.NoError(t, err)
	ids, err = store.AggregateIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1"}, ids)
}

func TestMemoryStore_StaleContextConflicts(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	first, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)
	second, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)

	_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Tested{TestName: "one"}}, first, nil)
	require.NoError(t, err)

	_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Tested{TestName: "two"}}, second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

	// a context is consumed by one commit
	_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Tested{TestName: "three"}}, first, nil)
	assert.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

	stored, err := store.LoadEvents(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, &fixtures.Tested{TestName: "one"}, stored[0].Payload)
}

func TestMemoryStore_ConcurrentCommitsFromSameContext(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	ac, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)

	const workers = 32
	var succeeded, conflicted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			snapshot := *ac
			_, err := store.Commit(ctx, []fixtures.TestEvent{&fixtures.SomethingElse{Description: string(rune('a' + i))}}, &snapshot, nil)
			switch {
			case err == nil:
				succeeded.Add(1)
			case appcore.IsConcurrencyConflict(err):
				conflicted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), conflicted.Load())

	stored, err := store.LoadEvents(ctx, "a-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestMemoryStore_ConcurrentWritersWithRetryKeepGaplessLog(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ac, err := store.LoadAggregate(ctx, "a-1")
				if !assert.NoError(t, err) {
					return
				}
				_, err = store.Commit(ctx, []fixtures.TestEvent{
					&fixtures.Tested{TestName: string(rune('A' + i))},
					&fixtures.Tested{TestName: string(rune('a' + i))},
				}, ac, nil)
				if err == nil {
					return
				}
				if !appcore.IsConcurrencyConflict(err) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stored, err := store.LoadEvents(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, stored, 2*writers)
	for i, env := range stored {
		assert.Equal(t, i+1, env.Sequence)
	}
	// batches stay contiguous
	for i := 0; i < len(stored); i += 2 {
		upper := stored[i].Payload.(*fixtures.Tested).TestName
		lower := stored[i+1].Payload.(*fixtures.Tested).TestName
		assert.Equal(t, rune(upper[0])+('a'-'A'), rune(lower[0]))
	}
}

func TestMemoryStore_MetadataIsCopiedPerEnvelope(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	ac, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)

	md := map[string]string{"k": "v"}
	committed, err := store.Commit(ctx, []fixtures.TestEvent{
		&fixtures.Tested{TestName: "one"},
		&fixtures.Tested{TestName: "two"},
	}, ac, md)
	require.NoError(t, err)

	md["k"] = "changed"
	committed[0].Metadata["k"] = "mutated"

	stored, err := store.LoadEvents(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "v", stored[0].Metadata["k"])
	assert.Equal(t, "v", stored[1].Metadata["k"])
	assert.NotEqual(t, stored[0].ID, stored[1].ID)
}

func TestMemoryStore_NilMetadata(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	ac, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)

	committed, err := store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: "a-1"}}, ac, nil)
	require.NoError(t, err)
	assert.NotNil(t, committed[0].Metadata)
	assert.Empty(t, committed[0].Metadata)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := newMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.LoadEvents(ctx, "a-1")
	require.ErrorIs(t, err, context.Canceled)

	_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: "a-1"}},
		&aggregate.Context[*fixtures.TestAggregate]{AggregateID: "a-1", Aggregate: fixtures.NewTestAggregate()}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Events())
}

func TestMemoryStore_ClockAndSystemIDOptions(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore(
		eventstore.WithSystemID("from-option"),
		eventstore.WithClock(func() time.Time { return fixed }),
	)

	ac, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)
	committed, err := store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: "a-1"}}, ac, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-option", committed[0].SystemID)
	assert.Equal(t, fixed, committed[0].OccurredAt)

	// Init with an empty system id keeps the option
	require.NoError(t, store.Init(ctx, appcore.StoreContext{}))
	ac, err = store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)
	committed, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Tested{TestName: "x"}}, ac, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-option", committed[0].SystemID)
}

func TestMemoryStore_EventsAndClear(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	for _, id := range []string{"b", "a"} {
		ac, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: id}}, ac, nil)
		require.NoError(t, err)
	}

	ids, err := store.AggregateIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	events := store.Events()
	require.Len(t, events, 2)
	events["a"] = append(events["a"], event.Envelope[fixtures.TestEvent]{})

	stored, err := store.LoadEvents(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	store.Clear()
	ids, err = store.AggregateIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStore_LoadedEnvelopesDoNotAliasTheLog(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	ac, err := store.LoadAggregate(ctx, "a-1")
	require.NoError(t, err)
	_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: "a-1"}}, ac, map[string]string{"k": "v"})
	require.NoError(t, err)

	loaded, err := store.LoadEvents(ctx, "a-1")
	require.NoError(t, err)
	loaded[0].Metadata["k"] = "rewritten"
	loaded[0].Sequence = 42
	store.Events()["a-1"][0].Metadata["k"] = "rewritten too"

	stored, err := store.LoadEvents(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "v", stored[0].Metadata["k"])
	assert.Equal(t, 1, stored[0].Sequence)
}

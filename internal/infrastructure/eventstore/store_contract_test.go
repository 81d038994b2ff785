//go:build integration

package eventstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/tests/fixtures"
	"github.com/lllypuk/actuality/tests/testutil"
)

type testStore interface {
	appcore.EventStore[*fixtures.TestAggregate, fixtures.TestEvent]
	AggregateIDs(ctx context.Context) ([]string, error)
}

// runStoreContract checks the behavior every durable backend shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) testStore) {
	t.Run("scenario A", func(t *testing.T) {
		ctx := testutil.NewTestContext(t)
		store := newStore(t)
		id := "test_id_A"

		initial, err := store.LoadEvents(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, initial)

		ac, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: "test_event_A"}}, ac, fixtures.TestMetadata())
		require.NoError(t, err)

		ac, err = store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, ac.CurrentSequence)

		committed, err := store.Commit(ctx, []fixtures.TestEvent{
			&fixtures.Tested{TestName: "test A"},
			&fixtures.Tested{TestName: "test B"},
			&fixtures.SomethingElse{Description: "something else happening here"},
		}, ac, fixtures.TestMetadata())
		require.NoError(t, err)
		require.Len(t, committed, 3)
		assert.Equal(t, 2, committed[0].Sequence)

		stored, err := store.LoadEvents(ctx, id)
		require.NoError(t, err)
		require.Len(t, stored, 4)
		testutil.RequireGapless(t, stored)
		testutil.AssertAggregate(t, stored, fixtures.AggregateType, id)
		testutil.AssertMetadata(t, stored, fixtures.TestMetadata())
		testutil.AssertEventTypes(t, stored,
			fixtures.EventCreated, fixtures.EventTested, fixtures.EventTested, fixtures.EventSomethingElse)
		assert.Equal(t, "build-1", stored[0].SystemID)

		replayed, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 4, replayed.CurrentSequence)
		assert.Equal(t, &fixtures.TestAggregate{
			ID:          "test_event_A",
			Description: "something else happening here",
			Tests:       []string{"test A", "test B"},
		}, replayed.Aggregate)

		ids, err := store.AggregateIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id)
	})

	t.Run("empty commit", func(t *testing.T) {
		ctx := testutil.NewTestContext(t)
		store := newStore(t)
		id := uuid.NewString()

		ac, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		committed, err := store.Commit(ctx, nil, ac, nil)
		require.NoError(t, err)
		assert.Empty(t, committed)

		ids, err := store.AggregateIDs(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, id)
	})

	t.Run("stale context", func(t *testing.T) {
		ctx := testutil.NewTestContext(t)
		store := newStore(t)
		id := uuid.NewString()

		ac, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: id}}, ac, nil)
		require.NoError(t, err)

		_, err = store.Commit(ctx, []fixtures.TestEvent{&fixtures.Tested{TestName: "late"}}, ac, nil)
		require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

		stored, err := store.LoadEvents(ctx, id)
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})

	t.Run("concurrent commits from the same context", func(t *testing.T) {
		ctx := testutil.NewTestContext(t)
		store := newStore(t)
		id := uuid.NewString()

		ac, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)

		const workers = 8
		var succeeded atomic.Int32
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				snapshot := *ac
				_, err := store.Commit(ctx, []fixtures.TestEvent{&fixtures.Tested{TestName: string(rune('a' + i))}}, &snapshot, nil)
				if err == nil {
					succeeded.Add(1)
					return
				}
				assert.ErrorIs(t, err, appcore.ErrConcurrencyConflict)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		stored, err := store.LoadEvents(ctx, id)
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})
}

package viewstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/tests/fixtures"
)

type testRepository = appcore.ViewRepository[*fixtures.TestView]

// runRepositoryContract checks the behavior every ViewRepository shares.
// newRepo must return an empty repository on every call.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) testRepository) {
	t.Helper()

	t.Run("NotFound", func(t *testing.T) {
		repo := newRepo(t)

		_, _, err := repo.LoadWithContext(context.Background(), "missing")
		require.ErrorIs(t, err, appcore.ErrViewNotFound)
	})

	t.Run("InsertAndUpdate", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		vc := appcore.NewViewContext("v-1")
		vc.Advance("agg.1", 2)
		view := &fixtures.TestView{Tests: []string{"a", "b"}, Count: 2, Sequences: []int{1, 2}}
		require.NoError(t, repo.UpdateView(ctx, view, vc))

		got, gotVC, err := repo.LoadWithContext(ctx, "v-1")
		require.NoError(t, err)
		assert.Equal(t, view, got)
		assert.Equal(t, "v-1", gotVC.ViewID)
		assert.Equal(t, 1, gotVC.Version)
		assert.Equal(t, map[string]int{"agg.1": 2}, gotVC.Positions)

		got.Description = "changed"
		gotVC.Advance("agg.1", 3)
		gotVC.Advance("agg-2", 1)
		require.NoError(t, repo.UpdateView(ctx, got, gotVC))

		again, againVC, err := repo.LoadWithContext(ctx, "v-1")
		require.NoError(t, err)
		assert.Equal(t, "changed", again.Description)
		assert.Equal(t, 2, againVC.Version)
		assert.Equal(t, map[string]int{"agg.1": 3, "agg-2": 1}, againVC.Positions)
	})

	t.Run("StaleVersionIsConflict", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		first := appcore.NewViewContext("v-1")
		require.NoError(t, repo.UpdateView(ctx, &fixtures.TestView{Description: "first"}, first))

		err := repo.UpdateView(ctx, &fixtures.TestView{Description: "second insert"}, first)
		require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

		stale := first
		stale.Version = 5
		err = repo.UpdateView(ctx, &fixtures.TestView{Description: "future"}, stale)
		require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

		got, vc, err := repo.LoadWithContext(ctx, "v-1")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Description)
		assert.Equal(t, 1, vc.Version)
	})

	t.Run("ViewsAreIndependent", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		require.NoError(t, repo.UpdateView(ctx, &fixtures.TestView{Count: 1}, appcore.NewViewContext("a")))
		require.NoError(t, repo.UpdateView(ctx, &fixtures.TestView{Count: 2}, appcore.NewViewContext("b")))

		a, _, err := repo.LoadWithContext(ctx, "a")
		require.NoError(t, err)
		b, _, err := repo.LoadWithContext(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 1, a.Count)
		assert.Equal(t, 2, b.Count)
	})

	t.Run("ConcurrentWritersNeverLoseUpdates", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.UpdateView(ctx, &fixtures.TestView{}, appcore.NewViewContext("shared")))

		const writers = 8
		var succeeded atomic.Int32
		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				view, vc, err := repo.LoadWithContext(ctx, "shared")
				if !assert.NoError(t, err) {
					return
				}
				view.Count++
				err = repo.UpdateView(ctx, view, vc)
				if err == nil {
					succeeded.Add(1)
					return
				}
				assert.ErrorIs(t, err, appcore.ErrConcurrencyConflict)
			}()
		}
		wg.Wait()

		view, vc, err := repo.LoadWithContext(ctx, "shared")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int(succeeded.Load()), 1)
		assert.Equal(t, int(succeeded.Load()), view.Count)
		assert.Equal(t, int(succeeded.Load())+1, vc.Version)
	})
}

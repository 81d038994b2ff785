package healthcheck_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/query"
	"github.com/lllypuk/actuality/internal/infrastructure/eventstore"
	"github.com/lllypuk/actuality/internal/infrastructure/healthcheck"
	"github.com/lllypuk/actuality/internal/infrastructure/httpserver"
	"github.com/lllypuk/actuality/internal/infrastructure/viewstore"
	"github.com/lllypuk/actuality/tests/fixtures"
	"github.com/lllypuk/actuality/tests/testutil"
)

func ok(name string) healthcheck.Checker {
	return healthcheck.NewFuncChecker(name, func(context.Context) error { return nil })
}

func failing(name string) healthcheck.Checker {
	return healthcheck.NewFuncChecker(name, func(context.Context) error { return errors.New("down") })
}

func TestRegistry_Empty(t *testing.T) {
	r := healthcheck.NewRegistry(0, testutil.DiscardLogger())

	assert.True(t, r.IsReady(context.Background()))
	assert.Empty(t, r.GetHealthStatus(context.Background()))
}

func TestRegistry_CriticalFailureIsNotReady(t *testing.T) {
	r := healthcheck.NewRegistry(time.Second, testutil.DiscardLogger()).
		Critical(ok("redis"), failing("subscriber"))

	assert.False(t, r.IsReady(context.Background()))

	statuses := r.GetHealthStatus(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, httpserver.ComponentStatus{Name: "redis", Status: httpserver.StatusHealthy, Message: "ok"}, statuses[0])
	assert.Equal(t, httpserver.ComponentStatus{Name: "subscriber", Status: httpserver.StatusUnhealthy, Message: "down"}, statuses[1])
}

func TestRegistry_OptionalFailureDegrades(t *testing.T) {
	r := healthcheck.NewRegistry(time.Second, testutil.DiscardLogger()).
		Critical(ok("redis")).
		Optional(failing("view_sync"))

	assert.True(t, r.IsReady(context.Background()))

	statuses := r.GetHealthStatus(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, httpserver.StatusDegraded, statuses[1].Status)
}

func TestRegistry_CheckTimeout(t *testing.T) {
	slow := healthcheck.NewFuncChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := healthcheck.NewRegistry(10*time.Millisecond, testutil.DiscardLogger()).Critical(slow)

	assert.False(t, r.IsReady(context.Background()))
}

func TestRunningChecker(t *testing.T) {
	running := false
	c := healthcheck.NewRunningChecker("subscriber", func() bool { return running })

	assert.False(t, c.Check(context.Background()).Healthy)
	running = true
	st := c.Check(context.Background())
	assert.True(t, st.Healthy)
	assert.Equal(t, "running", st.Message)
	assert.Equal(t, "subscriber", c.Name())
}

func TestViewSyncChecker(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore[*fixtures.TestAggregate, fixtures.TestEvent](fixtures.NewTestAggregate)
	repo := viewstore.NewMemoryRepository[*fixtures.TestView]()
	q := query.New[*fixtures.TestView, fixtures.TestEvent](repo, fixtures.NewTestView)
	t.Cleanup(q.Close)

	for _, id := range []string{"a-1", "a-2"} {
		ac, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		envs, err := store.Commit(ctx, []fixtures.TestEvent{&fixtures.Created{ID: id}}, ac, nil)
		require.NoError(t, err)
		if id == "a-1" {
			require.NoError(t, q.ApplyEvents(ctx, id, envs))
		}
	}

	c := healthcheck.NewViewSyncChecker[*fixtures.TestView, fixtures.TestEvent]("view_sync", store, repo, 10)

	lagging, checked, err := c.Lagging(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
	assert.Equal(t, []string{"a-2"}, lagging)

	st := c.Check(ctx)
	assert.False(t, st.Healthy)
	assert.Equal(t, 1, st.Details["lagging"])

	envs, err := store.LoadEvents(ctx, "a-2")
	require.NoError(t, err)
	require.NoError(t, q.ApplyEvents(ctx, "a-2", envs))

	st = c.Check(ctx)
	assert.True(t, st.Healthy)
	assert.Equal(t, "2 views in sync", st.Message)
}

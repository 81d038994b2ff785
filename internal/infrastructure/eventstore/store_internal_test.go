package eventstore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
)

func TestValidateSubjectToken(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"a1", "7f9c2b1e-0000-4000-8000-000000000000", "user_42"} {
		require.NoError(t, validateSubjectToken(id), id)
	}
	for _, id := range []string{"", "a.b", "a*", "a>", "a b", "a\tb"} {
		err := validateSubjectToken(id)
		require.Error(t, err, id)
		assert.ErrorIs(t, err, ErrInvalidAggregateID)
	}
}

func TestJetStreamStore_StreamConfig(t *testing.T) {
	t.Parallel()

	defaults := NewJetStreamStore(nil, aggregate.RawFactory("test"), codec.Codec[event.Raw](codec.RawCodec{})).streamConfig()
	assert.Equal(t, jetstream.FileStorage, defaults.Storage)
	assert.Equal(t, 1, defaults.Replicas)
	assert.Equal(t, []string{defaultSubjectPrefix + ".>"}, defaults.Subjects)

	cfg := NewJetStreamStore(nil, aggregate.RawFactory("test"), codec.Codec[event.Raw](codec.RawCodec{}),
		WithStream("ORDERS", "orders"),
		WithStreamSettings(StreamSettings{Storage: jetstream.MemoryStorage, Replicas: 3, DuplicateWindow: time.Minute}),
	).streamConfig()
	assert.Equal(t, "ORDERS", cfg.Name)
	assert.Equal(t, []string{"orders.>"}, cfg.Subjects)
	assert.Equal(t, jetstream.MemoryStorage, cfg.Storage)
	assert.Equal(t, 3, cfg.Replicas)
	assert.Equal(t, time.Minute, cfg.Duplicates)
	assert.Zero(t, cfg.MaxAge)
	assert.Equal(t, jetstream.LimitsPolicy, cfg.Retention)
}

func TestMemoryStore_InitConcurrentWithCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore[*aggregate.RawRoot, event.Raw](aggregate.RawFactory("test"), WithSystemID("before"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			assert.NoError(t, store.Init(ctx, appcore.StoreContext{SystemID: "after"}))
		}
	}()
	for i := range 50 {
		id := "r-" + strconv.Itoa(i)
		ac, err := store.LoadAggregate(ctx, id)
		require.NoError(t, err)
		committed, err := store.Commit(ctx, []event.Raw{{Type: "Tick"}}, ac, nil)
		require.NoError(t, err)
		assert.Contains(t, []string{"before", "after"}, committed[0].SystemID)
	}
	wg.Wait()

	ac, err := store.LoadAggregate(ctx, "last")
	require.NoError(t, err)
	committed, err := store.Commit(ctx, []event.Raw{{Type: "Tick"}}, ac, nil)
	require.NoError(t, err)
	assert.Equal(t, "after", committed[0].SystemID)
}

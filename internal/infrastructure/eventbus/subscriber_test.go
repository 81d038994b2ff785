package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
	"github.com/lllypuk/actuality/internal/infrastructure/eventbus"
)

// Без подписок Start не обращается к Redis, поэтому клиент не нужен.
func newIdleSubscriber() *eventbus.RedisSubscriber[event.Raw] {
	return eventbus.NewRedisSubscriber[event.Raw](nil, codec.RawCodec{})
}

func TestRedisSubscriber_Lifecycle(t *testing.T) {
	t.Run("cancelled context resets running", func(t *testing.T) {
		sub := newIdleSubscriber()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sub.Start(ctx) }()
		require.Eventually(t, sub.IsRunning, time.Second, 5*time.Millisecond)

		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
		assert.False(t, sub.IsRunning())

		ctx2, cancel2 := context.WithCancel(context.Background())
		cancel2()
		require.ErrorIs(t, sub.Start(ctx2), context.Canceled, "subscriber should start again")
		assert.False(t, sub.IsRunning())
	})

	t.Run("shutdown stops a running subscriber", func(t *testing.T) {
		sub := newIdleSubscriber()

		done := make(chan error, 1)
		go func() { done <- sub.Start(context.Background()) }()
		require.Eventually(t, sub.IsRunning, time.Second, 5*time.Millisecond)

		require.NoError(t, sub.Shutdown())
		require.NoError(t, <-done)
		assert.False(t, sub.IsRunning())
		require.NoError(t, sub.Shutdown())
	})

	t.Run("start after shutdown is rejected", func(t *testing.T) {
		sub := newIdleSubscriber()
		require.NoError(t, sub.Shutdown())

		require.ErrorIs(t, sub.Start(context.Background()), eventbus.ErrSubscriberStopped)
		assert.False(t, sub.IsRunning())
	})

	t.Run("shutdown after cancelled start still completes", func(t *testing.T) {
		sub := newIdleSubscriber()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, sub.Start(ctx), context.Canceled)

		require.NoError(t, sub.Shutdown())
		require.ErrorIs(t, sub.Start(context.Background()), eventbus.ErrSubscriberStopped)
	})
}

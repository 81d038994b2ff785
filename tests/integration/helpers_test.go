//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/eventbus"
)

// startSubscriber runs sub in the background and waits until Redis reports the
// subscription on channel.
func startSubscriber[E event.Event](
	t *testing.T,
	client *redis.Client,
	sub *eventbus.RedisSubscriber[E],
	channel string,
) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sub.Start(ctx)
	}()
	t.Cleanup(func() {
		_ = sub.Shutdown()
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && n[channel] > 0
	}, 5*time.Second, 20*time.Millisecond)
}

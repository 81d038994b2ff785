package testutil

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisPort              = "6379/tcp"
	redisStartupTimeout    = 60 * time.Second
	redisCleanupTimeout    = 10 * time.Second
	redisMemoryLimit       = 128 * 1024 * 1024 // 128MB
	redisTestPoolSize      = 10
	redisReadyPollInterval = 200 * time.Millisecond
	redisReadyWaitTimeout  = 5 * time.Second
)

// redisContainer is started once per test binary; tests isolate themselves by key prefix.
var redisContainer = sync.OnceValues(func() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisStartupTimeout)
	defer cancel()

	redisC, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts(redisPort),
		testcontainers.WithHostConfigModifier(func(hc *container.HostConfig) {
			hc.Memory = redisMemoryLimit
			hc.MemorySwap = redisMemoryLimit
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections"),
			wait.ForListeningPort(redisPort),
		),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := redisC.MappedPort(ctx, redisPort)
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}
	return net.JoinHostPort(host, mapped.Port()), nil
})

// SetupTestRedis returns a client of the shared Redis container and a key prefix
// unique to the test. Keys under the prefix are deleted after the test.
func SetupTestRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()

	addr, err := redisContainer()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr, PoolSize: redisTestPoolSize})
	require.Eventually(t, func() bool {
		return client.Ping(t.Context()).Err() == nil
	}, redisReadyWaitTimeout, redisReadyPollInterval, "redis at %s is not reachable", addr)

	prefix := "test:" + strings.ReplaceAll(t.Name(), "/", ":") + ":"

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), redisCleanupTimeout)
		defer cancel()
		iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
		_ = client.Close()
	})

	return client, prefix
}

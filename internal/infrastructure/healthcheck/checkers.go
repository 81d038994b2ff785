package healthcheck

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// FuncChecker adapts a function to Checker.
type FuncChecker struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncChecker creates a checker that is healthy while check returns nil.
func NewFuncChecker(name string, check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

// Name returns the name of this health checker.
func (c *FuncChecker) Name() string { return c.name }

// Check performs the health check.
func (c *FuncChecker) Check(ctx context.Context) Status {
	if err := c.check(ctx); err != nil {
		return unhealthy(err.Error(), nil)
	}
	return healthy("ok", nil)
}

// NewRedisChecker pings Redis.
func NewRedisChecker(client redis.UniversalClient) *FuncChecker {
	return NewFuncChecker("redis", func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

// NewMongoChecker pings MongoDB.
func NewMongoChecker(client *mongo.Client) *FuncChecker {
	return NewFuncChecker("mongodb", func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	})
}

// RunningChecker reports a background component, e.g. an event bus subscriber.
type RunningChecker struct {
	name    string
	running func() bool
}

// NewRunningChecker creates a checker that is healthy while running returns true.
func NewRunningChecker(name string, running func() bool) *RunningChecker {
	return &RunningChecker{name: name, running: running}
}

// Name returns the name of this health checker.
func (c *RunningChecker) Name() string { return c.name }

// Check performs the health check.
func (c *RunningChecker) Check(context.Context) Status {
	if !c.running() {
		return unhealthy("not running", nil)
	}
	return healthy("running", nil)
}

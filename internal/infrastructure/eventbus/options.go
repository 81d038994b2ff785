// Package eventbus fans committed envelopes out over Redis Pub/Sub to downstream
// consumers in other processes.
package eventbus

import (
	"context"
	"log/slog"
	"time"
)

// Default retry configuration constants.
const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultBackoffFactor  = 2.0
	defaultChannelPrefix  = "events:"
)

// RetryConfig configures retry behavior for event handling.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		BackoffFactor:  defaultBackoffFactor,
	}
}

type busOptions struct {
	logger        *slog.Logger
	retryConfig   RetryConfig
	channelPrefix string
}

// Option configures a publisher or subscriber.
type Option func(*busOptions)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *busOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetryConfig sets the retry configuration for event handling.
func WithRetryConfig(config RetryConfig) Option {
	return func(o *busOptions) {
		o.retryConfig = config
	}
}

// WithChannelPrefix sets a prefix for Redis channel names.
func WithChannelPrefix(prefix string) Option {
	return func(o *busOptions) {
		o.channelPrefix = prefix
	}
}

func newBusOptions(opts []Option) busOptions {
	o := busOptions{
		logger:        slog.Default(),
		retryConfig:   DefaultRetryConfig(),
		channelPrefix: defaultChannelPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ChannelName returns the channel carrying envelopes of aggregateType.
func ChannelName(prefix, aggregateType string) string {
	return prefix + aggregateType
}

// retry runs fn until it succeeds, the attempts are exhausted or ctx ends.
// It returns the last error of fn, or ctx's error.
func retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			// exponential growth
			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

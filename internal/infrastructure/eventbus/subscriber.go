package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
	"github.com/lllypuk/actuality/internal/perkey"
)

// Handler processes one envelope received from the bus.
type Handler[E event.Event] func(ctx context.Context, env event.Envelope[E]) error

// RedisSubscriber receives envelopes published by RedisPublisher.
//
// Handlers for one aggregate run one envelope at a time in publish order; different
// aggregates are handled in parallel. A failing handler is retried with exponential
// backoff, then the envelope is dropped for that handler.
type RedisSubscriber[E event.Event] struct {
	client    redis.UniversalClient
	codec     codec.Codec[E]
	opts      busOptions
	scheduler *perkey.Scheduler[string]

	handlers   map[string][]Handler[E]
	handlersMu sync.RWMutex

	pubsub   *redis.PubSub
	pubsubMu sync.Mutex

	running      bool
	stopped      bool
	runningMu    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// ErrSubscriberStopped is returned by Start after Shutdown.
var ErrSubscriberStopped = errors.New("subscriber is shut down")

// NewRedisSubscriber creates a subscriber decoding payloads with c.
func NewRedisSubscriber[E event.Event](client redis.UniversalClient, c codec.Codec[E], opts ...Option) *RedisSubscriber[E] {
	return &RedisSubscriber[E]{
		client:    client,
		codec:     c,
		opts:      newBusOptions(opts),
		scheduler: perkey.New[string](),
		handlers:  make(map[string][]Handler[E]),
		shutdown:  make(chan struct{}),
	}
}

// Subscribe registers a handler for envelopes of aggregateType. Handlers must be
// registered before Start.
func (s *RedisSubscriber[E]) Subscribe(aggregateType string, handler Handler[E]) error {
	if aggregateType == "" {
		return errors.New("aggregate type cannot be empty")
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	s.handlers[aggregateType] = append(s.handlers[aggregateType], handler)
	return nil
}

// HandlerCount returns the number of handlers registered for aggregateType.
func (s *RedisSubscriber[E]) HandlerCount(aggregateType string) int {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers[aggregateType])
}

// Start begins listening on the subscribed channels.
// It blocks until Shutdown is called or ctx is cancelled. After a cancelled ctx
// the subscriber can be started again; after Shutdown it cannot.
func (s *RedisSubscriber[E]) Start(ctx context.Context) error {
	s.runningMu.Lock()
	switch {
	case s.stopped:
		s.runningMu.Unlock()
		return ErrSubscriberStopped
	case s.running:
		s.runningMu.Unlock()
		return errors.New("subscriber is already running")
	}
	s.running = true
	s.runningMu.Unlock()

	defer s.stopReceiving()

	channels := s.subscribedChannels()
	if len(channels) == 0 {
		s.opts.logger.WarnContext(ctx, "starting subscriber with no subscriptions")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdown:
			return nil
		}
	}

	pubsub := s.client.Subscribe(ctx, channels...)
	s.pubsubMu.Lock()
	s.pubsub = pubsub
	s.pubsubMu.Unlock()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channels: %w", err)
	}

	s.opts.logger.InfoContext(ctx, "subscriber started",
		slog.Int("channel_count", len(channels)),
		slog.Any("channels", channels),
	)

	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.opts.logger.InfoContext(ctx, "subscriber stopping due to context cancellation")
			return ctx.Err()

		case <-s.shutdown:
			s.opts.logger.InfoContext(ctx, "subscriber stopping due to shutdown signal")
			return nil

		case msg, ok := <-msgCh:
			if !ok {
				s.opts.logger.WarnContext(ctx, "message channel closed")
				return nil
			}
			s.handleMessage(ctx, msg)
		}
	}
}

// Shutdown stops receiving for good and waits for queued handlers to complete.
// It is idempotent.
func (s *RedisSubscriber[E]) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.runningMu.Lock()
		s.running = false
		s.stopped = true
		s.runningMu.Unlock()

		close(s.shutdown)
		s.scheduler.Close()
		err = s.closePubSub()
	})
	return err
}

// stopReceiving releases the subscription when Start returns.
func (s *RedisSubscriber[E]) stopReceiving() {
	if err := s.closePubSub(); err != nil {
		s.opts.logger.Warn("failed to close pubsub", slog.String("error", err.Error()))
	}
	s.runningMu.Lock()
	s.running = false
	s.runningMu.Unlock()
}

func (s *RedisSubscriber[E]) closePubSub() error {
	s.pubsubMu.Lock()
	pubsub := s.pubsub
	s.pubsub = nil
	s.pubsubMu.Unlock()

	if pubsub == nil {
		return nil
	}
	if err := pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return nil
}

// IsRunning returns true if the subscriber is currently running.
func (s *RedisSubscriber[E]) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

func (s *RedisSubscriber[E]) subscribedChannels() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	channels := make([]string, 0, len(s.handlers))
	for aggregateType := range s.handlers {
		channels = append(channels, ChannelName(s.opts.channelPrefix, aggregateType))
	}
	return channels
}

func (s *RedisSubscriber[E]) handleMessage(ctx context.Context, msg *redis.Message) {
	env, err := codec.UnmarshalEnvelope(s.codec, []byte(msg.Payload))
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to decode envelope",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}

	s.handlersMu.RLock()
	handlers := s.handlers[env.AggregateType]
	s.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	key := env.AggregateType + "/" + env.AggregateID
	err = s.scheduler.Go(key, func() {
		for i, handler := range handlers {
			s.executeHandler(ctx, handler, env, i)
		}
	})
	if err != nil {
		s.opts.logger.WarnContext(ctx, "envelope dropped during shutdown",
			slog.String("aggregate_id", env.AggregateID),
			slog.Int("sequence", env.Sequence),
		)
	}
}

// executeHandler runs a single handler with retry logic.
func (s *RedisSubscriber[E]) executeHandler(ctx context.Context, handler Handler[E], env event.Envelope[E], handlerIndex int) {
	err := retry(ctx, s.opts.retryConfig, func(attempt int) error {
		if attempt > 0 {
			s.opts.logger.DebugContext(ctx, "retrying event handler",
				slog.String("event_type", env.EventType),
				slog.Int("attempt", attempt),
			)
		}
		handlerErr := handler(ctx, env)
		if handlerErr != nil {
			s.opts.logger.WarnContext(ctx, "event handler failed",
				slog.String("event_type", env.EventType),
				slog.String("aggregate_id", env.AggregateID),
				slog.Int("handler_index", handlerIndex),
				slog.Int("attempt", attempt),
				slog.String("error", handlerErr.Error()),
			)
		}
		return handlerErr
	})
	if err == nil {
		return
	}

	// All retries exhausted
	s.opts.logger.ErrorContext(ctx, "event handler failed after all retries",
		slog.String("event_type", env.EventType),
		slog.String("aggregate_id", env.AggregateID),
		slog.Int("sequence", env.Sequence),
		slog.Int("handler_index", handlerIndex),
		slog.Int("max_retries", s.opts.retryConfig.MaxRetries),
		slog.String("error", err.Error()),
	)
}

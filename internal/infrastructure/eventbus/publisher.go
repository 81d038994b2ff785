package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
)

const publisherName = "redis-publisher"

// RedisPublisher publishes committed envelopes on <prefix><aggregate type>.
// Used as a query, it forwards every dispatch of the orchestrator.
type RedisPublisher[E event.Event] struct {
	client redis.UniversalClient
	codec  codec.Codec[E]
	opts   busOptions

	mu      sync.RWMutex
	onError func(*appcore.QueryError)
}

var _ appcore.Query[event.Raw] = (*RedisPublisher[event.Raw])(nil)

// NewRedisPublisher creates a publisher encoding payloads with c.
func NewRedisPublisher[E event.Event](client redis.UniversalClient, c codec.Codec[E], opts ...Option) *RedisPublisher[E] {
	return &RedisPublisher[E]{
		client: client,
		codec:  c,
		opts:   newBusOptions(opts),
	}
}

// UseErrorHandler installs the handler for publish failures of Dispatch.
func (p *RedisPublisher[E]) UseErrorHandler(h func(*appcore.QueryError)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = h
}

// Publish sends the envelopes in order, one message each, in a single round trip.
func (p *RedisPublisher[E]) Publish(ctx context.Context, envelopes []event.Envelope[E]) error {
	if len(envelopes) == 0 {
		return nil
	}

	payloads := make([][]byte, len(envelopes))
	for i, env := range envelopes {
		data, err := codec.MarshalEnvelope(p.codec, env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)
		}
		payloads[i] = data
	}

	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, env := range envelopes {
			pipe.Publish(ctx, ChannelName(p.opts.channelPrefix, env.AggregateType), payloads[i])
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish events to Redis: %w", err)
	}

	p.opts.logger.DebugContext(ctx, "events published",
		slog.String("aggregate_type", envelopes[0].AggregateType),
		slog.String("aggregate_id", envelopes[0].AggregateID),
		slog.Int("count", len(envelopes)),
	)
	return nil
}

// Dispatch publishes the envelopes and reports a failure to the error handler.
func (p *RedisPublisher[E]) Dispatch(ctx context.Context, viewID string, envelopes []event.Envelope[E]) {
	err := p.Publish(ctx, envelopes)
	if err == nil {
		return
	}

	p.mu.RLock()
	h := p.onError
	p.mu.RUnlock()

	qerr := &appcore.QueryError{Query: publisherName, ViewID: viewID, Op: "publish", Err: err}
	if h != nil {
		h(qerr)
		return
	}
	p.opts.logger.ErrorContext(ctx, "failed to publish events",
		slog.String("aggregate_id", viewID),
		slog.String("error", err.Error()),
	)
}

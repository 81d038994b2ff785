package viewstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/actuality/internal/application/appcore"
)

const defaultRedisKeyPrefix = "views:"

// redisDocument is the JSON value stored under a view key.
type redisDocument struct {
	Version   int             `json:"version"`
	Positions []position      `json:"positions"`
	View      json.RawMessage `json:"view"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RedisRepository stores each view as a JSON document under <prefix><view id>.
// Updates run in a WATCH/MULTI transaction on the key.
type RedisRepository[V any] struct {
	client redis.UniversalClient
	prefix string
	opts   repoOptions
}

var _ appcore.ViewRepository[any] = (*RedisRepository[any])(nil)

// NewRedisRepository creates a repository. An empty prefix means "views:".
func NewRedisRepository[V any](client redis.UniversalClient, prefix string, opts ...Option) *RedisRepository[V] {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisRepository[V]{
		client: client,
		prefix: prefix,
		opts:   newRepoOptions(opts),
	}
}

// LoadWithContext returns the view and its context, or appcore.ErrViewNotFound.
func (r *RedisRepository[V]) LoadWithContext(ctx context.Context, viewID string) (V, appcore.ViewContext, error) {
	var view V

	doc, err := r.get(ctx, r.client, viewID)
	if err != nil {
		return view, appcore.ViewContext{}, err
	}
	if doc == nil {
		return view, appcore.ViewContext{}, appcore.ErrViewNotFound
	}

	if err = json.Unmarshal(doc.View, &view); err != nil {
		return view, appcore.ViewContext{}, fmt.Errorf("failed to decode view %s: %w", viewID, err)
	}
	return view, storedContext(viewID, doc.Version, positionsFromList(doc.Positions)), nil
}

// UpdateView stores view if the stored version equals vc.Version.
func (r *RedisRepository[V]) UpdateView(ctx context.Context, view V, vc appcore.ViewContext) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode view %s: %w", vc.ViewID, err)
	}
	value, err := json.Marshal(redisDocument{
		Version:   vc.Version + 1,
		Positions: positionsToList(vc.Positions),
		View:      data,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode view %s: %w", vc.ViewID, err)
	}

	key := r.key(vc.ViewID)
	txf := func(tx *redis.Tx) error {
		current, getErr := r.get(ctx, tx, vc.ViewID)
		if getErr != nil {
			return getErr
		}
		version := 0
		if current != nil {
			version = current.Version
		}
		if version != vc.Version {
			return conflictError(vc.ViewID, vc.Version)
		}

		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, 0)
			return nil
		})
		return pipeErr
	}

	err = r.client.Watch(ctx, txf, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		err = conflictError(vc.ViewID, vc.Version)
	case err == nil:
		return nil
	}
	if appcore.IsConcurrencyConflict(err) {
		r.opts.logger.WarnContext(ctx, "view version conflict",
			slog.String("key", key),
			slog.Int("expected_version", vc.Version),
		)
		return err
	}
	return fmt.Errorf("failed to update view %s: %w", vc.ViewID, err)
}

// getter is satisfied by clients and by transactions.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisRepository[V]) get(ctx context.Context, c getter, viewID string) (*redisDocument, error) {
	data, err := c.Get(ctx, r.key(viewID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // отсутствие ключа не ошибка
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load view %s: %w", viewID, err)
	}

	var doc redisDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode view %s: %w", viewID, err)
	}
	return &doc, nil
}

func (r *RedisRepository[V]) key(viewID string) string {
	return r.prefix + viewID
}

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
)

// MongoStore реализует EventStore с использованием MongoDB.
//
// Commits run in a transaction that re-reads the head sequence, and the unique
// index on (aggregate_type, aggregate_id, sequence) rejects any write that slips
// past it. Transactions need a replica set or sharded cluster.
type MongoStore[A aggregate.Root[E], E event.Event] struct {
	client        *mongo.Client
	collection    *mongo.Collection
	serializer    *EventSerializer[E]
	newAggregate  aggregate.Factory[A]
	aggregateType string
	opts          *storeOptions
}

// NewMongoStore создает новый MongoDB Event Store
func NewMongoStore[A aggregate.Root[E], E event.Event](
	client *mongo.Client,
	databaseName string,
	newAggregate aggregate.Factory[A],
	c codec.Codec[E],
	opts ...Option,
) *MongoStore[A, E] {
	o := newStoreOptions(opts)
	return &MongoStore[A, E]{
		client:        client,
		collection:    client.Database(databaseName).Collection(o.collection),
		serializer:    NewEventSerializer(c),
		newAggregate:  newAggregate,
		aggregateType: newAggregate().AggregateType(),
		opts:          o,
	}
}

// Init creates the indexes the store relies on.
func (s *MongoStore[A, E]) Init(ctx context.Context, sc appcore.StoreContext) error {
	if sc.SystemID != "" {
		s.opts.setSystemID(sc.SystemID)
	}

	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "aggregate_type", Value: 1},
				{Key: "aggregate_id", Value: 1},
				{Key: "sequence", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("aggregate_sequence_unique"),
		},
		{
			Keys:    bson.D{{Key: "occurred_at", Value: 1}},
			Options: options.Index().SetName("occurred_at"),
		},
	})
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to create event store indexes",
			slog.String("collection", s.collection.Name()),
			slog.String("error", err.Error()),
		)
		return appcore.NewPersistenceError("init", "", fmt.Errorf("failed to create indexes: %w", err))
	}

	s.opts.logger.InfoContext(ctx, "mongodb event store initialized",
		slog.String("aggregate_type", s.aggregateType),
		slog.String("collection", s.collection.Name()),
		slog.String("service", sc.ServiceName),
	)
	return nil
}

// Commit сохраняет события для агрегата с оптимистичной блокировкой
func (s *MongoStore[A, E]) Commit(
	ctx context.Context,
	events []E,
	ac *aggregate.Context[A],
	metadata map[string]string,
) ([]event.Envelope[E], error) {
	if len(events) == 0 {
		return nil, nil
	}

	aggregateID := ac.AggregateID
	// BSON хранит время с точностью до миллисекунд
	occurredAt := s.opts.now().UTC().Truncate(time.Millisecond)
	envelopes := buildEnvelopes(
		s.aggregateType, aggregateID, s.opts.currentSystemID(),
		ac.CurrentSequence, events, metadata, occurredAt,
	)

	documents, err := s.serializer.SerializeMany(envelopes)
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to serialize events",
			slog.String("aggregate_id", aggregateID),
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	docs := make([]any, len(documents))
	for i, doc := range documents {
		docs[i] = doc
	}

	// Запускаем сессию для транзакции
	session, err := s.client.StartSession()
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to start MongoDB session for event store",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("commit", aggregateID, fmt.Errorf("failed to start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		// 1. Проверяем текущую версию (оптимистичная блокировка)
		current, errSeq := s.headSequence(txCtx, aggregateID)
		if errSeq != nil {
			return nil, errSeq
		}
		if current != ac.CurrentSequence {
			return nil, appcore.NewConflictError(aggregateID, ac.CurrentSequence, current)
		}

		// 2. Вставляем события (bulk)
		if _, errInsert := s.collection.InsertMany(txCtx, docs); errInsert != nil {
			// Ошибка дублирования ключа означает конкурентную запись
			if mongo.IsDuplicateKeyError(errInsert) {
				return nil, appcore.NewConflictError(aggregateID, ac.CurrentSequence, ac.CurrentSequence+1)
			}
			return nil, fmt.Errorf("failed to insert events: %w", errInsert)
		}

		return nil, nil //nolint:nilnil // Transaction success returns nil for both values
	})

	switch {
	case err == nil:
		return envelopes, nil
	case appcore.IsConcurrencyConflict(err):
		s.opts.logger.WarnContext(ctx, "concurrency conflict in event store",
			slog.String("aggregate_id", aggregateID),
			slog.Int("expected_sequence", ac.CurrentSequence),
		)
		return nil, err
	case mongo.IsDuplicateKeyError(err):
		return nil, appcore.NewConflictError(aggregateID, ac.CurrentSequence, ac.CurrentSequence+1)
	default:
		s.opts.logger.ErrorContext(ctx, "event store transaction failed",
			slog.String("aggregate_id", aggregateID),
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("commit", aggregateID, err)
	}
}

// LoadEvents загружает все события для агрегата
func (s *MongoStore[A, E]) LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope[E], error) {
	filter := bson.M{"aggregate_type": s.aggregateType, "aggregate_id": aggregateID}
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to find events in event store",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("load", aggregateID, fmt.Errorf("failed to find events: %w", err))
	}
	defer cursor.Close(ctx)

	var docs []*EventDocument
	if err = cursor.All(ctx, &docs); err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to decode events from event store",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("load", aggregateID, fmt.Errorf("failed to decode events: %w", err))
	}

	envelopes, err := s.serializer.DeserializeMany(docs)
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to deserialize events from event store",
			slog.String("aggregate_id", aggregateID),
			slog.Int("docs_count", len(docs)),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("load", aggregateID, err)
	}

	return envelopes, nil
}

// LoadAggregate replays the aggregate from its committed events.
func (s *MongoStore[A, E]) LoadAggregate(ctx context.Context, aggregateID string) (*aggregate.Context[A], error) {
	envelopes, err := s.LoadEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return aggregate.Replay(s.newAggregate, aggregateID, envelopes), nil
}

// AggregateIDs returns the ids of all aggregates of this type with committed events.
func (s *MongoStore[A, E]) AggregateIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.collection.Distinct(ctx, "aggregate_id", bson.M{"aggregate_type": s.aggregateType}).Decode(&ids)
	if err != nil {
		return nil, appcore.NewPersistenceError("list", "", err)
	}
	return ids, nil
}

// headSequence возвращает последний sequence агрегата, 0 если событий нет
func (s *MongoStore[A, E]) headSequence(ctx context.Context, aggregateID string) (int, error) {
	filter := bson.M{"aggregate_type": s.aggregateType, "aggregate_id": aggregateID}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "sequence", Value: -1}}).
		SetProjection(bson.M{"sequence": 1})

	var doc struct {
		Sequence int `bson:"sequence"`
	}
	err := s.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil // Нет событий еще
		}
		return 0, fmt.Errorf("failed to get current sequence: %w", err)
	}

	return doc.Sequence, nil
}

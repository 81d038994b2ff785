package eventstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
)

// MemoryStore реализует EventStore в памяти: эталонная реализация для тестов
// и однопроцессных сценариев. Данные живут только пока жив процесс.
//
// Each aggregate stream has its own lock. The map lock is held only to find or
// create a stream, so commits for different aggregates never wait for each other.
type MemoryStore[A aggregate.Root[E], E event.Event] struct {
	newAggregate  aggregate.Factory[A]
	aggregateType string
	opts          *storeOptions

	mu      sync.RWMutex
	streams map[string]*memoryStream[E]
}

type memoryStream[E event.Event] struct {
	mu        sync.RWMutex
	envelopes []event.Envelope[E]
}

var _ appcore.EventStore[aggregate.Root[event.Raw], event.Raw] = (*MemoryStore[aggregate.Root[event.Raw], event.Raw])(nil)

// NewMemoryStore создает новый in-memory event store
func NewMemoryStore[A aggregate.Root[E], E event.Event](
	newAggregate aggregate.Factory[A],
	opts ...Option,
) *MemoryStore[A, E] {
	return &MemoryStore[A, E]{
		newAggregate:  newAggregate,
		aggregateType: newAggregate().AggregateType(),
		opts:          newStoreOptions(opts),
		streams:       make(map[string]*memoryStream[E]),
	}
}

// Init applies the store context.
func (s *MemoryStore[A, E]) Init(ctx context.Context, sc appcore.StoreContext) error {
	if sc.SystemID != "" {
		s.opts.setSystemID(sc.SystemID)
	}
	s.opts.logger.DebugContext(ctx, "memory event store initialized",
		slog.String("aggregate_type", s.aggregateType),
		slog.String("service", sc.ServiceName),
	)
	return nil
}

// LoadEvents загружает все события для агрегата
func (s *MemoryStore[A, E]) LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := s.lookup(aggregateID)
	if st == nil {
		return []event.Envelope[E]{}, nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	// Возвращаем копию вместе с metadata: лог неизменяем
	return cloneEnvelopes(st.envelopes), nil
}

// LoadAggregate replays the aggregate from its committed events.
func (s *MemoryStore[A, E]) LoadAggregate(ctx context.Context, aggregateID string) (*aggregate.Context[A], error) {
	envelopes, err := s.LoadEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return aggregate.Replay(s.newAggregate, aggregateID, envelopes), nil
}

// Commit сохраняет события для агрегата с оптимистичной блокировкой.
// The head check and the append happen in one critical section of the stream.
func (s *MemoryStore[A, E]) Commit(
	ctx context.Context,
	events []E,
	ac *aggregate.Context[A],
	metadata map[string]string,
) ([]event.Envelope[E], error) {
	if len(events) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := s.getOrCreate(ac.AggregateID)

	st.mu.Lock()
	defer st.mu.Unlock()

	// Проверка optimistic locking
	current := len(st.envelopes)
	if current != ac.CurrentSequence {
		s.opts.logger.WarnContext(ctx, "concurrency conflict in event store",
			slog.String("aggregate_id", ac.AggregateID),
			slog.Int("expected_sequence", ac.CurrentSequence),
			slog.Int("current_sequence", current),
		)
		return nil, appcore.NewConflictError(ac.AggregateID, ac.CurrentSequence, current)
	}

	envelopes := buildEnvelopes(
		s.aggregateType, ac.AggregateID, s.opts.currentSystemID(),
		current, events, metadata, s.opts.now().UTC(),
	)
	st.envelopes = append(st.envelopes, envelopes...)

	return cloneEnvelopes(envelopes), nil
}

// Events returns a copy of the whole log keyed by aggregate id (для тестов)
func (s *MemoryStore[A, E]) Events() map[string][]event.Envelope[E] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]event.Envelope[E], len(s.streams))
	for id, st := range s.streams {
		st.mu.RLock()
		if len(st.envelopes) > 0 {
			result[id] = cloneEnvelopes(st.envelopes)
		}
		st.mu.RUnlock()
	}
	return result
}

// AggregateIDs возвращает все ID агрегатов с событиями, отсортированные
func (s *MemoryStore[A, E]) AggregateIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events := s.Events()
	ids := make([]string, 0, len(events))
	for id := range events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Clear очищает все события (для тестов)
func (s *MemoryStore[A, E]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams = make(map[string]*memoryStream[E])
}

func (s *MemoryStore[A, E]) lookup(aggregateID string) *memoryStream[E] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[aggregateID]
}

func (s *MemoryStore[A, E]) getOrCreate(aggregateID string) *memoryStream[E] {
	if st := s.lookup(aggregateID); st != nil {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[aggregateID]
	if !ok {
		st = &memoryStream[E]{}
		s.streams[aggregateID] = st
	}
	return st
}

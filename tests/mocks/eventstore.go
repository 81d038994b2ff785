// Package mocks provides test doubles for application interfaces.
package mocks

import (
	"context"
	"sync"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
)

// Store method names for call counting and failure injection.
const (
	MethodInit          = "Init"
	MethodLoadEvents    = "LoadEvents"
	MethodLoadAggregate = "LoadAggregate"
	MethodCommit        = "Commit"
)

// MockEventStore оборачивает настоящий EventStore: считает вызовы и позволяет
// подставить ошибку или действие перед следующим вызовом метода.
type MockEventStore[A aggregate.Root[E], E event.Event] struct {
	inner appcore.EventStore[A, E]

	mu       sync.Mutex
	calls    map[string]int
	failures map[string][]error
	before   map[string][]func(ctx context.Context)
}

// NewMockEventStore создает mock поверх inner
func NewMockEventStore[A aggregate.Root[E], E event.Event](inner appcore.EventStore[A, E]) *MockEventStore[A, E] {
	return &MockEventStore[A, E]{
		inner:    inner,
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		before:   make(map[string][]func(ctx context.Context)),
	}
}

// Init calls the wrapped store.
func (s *MockEventStore[A, E]) Init(ctx context.Context, sc appcore.StoreContext) error {
	if err := s.enter(ctx, MethodInit); err != nil {
		return err
	}
	return s.inner.Init(ctx, sc)
}

// LoadEvents calls the wrapped store.
func (s *MockEventStore[A, E]) LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope[E], error) {
	if err := s.enter(ctx, MethodLoadEvents); err != nil {
		return nil, err
	}
	return s.inner.LoadEvents(ctx, aggregateID)
}

// LoadAggregate calls the wrapped store.
func (s *MockEventStore[A, E]) LoadAggregate(ctx context.Context, aggregateID string) (*aggregate.Context[A], error) {
	if err := s.enter(ctx, MethodLoadAggregate); err != nil {
		return nil, err
	}
	return s.inner.LoadAggregate(ctx, aggregateID)
}

// Commit calls the wrapped store.
func (s *MockEventStore[A, E]) Commit(
	ctx context.Context,
	events []E,
	ac *aggregate.Context[A],
	metadata map[string]string,
) ([]event.Envelope[E], error) {
	if err := s.enter(ctx, MethodCommit); err != nil {
		return nil, err
	}
	return s.inner.Commit(ctx, events, ac, metadata)
}

// FailNext makes the next call of method return err. Calls queue up.
func (s *MockEventStore[A, E]) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], err)
}

// BeforeNext runs fn right before the next call of method reaches the wrapped store.
func (s *MockEventStore[A, E]) BeforeNext(method string, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before[method] = append(s.before[method], fn)
}

// GetCallCount возвращает количество вызовов метода
func (s *MockEventStore[A, E]) GetCallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Reset очищает счетчики и подготовленные ошибки
func (s *MockEventStore[A, E]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = make(map[string]int)
	s.failures = make(map[string][]error)
	s.before = make(map[string][]func(ctx context.Context))
}

func (s *MockEventStore[A, E]) enter(ctx context.Context, method string) error {
	s.mu.Lock()
	s.calls[method]++

	var hook func(ctx context.Context)
	if hooks := s.before[method]; len(hooks) > 0 {
		hook, s.before[method] = hooks[0], hooks[1:]
	}
	var err error
	if errs := s.failures[method]; len(errs) > 0 {
		err, s.failures[method] = errs[0], errs[1:]
	}
	s.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return err
}

// Package perkey serializes work per key while running different keys concurrently.
//
// A key gets a worker goroutine only while it has queued work; the worker exits as
// soon as its queue drains, so memory stays proportional to the number of busy keys,
// not to the number of keys ever seen.
package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSchedulerClosed is returned when work is submitted to a closed scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Scheduler runs tasks such that for any key tasks execute one at a time in
// submission order. Tasks for different keys proceed in parallel.
type Scheduler[K comparable] struct {
	mu      sync.Mutex
	workers map[K]*worker
	closed  bool
	wg      sync.WaitGroup
}

type worker struct {
	queue []*task
}

// Task states. A queued task is claimed exactly once: by the worker that
// starts it or by the caller that abandons it.
const (
	taskQueued int32 = iota
	taskStarted
	taskAbandoned
)

type task struct {
	ctx   context.Context
	fn    func() error
	done  chan error
	state atomic.Int32
}

// New creates a Scheduler.
func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{
		workers: make(map[K]*worker),
	}
}

// Do runs fn for key and returns its error once it finishes.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but gives up when ctx ends while the task is still queued;
// such a task is skipped. Once the task has started, DoContext waits for it and
// returns its result even if ctx ends meanwhile.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := s.enqueue(key, t); err != nil {
		return err
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ctx.Err()
		}
		return <-t.done
	}
}

// Go submits fn for key without waiting. Ordering with Do and other Go calls for
// the same key is preserved.
func (s *Scheduler[K]) Go(key K, fn func()) error {
	return s.enqueue(key, &task{
		ctx: context.Background(),
		fn: func() error {
			fn()
			return nil
		},
	})
}

// Active returns the number of keys with queued or running work.
func (s *Scheduler[K]) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting new work and waits until queued work has finished.
// Close is idempotent.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler[K]) enqueue(key K, t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	w, ok := s.workers[key]
	if ok {
		w.queue = append(w.queue, t)
		return nil
	}

	w = &worker{queue: []*task{t}}
	s.workers[key] = w
	s.wg.Add(1)
	go s.run(key, w)
	return nil
}

func (s *Scheduler[K]) run(key K, w *worker) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(w.queue) == 0 {
			delete(s.workers, key)
			s.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		s.mu.Unlock()

		if !t.state.CompareAndSwap(taskQueued, taskStarted) {
			continue
		}
		err := t.ctx.Err()
		if err == nil {
			err = t.fn()
		}
		if t.done != nil {
			t.done <- err
		}
	}
}

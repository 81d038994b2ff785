package mocks

import (
	"sync"
	"time"
)

// MockRecorder records command measurements.
type MockRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	committed map[string]int
	conflicts map[string]int
}

// NewMockRecorder creates a new recorder
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		outcomes:  make(map[string]int),
		committed: make(map[string]int),
		conflicts: make(map[string]int),
	}
}

// CommandExecuted counts the outcome.
func (r *MockRecorder) CommandExecuted(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

// EventsCommitted sums committed events per aggregate type.
func (r *MockRecorder) EventsCommitted(aggregateType string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed[aggregateType] += count
}

// ConcurrencyConflict counts conflicts per aggregate type.
func (r *MockRecorder) ConcurrencyConflict(aggregateType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[aggregateType]++
}

// Outcomes returns the number of executions with the given outcome.
func (r *MockRecorder) Outcomes(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

// Committed returns the number of committed events for the aggregate type.
func (r *MockRecorder) Committed(aggregateType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed[aggregateType]
}

// Conflicts returns the number of conflicts for the aggregate type.
func (r *MockRecorder) Conflicts(aggregateType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflicts[aggregateType]
}

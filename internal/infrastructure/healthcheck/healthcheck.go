// Package healthcheck collects component probes and reports them to the
// ops endpoints.
package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lllypuk/actuality/internal/infrastructure/httpserver"
)

const defaultCheckTimeout = 2 * time.Second

// Checker checks the health of a specific component or subsystem.
type Checker interface {
	// Name returns the name of this health checker.
	Name() string

	// Check performs health check and returns status.
	Check(ctx context.Context) Status
}

// Status represents the health status of a component.
type Status struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

type entry struct {
	checker  Checker
	critical bool
}

// Registry runs registered checkers. An unhealthy critical checker makes the
// process not ready; any other unhealthy checker only degrades it.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Every check runs with the given
// timeout, 2s when timeout is not positive.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{timeout: timeout, logger: logger}
}

// Critical registers checkers the process can not work without.
func (r *Registry) Critical(checkers ...Checker) *Registry {
	return r.add(true, checkers)
}

// Optional registers checkers that only degrade the process.
func (r *Registry) Optional(checkers ...Checker) *Registry {
	return r.add(false, checkers)
}

func (r *Registry) add(critical bool, checkers []Checker) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range checkers {
		r.entries = append(r.entries, entry{checker: c, critical: critical})
	}
	return r
}

// IsReady reports whether every critical checker is healthy.
func (r *Registry) IsReady(ctx context.Context) bool {
	for _, e := range r.snapshot() {
		if e.critical && !r.run(ctx, e.checker).Healthy {
			return false
		}
	}
	return true
}

// GetHealthStatus runs all checkers concurrently.
func (r *Registry) GetHealthStatus(ctx context.Context) []httpserver.ComponentStatus {
	entries := r.snapshot()
	result := make([]httpserver.ComponentStatus, len(entries))

	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := r.run(ctx, e.checker)
			result[i] = httpserver.ComponentStatus{
				Name:    e.checker.Name(),
				Status:  componentStatus(st, e.critical),
				Message: st.Message,
				Details: st.Details,
			}
		}()
	}
	wg.Wait()

	return result
}

func (r *Registry) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]entry(nil), r.entries...)
}

func (r *Registry) run(ctx context.Context, c Checker) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	st := c.Check(ctx)
	if !st.Healthy {
		r.logger.WarnContext(ctx, "health check failed",
			slog.String("component", c.Name()),
			slog.String("message", st.Message),
		)
	}
	return st
}

func componentStatus(st Status, critical bool) string {
	switch {
	case st.Healthy:
		return httpserver.StatusHealthy
	case critical:
		return httpserver.StatusUnhealthy
	default:
		return httpserver.StatusDegraded
	}
}

func healthy(message string, details map[string]any) Status {
	return Status{Healthy: true, Message: message, Details: details, CheckedAt: time.Now()}
}

func unhealthy(message string, details map[string]any) Status {
	return Status{Healthy: false, Message: message, Details: details, CheckedAt: time.Now()}
}

package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Component and process states reported by the health endpoints.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// ComponentStatus is the state of one dependency, e.g. redis or a view sync check.
type ComponentStatus struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status     string            `json:"status"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthChecker reports the state of the components a process depends on.
type HealthChecker interface {
	// IsReady reports whether the process can do its work.
	IsReady(ctx context.Context) bool

	// GetHealthStatus returns the status of every component.
	GetHealthStatus(ctx context.Context) []ComponentStatus
}

// HealthEndpoints serves liveness, readiness and component details.
type HealthEndpoints struct {
	checker HealthChecker
	now     func() time.Time
}

// NewHealthEndpoints creates the endpoints. A nil checker reports ready with no components.
func NewHealthEndpoints(checker HealthChecker) *HealthEndpoints {
	return &HealthEndpoints{checker: checker, now: time.Now}
}

// Register mounts GET /healthz (liveness), GET /readyz (200 or 503)
// and GET /healthz/details.
func (h *HealthEndpoints) Register(e *echo.Echo) {
	e.GET("/healthz", h.handleLiveness)
	e.GET("/readyz", h.handleReadiness)
	e.GET("/healthz/details", h.handleDetails)
}

// liveness никогда не зовет checker: процесс жив, пока отвечает
func (h *HealthEndpoints) handleLiveness(c echo.Context) error {
	return h.respond(c, http.StatusOK, StatusHealthy, nil)
}

func (h *HealthEndpoints) handleReadiness(c echo.Context) error {
	ctx := c.Request().Context()
	if h.checker == nil {
		return h.respond(c, http.StatusOK, StatusReady, nil)
	}

	ready := h.checker.IsReady(ctx)
	components := h.checker.GetHealthStatus(ctx)
	if !ready {
		return h.respond(c, http.StatusServiceUnavailable, StatusNotReady, components)
	}
	return h.respond(c, http.StatusOK, StatusReady, components)
}

func (h *HealthEndpoints) handleDetails(c echo.Context) error {
	var components []ComponentStatus
	if h.checker != nil {
		components = h.checker.GetHealthStatus(c.Request().Context())
	}

	overall := Overall(components)
	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return h.respond(c, code, overall, components)
}

func (h *HealthEndpoints) respond(c echo.Context, code int, status string, components []ComponentStatus) error {
	return c.JSON(code, HealthResponse{
		Status:     status,
		CheckedAt:  h.now().UTC(),
		Components: components,
	})
}

// Overall folds component states: any unhealthy component wins over degraded ones.
func Overall(components []ComponentStatus) string {
	overall := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

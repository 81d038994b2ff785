package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/infrastructure/httpserver"
)

type stubChecker struct {
	ready      bool
	components []httpserver.ComponentStatus
}

func (s stubChecker) IsReady(context.Context) bool { return s.ready }

func (s stubChecker) GetHealthStatus(context.Context) []httpserver.ComponentStatus {
	return s.components
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name          string
		checker       httpserver.HealthChecker
		path          string
		expectedCode  int
		expectedState string
	}{
		{"liveness", stubChecker{}, "/healthz", http.StatusOK, httpserver.StatusHealthy},
		{"ready", stubChecker{ready: true}, "/readyz", http.StatusOK, httpserver.StatusReady},
		{"not ready", stubChecker{}, "/readyz", http.StatusServiceUnavailable, httpserver.StatusNotReady},
		{"nil checker is ready", nil, "/readyz", http.StatusOK, httpserver.StatusReady},
		{
			"details healthy",
			stubChecker{components: []httpserver.ComponentStatus{{Name: "redis", Status: httpserver.StatusHealthy}}},
			"/healthz/details", http.StatusOK, httpserver.StatusHealthy,
		},
		{
			"details degraded",
			stubChecker{components: []httpserver.ComponentStatus{
				{Name: "redis", Status: httpserver.StatusHealthy},
				{Name: "views", Status: httpserver.StatusDegraded},
			}},
			"/healthz/details", http.StatusOK, httpserver.StatusDegraded,
		},
		{
			"details unhealthy wins",
			stubChecker{components: []httpserver.ComponentStatus{
				{Name: "views", Status: httpserver.StatusDegraded},
				{Name: "redis", Status: httpserver.StatusUnhealthy, Message: "connection refused"},
			}},
			"/healthz/details", http.StatusServiceUnavailable, httpserver.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer()
			httpserver.NewHealthEndpoints(tt.checker).Register(server.Echo())

			rec := serve(server, http.MethodGet, tt.path)
			assert.Equal(t, tt.expectedCode, rec.Code)

			var resp httpserver.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedState, resp.Status)
		})
	}
}

func TestOverall(t *testing.T) {
	t.Parallel()

	assert.Equal(t, httpserver.StatusHealthy, httpserver.Overall(nil))
	assert.Equal(t, httpserver.StatusDegraded, httpserver.Overall([]httpserver.ComponentStatus{
		{Status: httpserver.StatusHealthy}, {Status: httpserver.StatusDegraded},
	}))
	assert.Equal(t, httpserver.StatusUnhealthy, httpserver.Overall([]httpserver.ComponentStatus{
		{Status: httpserver.StatusDegraded}, {Status: httpserver.StatusUnhealthy},
	}))
}

func TestHealthDetails_ComponentDetails(t *testing.T) {
	server := newServer()
	httpserver.NewHealthEndpoints(stubChecker{ready: true, components: []httpserver.ComponentStatus{
		{Name: "view_sync", Status: httpserver.StatusDegraded, Details: map[string]any{"lagging": 2}},
	}}).Register(server.Echo())

	rec := serve(server, http.MethodGet, "/healthz/details")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp httpserver.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Components, 1)
	assert.InDelta(t, 2, resp.Components[0].Details["lagging"], 0)
	assert.False(t, resp.CheckedAt.IsZero())
}

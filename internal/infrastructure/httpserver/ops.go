package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ViewLoader returns the view with the given id, or false when there is none.
type ViewLoader func(ctx context.Context, viewID string) (any, bool)

// RegisterMetrics serves the metrics of gatherer at GET /metrics.
func RegisterMetrics(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterViews serves views at GET <prefix>/:id as JSON.
func RegisterViews(e *echo.Echo, prefix string, load ViewLoader) {
	e.GET(prefix+"/:id", func(c echo.Context) error {
		view, ok := load(c.Request().Context(), c.Param("id"))
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "view not found"})
		}
		return c.JSON(http.StatusOK, view)
	})
}

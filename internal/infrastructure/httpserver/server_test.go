package httpserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/actuality/internal/config"
	"github.com/lllypuk/actuality/internal/infrastructure/httpserver"
)

func newServer() *httpserver.Server {
	return httpserver.NewServer(config.DefaultConfig().Server, nil)
}

func serve(s *httpserver.Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	cfg := config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            3000,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    20 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
	server := httpserver.NewServer(cfg, nil)

	require.NotNil(t, server)
	e := server.Echo()
	assert.True(t, e.HideBanner)
	assert.True(t, e.HidePort)
	assert.Equal(t, 15*time.Second, e.Server.ReadTimeout)
	assert.Equal(t, 20*time.Second, e.Server.WriteTimeout)
	assert.Equal(t, "127.0.0.1:3000", server.Address())
}

func TestServerRegisterRoutes(t *testing.T) {
	server := newServer()

	server.RegisterRoutes(func(e *echo.Echo) {
		e.GET("/ping", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"pong": "ok"})
		})
	})

	rec := serve(server, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pong":"ok"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(server, http.MethodGet, "/nonexistent").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(server, http.MethodPost, "/ping").Code)
}

func TestServerRecoversFromPanics(t *testing.T) {
	server := newServer()
	server.Echo().GET("/panic", func(echo.Context) error {
		panic("boom")
	})

	rec := serve(server, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerShutdown(t *testing.T) {
	server := newServer()

	// Shutdown should complete without error even if server wasn't started
	require.NoError(t, server.Shutdown(context.Background()))
}

// Package httpserver serves the operational HTTP endpoints of a process: health,
// metrics and view lookups.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lllypuk/actuality/internal/config"
)

const (
	// DefaultMaxHeaderBytes limits request headers.
	DefaultMaxHeaderBytes = 1 << 20 // 1MB

	defaultShutdownTimeout = 10 * time.Second
)

// Server is the ops endpoint of a process.
type Server struct {
	echo   *echo.Echo
	config config.ServerConfig
	logger *slog.Logger
}

// NewServer creates the echo instance with panic recovery and request logging.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Server.MaxHeaderBytes = DefaultMaxHeaderBytes

	e.Use(
		middleware.RecoverWithConfig(middleware.RecoverConfig{
			LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
				logger.ErrorContext(c.Request().Context(), "panic in handler",
					slog.String("path", c.Path()),
					slog.String("error", err.Error()),
					slog.String("stack", string(stack)),
				)
				return err
			},
		}),
		requestLogging(logger),
	)

	return &Server{echo: e, config: cfg, logger: logger}
}

// Echo returns the underlying instance for route registration and tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// RegisterRoutes hands the echo instance to register.
func (s *Server) RegisterRoutes(register func(e *echo.Echo)) {
	register(s.echo)
}

// Start serves until Shutdown; it returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := s.Address()
	s.logger.Info("starting ops server", slog.String("address", addr))

	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start server on %s: %w", addr, err)
	}
	return nil
}

// Shutdown waits for in-flight requests at most ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.InfoContext(ctx, "ops server stopped")
	return nil
}

// Address returns host:port the server listens on.
func (s *Server) Address() string {
	return s.config.Address()
}

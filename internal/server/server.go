// Package server exposes the chat facade over HTTP and streams topic events
// to WebSocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/nfrund/topicspace/internal/chat"
	"github.com/nfrund/topicspace/internal/config"
	"github.com/nfrund/topicspace/internal/middleware"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E *echo.Echo

	chat     *chat.Service
	addr     string
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a Server with its routes registered.
func New(cfg config.Provider, svc *chat.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(middleware.Logger)
	setupErrorHandling(e)

	s := &Server{
		E:    e,
		chat: svc,
		addr: cfg.GetHTTPAddr(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: slog.Default().With("component", "server"),
	}
	s.RegisterRoutes()
	return s
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.E.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.E.Shutdown(ctx)
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/noctua/internal/app"
)

// Server exposes the observability and queue-control surface: the
// websocket event stream plus a small JSON API.
type Server struct {
	app       *app.App
	wsHandler *WebSocketHandler
	router    *http.ServeMux
	server    *http.Server
}

// New creates the HTTP server for the given app
func New(application *app.App) *Server {
	s := &Server{
		app:       application,
		wsHandler: NewWebSocketHandler(application.EventService, application.Logger),
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.wsHandler.HandleWebSocket)

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/version", s.versionHandler)
	mux.HandleFunc("/api/status", s.statusHandler)

	mux.HandleFunc("/api/tasks", s.tasksHandler)
	mux.HandleFunc("/api/tasks/", s.taskRoutes)

	mux.HandleFunc("/api/accounts", s.accountsHandler)
	mux.HandleFunc("/api/accounts/reset", s.resetAccountsHandler)

	mux.HandleFunc("/api/processing", s.processingHandler)
	mux.HandleFunc("/api/logs/recent", s.recentLogsHandler)
	mux.HandleFunc("/api/graphs", s.graphsHandler)

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/kitfc/litehook/internal/store"
	"github.com/kitfc/litehook/internal/supervisor"
)

// Server wraps the control-plane router with its own net/http.Server
// so the entry point can start and gracefully stop it independently
// of the supervisor.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer builds the control-plane adapter over sup: listener CRUD
// plus a health check backed by st, and a static-file fallback rooted
// at staticDir.
func NewServer(sup *supervisor.Supervisor, st *store.Store, staticDir string) *Server {
	handlers := NewHandlers(sup)
	health := NewHealthChecker(st)
	router := SetupRoutes(handlers, health, staticDir)

	return &Server{handler: router}
}

// ListenAndServe starts the HTTP server on addr. It blocks until the
// server stops, returning http.ErrServerClosed on a clean Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}

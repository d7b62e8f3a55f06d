// Package api exposes the read surface and the manual triggers the
// dashboard consumes: account listing with sync status, manual sync,
// bulk edits routed through the action executor, rule and audit reads.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/ads-optimizer/internal/config"
)

// Server wraps the HTTP listener around the route tree.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates the API server over the given handler set.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(handlers),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
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

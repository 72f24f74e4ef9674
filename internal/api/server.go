// Package api serves the status endpoints: health, the loaded group
// catalog and recent output files.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/sheet-dispatch/internal/config"
)

// Server is the status HTTP server.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates the status server.
func NewServer(cfg config.ServerConfig, catalog CatalogSource, outputDir string) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(NewHandlers(catalog, outputDir)),
	}
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}

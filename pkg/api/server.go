package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sagaforge/sagaforge/config"
	"github.com/sagaforge/sagaforge/pkg/logger"
)

// Server is the lifecycle contract main drives: Start blocks serving, and
// Shutdown drains in-flight requests within the context deadline.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// HTTPServer serves the orchestrator's REST API and event stream.
type HTTPServer struct {
	cfg    *config.Config
	srv    *http.Server
	router chi.Router
	log    logger.Logger
}

// NewHTTPServer builds the router from cfg and wraps it in an http.Server
// with the configured timeouts.
func NewHTTPServer(cfg *config.Config, log logger.Logger, handlers *Handlers) *HTTPServer {
	router := NewRouter(cfg, log, handlers)

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.HTTP.ReadTimeout,
		WriteTimeout:   cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:    cfg.Server.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.Server.HTTP.MaxHeaderBytes,
	}

	return &HTTPServer{cfg: cfg, srv: srv, router: router, log: log}
}

// Start listens and serves until Shutdown. ErrServerClosed is the normal
// end of a graceful stop and is not reported as a failure.
func (s *HTTPServer) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.srv.Addr,
		"read_timeout", s.cfg.Server.HTTP.ReadTimeout,
		"write_timeout", s.cfg.Server.HTTP.WriteTimeout,
	)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("HTTP server failed", "error", err)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests up to
// the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown failed", "error", err)
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

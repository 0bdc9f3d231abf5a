// File: internal/api/server.go

// Package api exposes the engine over HTTP: run and poll executions,
// manage stored test cases, and stream execution status over WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/internal/config"
)

// Server hosts the HTTP listener for the engine.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	handlers   *Handlers
	httpServer *http.Server
}

// NewServer wires the router. cases may be nil when persistence is
// disabled; the affected endpoints respond 503.
func NewServer(cfg config.ServerConfig, engine Engine, cases CaseStore, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("api"),
		handlers: NewHandlers(logger, engine, cases),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Runs can be long-lived; the per-request timeout stays generous and
	// the WebSocket routes sit outside it.
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/ws/v1/executions/{executionID}", s.handleExecutionStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		s.handlers.RegisterRoutes(r)
	})

	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP listener and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Package api provides HTTP handlers and the main API server logic for
// CoachGate.
//
// It exposes the /chat endpoint served by the mode contract enforcement
// pipeline, plus health, mode-registry, and stats endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hcpsim/coachgate/internal/pipeline"
	"github.com/hcpsim/coachgate/internal/session"
)

// DefaultRequestDeadline bounds a whole request, distinct from the
// per-call provider timeout, so repair passes cannot stack into
// unbounded tail latency.
const DefaultRequestDeadline = 90 * time.Second

// Options configure the API server.
type Options struct {
	Addr            string
	RequestDeadline time.Duration
}

// Server wires the pipeline and session store into HTTP handlers.
type Server struct {
	pipeline   *pipeline.Pipeline
	store      session.Store
	deadline   time.Duration
	httpServer *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(pl *pipeline.Pipeline, store session.Store, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.RequestDeadline <= 0 {
		opts.RequestDeadline = DefaultRequestDeadline
	}

	s := &Server{
		pipeline: pl,
		store:    store,
		deadline: opts.RequestDeadline,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/modes", s.modesHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	slog.Info("Server.Start: CoachGate API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}

//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package server provides the HTTP server for the tracker API.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pgEdge/pgedge-rag-tracker/internal/config"
	"github.com/pgEdge/pgedge-rag-tracker/internal/crossref"
	"github.com/pgEdge/pgedge-rag-tracker/internal/pipeline"
	"github.com/pgEdge/pgedge-rag-tracker/internal/settings"
)

// SessionManager defines the interface for session tracking.
type SessionManager interface {
	Create(query string) pipeline.Snapshot
	Apply(ctx context.Context, id string, ev pipeline.Event) (pipeline.Snapshot, error)
	Get(ctx context.Context, id string) (pipeline.Snapshot, error)
	List() []pipeline.Info
	ListArchived(ctx context.Context, limit int) ([]pipeline.Info, error)
	Remove(id string) error
	OnEvict(fn func(id string))
	Close() error
}

// Server is the HTTP server for the tracker API.
type Server struct {
	config   *config.Config
	sessions SessionManager
	prefs    *settings.Scope
	logger   *slog.Logger
	server   *http.Server
	mux      *http.ServeMux
	runner   *pipeline.Orchestrator

	// Shared highlight state, one linker per session.
	linkersMu sync.Mutex
	linkers   map[string]*crossref.Linker
	scheduler crossref.Scheduler
}

// New creates a new HTTP server. A nil scope gets a fresh in-memory store
// seeded with the configured preferences.
func New(cfg *config.Config, sm SessionManager, prefs *settings.Scope, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if prefs == nil {
		prefs = defaultScope(cfg.Preferences, logger)
	}

	s := &Server{
		config:    cfg,
		sessions:  sm,
		prefs:     prefs,
		logger:    logger,
		mux:       http.NewServeMux(),
		linkers:   make(map[string]*crossref.Linker),
		scheduler: crossref.ClockScheduler{},
		runner: pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
			Sink:   sm,
			Logger: logger,
		}),
	}

	// Evicted sessions can no longer be highlighted
	sm.OnEvict(s.dropLinker)

	// Set up routes
	s.setupRoutes()

	return s
}

// defaultScope opens an in-memory preference scope holding prefs. Invalid
// preferences are logged and replaced by the defaults.
func defaultScope(prefs settings.Preferences, logger *slog.Logger) *settings.Scope {
	store := settings.NewMemoryStore()
	if err := settings.Save(store, prefs); err != nil {
		logger.Warn("invalid preferences, using defaults", "error", err)
		store.Clear()
	}

	// Open keeps the defaults for any key it cannot load.
	scope, err := settings.Open(store)
	if err != nil {
		logger.Warn("failed to load preferences, using defaults", "error", err)
	}
	return scope
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.mux)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.ListenAddress, s.config.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting server",
		"address", addr,
		"tls", s.config.Server.TLS.Enabled)

	if s.config.Server.TLS.Enabled {
		return s.serveTLS()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return s.server.Serve(listener)
}

// serveTLS starts the server with TLS.
func (s *Server) serveTLS() error {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	s.server.TLSConfig = tlsCfg

	return s.server.ListenAndServeTLS(
		s.config.Server.TLS.CertFile,
		s.config.Server.TLS.KeyFile,
	)
}

// Shutdown gracefully shuts down the server and releases the highlight
// timers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.linkersMu.Lock()
	for id, l := range s.linkers {
		l.Close()
		delete(s.linkers, id)
	}
	s.linkersMu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}

	return nil
}

// Addr returns the server's address. Returns empty string if not started.
func (s *Server) Addr() string {
	if s.server != nil {
		return s.server.Addr
	}
	return ""
}

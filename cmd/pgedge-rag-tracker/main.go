//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pgEdge/pgedge-rag-tracker/internal/config"
	"github.com/pgEdge/pgedge-rag-tracker/internal/database"
	"github.com/pgEdge/pgedge-rag-tracker/internal/pipeline"
	"github.com/pgEdge/pgedge-rag-tracker/internal/server"
	"github.com/pgEdge/pgedge-rag-tracker/internal/settings"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-alpha1"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help message")
		showOpenAPI = flag.Bool("openapi", false, "Output OpenAPI specification and exit")
		configPath  = flag.String("config", "", "Path to configuration file")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `pgEdge RAG Tracker - Pipeline progress and citation tracking for RAG

Usage:
    pgedge-rag-tracker [options]

Options:
    -config string
        Path to configuration file. If not specified, searches:
        1. /etc/pgedge/pgedge-rag-tracker.yaml
        2. pgedge-rag-tracker.yaml (in binary directory)

    -debug
        Enable debug logging

    -openapi
        Output OpenAPI v3 specification as JSON and exit

    -version
        Show version information and exit

    -help
        Show this help message and exit

For more information, visit: https://github.com/pgEdge/pgedge-rag-tracker
`)
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("pgEdge RAG Tracker\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Build Time: %s\n", buildTime)
		fmt.Printf("  Git Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	if *showOpenAPI {
		spec := server.BuildOpenAPISpec()
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(spec); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode OpenAPI spec: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Set up logger
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Run the server
	if err := run(*configPath, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("configuration loaded",
		"max_sessions", cfg.Tracker.MaxSessions,
		"archive", cfg.ArchiveEnabled())

	ctx := context.Background()

	// Connect the session archive if configured
	var archive pipeline.Archive
	if cfg.ArchiveEnabled() {
		pool, err := database.NewPool(ctx, *cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect session archive: %w", err)
		}
		defer pool.Close()

		a := database.NewArchive(pool)
		if err := a.EnsureSchema(ctx); err != nil {
			return err
		}
		archive = a

		logger.Info("session archive connected",
			"host", cfg.Database.Host,
			"database", cfg.Database.Database,
			"table", cfg.Database.Table)
	}

	// Create session manager
	sm := pipeline.NewManager(pipeline.ManagerConfig{
		MaxSessions: cfg.Tracker.MaxSessions,
		Archive:     archive,
		Logger:      logger,
	})
	defer func() {
		if err := sm.Close(); err != nil {
			logger.Error("failed to close session manager", "error", err)
		}
	}()

	// Preferences live for the lifetime of the process
	store := settings.NewMemoryStore()
	if err := settings.Save(store, cfg.Preferences); err != nil {
		return fmt.Errorf("invalid preferences: %w", err)
	}
	prefs, err := settings.Open(store)
	if err != nil {
		return fmt.Errorf("failed to open preferences: %w", err)
	}
	defer func() {
		if err := prefs.Close(); err != nil {
			logger.Error("failed to close preferences", "error", err)
		}
	}()

	// Create and start server
	srv := server.New(cfg, sm, prefs, logger)

	// Handle graceful shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal", "signal", sig)

		// Give 30 seconds for graceful shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return srv.Shutdown(ctx)
	}
}

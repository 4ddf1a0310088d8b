//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration loading and validation for the
// pgEdge RAG Tracker.
package config

import (
	"github.com/pgEdge/pgedge-rag-tracker/internal/pipeline"
	"github.com/pgEdge/pgedge-rag-tracker/internal/settings"
)

// Config is the root configuration structure for the tracker.
type Config struct {
	Server      ServerConfig         `yaml:"server"`
	Tracker     TrackerConfig        `yaml:"tracker"`
	Preferences settings.Preferences `yaml:"preferences"`
	Database    *DatabaseConfig      `yaml:"database"` // Optional session archive
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddress string     `yaml:"listen_address"`
	Port          int        `yaml:"port"`
	TLS           TLSConfig  `yaml:"tls"`
	CORS          CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"` // Origins to allow, or ["*"] for all
}

// TLSConfig contains TLS/HTTPS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TrackerConfig contains session tracking settings.
type TrackerConfig struct {
	MaxSessions      int  `yaml:"max_sessions"`
	ArchiveCompleted bool `yaml:"archive_completed"` // Requires database
}

// DatabaseConfig contains PostgreSQL connection settings for the session
// archive.
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
	SSLMode      string `yaml:"ssl_mode"`

	// Certificate-based authentication
	SSLCert   string `yaml:"ssl_cert"`
	SSLKey    string `yaml:"ssl_key"`
	SSLRootCA string `yaml:"ssl_root_ca"`

	Table string `yaml:"table"` // Archive table, optionally schema qualified
}

// DefaultTable is the archive table used when none is configured.
const DefaultTable = "rag_sessions"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "0.0.0.0",
			Port:          8080,
			TLS: TLSConfig{
				Enabled: false,
			},
		},
		Tracker: TrackerConfig{
			MaxSessions:      pipeline.DefaultMaxSessions,
			ArchiveCompleted: true,
		},
		Preferences: settings.Defaults(),
	}
}

// ArchiveEnabled reports whether finished sessions are written to the
// database.
func (c *Config) ArchiveEnabled() bool {
	return c.Database != nil && c.Tracker.ArchiveCompleted
}

//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a YAML fixture into a temporary directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: 127.0.0.1
  port: 9090
  cors:
    enabled: true
    allowed_origins: ["https://app.example.com"]
tracker:
  max_sessions: 50
  archive_completed: true
preferences:
  tts_enabled: true
  group_citations: true
  highlight_duration: 1500ms
database:
  host: localhost
  database: rag
  username: tracker
  table: audit.rag_sessions
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load valid config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.ListenAddress != "127.0.0.1" {
		t.Errorf("expected listen address 127.0.0.1, got %s", cfg.Server.ListenAddress)
	}
	if !cfg.Server.CORS.Enabled || len(cfg.Server.CORS.AllowedOrigins) != 1 {
		t.Errorf("unexpected CORS config %+v", cfg.Server.CORS)
	}
	if cfg.Tracker.MaxSessions != 50 {
		t.Errorf("expected max sessions 50, got %d", cfg.Tracker.MaxSessions)
	}

	p := cfg.Preferences
	if !p.TTSEnabled || !p.GroupCitations || !p.AutoScrollCitations {
		t.Errorf("unexpected preferences %+v", p)
	}
	if p.HighlightDuration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s highlight, got %v", p.HighlightDuration)
	}

	if cfg.Database == nil {
		t.Fatal("expected database config")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("expected default database port 5432, got %d", cfg.Database.Port)
	}
	if cfg.Database.SSLMode != "prefer" {
		t.Errorf("expected default ssl_mode 'prefer', got '%s'", cfg.Database.SSLMode)
	}
	if cfg.Database.Table != "audit.rag_sessions" {
		t.Errorf("unexpected table %q", cfg.Database.Table)
	}
	if !cfg.ArchiveEnabled() {
		t.Error("expected archive to be enabled")
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("failed to load minimal config: %v", err)
	}

	if cfg.Tracker.MaxSessions != 1000 {
		t.Errorf("expected default max sessions 1000, got %d", cfg.Tracker.MaxSessions)
	}
	if cfg.Preferences.HighlightDuration != 2*time.Second {
		t.Errorf("expected default highlight 2s, got %v", cfg.Preferences.HighlightDuration)
	}
	if cfg.Database != nil {
		t.Error("database should be unset")
	}
	if cfg.ArchiveEnabled() {
		t.Error("archive requires a database")
	}
}

func TestLoad_DatabaseDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  host: db\n  database: rag\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Table != DefaultTable {
		t.Errorf("expected default table %s, got %s", DefaultTable, cfg.Database.Table)
	}
}

func TestLoad_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{
			name:        "invalid port",
			content:     "server:\n  port: 70000\n",
			errContains: "server.port",
		},
		{
			name:        "zero max sessions",
			content:     "tracker:\n  max_sessions: 0\n",
			errContains: "tracker.max_sessions",
		},
		{
			name:        "negative highlight",
			content:     "preferences:\n  highlight_duration: -1s\n",
			errContains: "preferences.highlight_duration",
		},
		{
			name:        "database missing host",
			content:     "database:\n  database: rag\n",
			errContains: "database.host",
		},
		{
			name:        "database bad ssl mode",
			content:     "database:\n  host: db\n  database: rag\n  ssl_mode: sometimes\n",
			errContains: "database.ssl_mode",
		},
		{
			name:        "database bad table",
			content:     "database:\n  host: db\n  database: rag\n  table: a.b.c\n",
			errContains: "database.table",
		},
		{
			name:        "tls without files",
			content:     "server:\n  tls:\n    enabled: true\n",
			errContains: "server.tls.cert_file",
		},
		{
			name:        "malformed yaml",
			content:     "server: [",
			errContains: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Error("expected error, got nil")
				return
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing '%s', got '%s'",
					tt.errContains, err.Error())
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Tracker.MaxSessions = -1
	cfg.Database = &DatabaseConfig{}

	err := cfg.Validate()

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{"server.port", "tracker.max_sessions", "database.host", "database.database", "database.port"} {
		if !fields[want] {
			t.Errorf("expected error for %s, got %v", want, err)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ListenAddress != "0.0.0.0" {
		t.Errorf("expected default listen address '0.0.0.0', got '%s'",
			cfg.Server.ListenAddress)
	}
	if !cfg.Tracker.ArchiveCompleted {
		t.Error("expected archive_completed by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestResolvePassword(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pw")
	if err := os.WriteFile(file, []byte("  s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvDatabasePassword, "from-env")

	tests := []struct {
		name    string
		db      DatabaseConfig
		want    string
		wantErr bool
	}{
		{"configured", DatabaseConfig{Password: "inline", PasswordFile: file}, "inline", false},
		{"file", DatabaseConfig{PasswordFile: file}, "s3cret", false},
		{"environment", DatabaseConfig{}, "from-env", false},
		{"missing file", DatabaseConfig{PasswordFile: filepath.Join(dir, "nope")}, "", true},
		{"empty file", DatabaseConfig{PasswordFile: empty}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.db.ResolvePassword()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolvePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolvePassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(homeDir, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		result := expandPath(tt.input)
		if result != tt.expected {
			t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

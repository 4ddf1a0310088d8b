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
	"fmt"
	"os"
	"strings"
)

// EnvDatabasePassword is the environment variable consulted when no
// password is configured.
const EnvDatabasePassword = "PGPASSWORD"

// ResolvePassword returns the database password with the following
// priority:
//  1. password in the configuration
//  2. password_file in the configuration
//  3. the PGPASSWORD environment variable
//
// An empty result is not an error; libpq-style lookups such as .pgpass
// still apply when connecting.
func (db DatabaseConfig) ResolvePassword() (string, error) {
	if db.Password != "" {
		return db.Password, nil
	}

	if db.PasswordFile != "" {
		return readPasswordFile(expandPath(db.PasswordFile))
	}

	return os.Getenv(EnvDatabasePassword), nil
}

// readPasswordFile reads a password from a file.
func readPasswordFile(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("database password file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read database password: %w", err)
	}

	password := strings.TrimSpace(string(data))
	if password == "" {
		return "", fmt.Errorf("database password file is empty: %s", path)
	}

	return password, nil
}

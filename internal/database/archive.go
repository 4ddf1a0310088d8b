//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgEdge/pgedge-rag-tracker/internal/pipeline"
)

// parseTableIdentifier splits a table name into schema and table parts.
// Supports formats: "table", "schema.table"
func parseTableIdentifier(table string) pgx.Identifier {
	parts := strings.Split(table, ".")
	return pgx.Identifier(parts)
}

// statements holds the archive SQL for one table.
type statements struct {
	createTable string
	createIndex string
	upsert      string
	get         string
	list        string
}

func newStatements(table string) statements {
	ident := parseTableIdentifier(table)
	name := ident.Sanitize()
	index := pgx.Identifier{ident[len(ident)-1] + "_created_at_idx"}.Sanitize()

	return statements{
		createTable: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id                TEXT PRIMARY KEY,
    query             TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    total_duration_ms BIGINT,
    snapshot          JSONB NOT NULL,
    archived_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`, name),
		createIndex: fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (created_at DESC)", index, name),
		upsert: fmt.Sprintf(`INSERT INTO %s
    (id, query, status, created_at, total_duration_ms, snapshot, archived_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    total_duration_ms = EXCLUDED.total_duration_ms,
    snapshot = EXCLUDED.snapshot,
    archived_at = EXCLUDED.archived_at`, name),
		get: fmt.Sprintf("SELECT snapshot FROM %s WHERE id = $1", name),
		list: fmt.Sprintf(`SELECT id, query, status, created_at FROM %s
ORDER BY created_at DESC, id
LIMIT $1`, name),
	}
}

// Archive stores finished session snapshots in PostgreSQL. It implements
// pipeline.Archive.
type Archive struct {
	pool *pgxpool.Pool
	sql  statements
}

// NewArchive creates an archive over the pool using the configured table.
func NewArchive(p *Pool) *Archive {
	return &Archive{
		pool: p.Pool(),
		sql:  newStatements(p.config.Table),
	}
}

// EnsureSchema creates the archive table and its index if needed.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, a.sql.createTable); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	if _, err := a.pool.Exec(ctx, a.sql.createIndex); err != nil {
		return fmt.Errorf("failed to create archive index: %w", err)
	}
	return nil
}

// SaveSession writes a snapshot, replacing any earlier copy.
func (a *Archive) SaveSession(ctx context.Context, snap pipeline.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = a.pool.Exec(ctx, a.sql.upsert,
		snap.ID,
		snap.Query,
		string(snap.Status),
		snap.Timestamp,
		snap.TotalDurationMs,
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", snap.ID, err)
	}
	return nil
}

// GetSession loads an archived snapshot. It returns
// pipeline.ErrSessionNotFound for unknown ids.
func (a *Archive) GetSession(ctx context.Context, id string) (*pipeline.Snapshot, error) {
	var data []byte
	err := a.pool.QueryRow(ctx, a.sql.get, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipeline.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}

	var snap pipeline.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &snap, nil
}

// ListSessions returns the most recently created archived sessions.
func (a *Archive) ListSessions(ctx context.Context, limit int) ([]pipeline.Info, error) {
	if limit <= 0 {
		limit = pipeline.DefaultMaxSessions
	}

	rows, err := a.pool.Query(ctx, a.sql.list, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var infos []pipeline.Info
	for rows.Next() {
		var (
			info    pipeline.Info
			status  string
			created time.Time
		)
		if err := rows.Scan(&info.ID, &info.Query, &status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.Status = pipeline.SessionStatus(status)
		info.Timestamp = created
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return infos, nil
}

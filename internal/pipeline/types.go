//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"context"
	"time"
)

// Info contains basic session information for listing.
type Info struct {
	ID        string        `json:"id"`
	Query     string        `json:"query,omitempty"`
	Status    SessionStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// Archive stores snapshots of finished sessions. GetSession returns
// ErrSessionNotFound for unknown ids. ListSessions returns at most limit
// sessions, newest first.
type Archive interface {
	SaveSession(ctx context.Context, snap Snapshot) error
	GetSession(ctx context.Context, id string) (*Snapshot, error)
	ListSessions(ctx context.Context, limit int) ([]Info, error)
}

//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"encoding/json"
	"time"

	"github.com/pgEdge/pgedge-rag-tracker/internal/citation"
)

// StageView is the read-only view of a stage exposed to renderers.
type StageView struct {
	Name       StageName   `json:"name"`
	Status     StageStatus `json:"status"`
	StartTime  *time.Time  `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	DurationMs *int64      `json:"duration_ms,omitempty"`
	Data       Payload     `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// UnmarshalJSON decodes the payload into the type belonging to the stage.
func (v *StageView) UnmarshalJSON(data []byte) error {
	type stageView StageView
	var aux struct {
		stageView
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	payload, err := DecodePayload(aux.Name, aux.Data)
	if err != nil {
		return err
	}

	*v = StageView(aux.stageView)
	v.Data = payload
	return nil
}

// Snapshot is the read-only view of a session: per-stage timing, the
// derived status and total duration, and, once the response is generated,
// the referenced citations.
type Snapshot struct {
	ID              string           `json:"id"`
	Query           string           `json:"query,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Status          SessionStatus    `json:"status"`
	Steps           []StageView      `json:"steps"`
	TotalDurationMs *int64           `json:"total_duration_ms,omitempty"`
	Citations       *citation.Report `json:"citations,omitempty"`
	Highlighted     string           `json:"highlighted,omitempty"`
}

// Highlighter reports the currently highlighted citation id.
type Highlighter interface {
	Highlighted() (string, bool)
}

// WithHighlight returns a copy of the snapshot carrying the highlight
// state from h.
func (s Snapshot) WithHighlight(h Highlighter) Snapshot {
	if h == nil {
		return s
	}
	if id, ok := h.Highlighted(); ok {
		s.Highlighted = id
	} else {
		s.Highlighted = ""
	}
	return s
}

// Terminal reports whether the snapshot is of a finished session.
func (s Snapshot) Terminal() bool {
	return s.Status.IsTerminal()
}

func millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// Snapshot captures the current view of the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Query:     s.query,
		Timestamp: s.timestamp,
		Status:    s.Status(),
		Steps:     make([]StageView, len(s.stages)),
	}

	for i, st := range s.stages {
		view := StageView{
			Name:      st.Name,
			Status:    st.Status,
			StartTime: st.StartTime,
			EndTime:   st.EndTime,
			Data:      st.Data,
			Error:     st.Error,
		}
		if d, ok := st.Duration(); ok {
			view.DurationMs = millis(d)
		}
		snap.Steps[i] = view
	}

	if d, ok := s.TotalDuration(); ok {
		snap.TotalDurationMs = millis(d)
	}

	if report, ok := s.Citations(); ok {
		snap.Citations = &report
	}

	return snap
}

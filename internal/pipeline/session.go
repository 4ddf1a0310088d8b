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
	"fmt"
	"time"

	"github.com/pgEdge/pgedge-rag-tracker/internal/citation"
)

// SessionStatus is derived from the statuses of a session's stages.
type SessionStatus string

// Session statuses. Completed and error are terminal.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// IsTerminal reports whether the session can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionError
}

// Event is a stage transition emitted by the orchestrator. Timestamp is in
// milliseconds since the Unix epoch.
type Event struct {
	StepName  string          `json:"stepName"`
	Status    StageStatus     `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Session is one run of the pipeline. A session has a single writer; it
// does no locking of its own.
type Session struct {
	id        string
	query     string
	timestamp time.Time
	stages    [len(StageNames)]Stage
}

// NewSession creates a session with every stage pending.
func NewSession(id, query string, createdAt time.Time) *Session {
	s := &Session{
		id:        id,
		query:     query,
		timestamp: createdAt,
	}
	for i, name := range StageNames {
		s.stages[i] = Stage{Name: name, Status: StatusPending}
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Query returns the submitted query.
func (s *Session) Query() string { return s.query }

// Timestamp returns the session creation time.
func (s *Session) Timestamp() time.Time { return s.timestamp }

// Stages returns a copy of the four stages in pipeline order.
func (s *Session) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages[:])
	return out
}

// Stage returns a copy of the named stage.
func (s *Session) Stage(name StageName) (Stage, error) {
	i, ok := stageIndex(name)
	if !ok {
		return Stage{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s.stages[i], nil
}

func (s *Session) stage(name StageName) (int, *Stage, error) {
	i, ok := stageIndex(name)
	if !ok {
		return -1, nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return i, &s.stages[i], nil
}

// halted reports whether any stage has failed.
func (s *Session) halted() bool {
	for _, st := range s.stages {
		if st.Status == StatusError {
			return true
		}
	}
	return false
}

func terminalError(st *Stage) error {
	return fmt.Errorf("%w: %s is %s", ErrStageTerminal, st.Name, st.Status)
}

// StartStage moves a pending stage to processing. The predecessor must
// have completed, and a start earlier than the predecessor's end is moved
// up to that end.
func (s *Session) StartStage(name StageName, at time.Time) error {
	i, st, err := s.stage(name)
	if err != nil {
		return err
	}

	if st.Status.IsTerminal() {
		return terminalError(st)
	}
	if s.halted() {
		return fmt.Errorf("%w: cannot start %s", ErrSessionHalted, name)
	}
	if st.Status != StatusPending {
		return &TransitionError{Stage: name, From: st.Status, To: StatusProcessing}
	}

	if i > 0 {
		prev := s.stages[i-1]
		if prev.Status != StatusCompleted {
			return fmt.Errorf("%w: %s is %s", ErrOutOfOrder, prev.Name, prev.Status)
		}
		if prev.EndTime != nil && at.Before(*prev.EndTime) {
			at = *prev.EndTime
		}
	}

	st.start(at)
	return nil
}

// CompleteStage moves a processing stage to completed and records its
// payload. A nil payload is allowed.
func (s *Session) CompleteStage(name StageName, data Payload, at time.Time) error {
	_, st, err := s.stage(name)
	if err != nil {
		return err
	}

	if st.Status.IsTerminal() {
		return terminalError(st)
	}
	if st.Status != StatusProcessing {
		return &TransitionError{Stage: name, From: st.Status, To: StatusCompleted}
	}
	if data != nil && data.StageName() != name {
		return fmt.Errorf("%w: %s payload for %s", ErrPayloadMismatch, data.StageName(), name)
	}

	st.Data = data
	st.finish(StatusCompleted, at)
	return nil
}

// FailStage moves a processing stage to error. Every later stage stays
// pending for the rest of the session.
func (s *Session) FailStage(name StageName, message string, at time.Time) error {
	_, st, err := s.stage(name)
	if err != nil {
		return err
	}

	if st.Status.IsTerminal() {
		return terminalError(st)
	}
	if st.Status != StatusProcessing {
		return &TransitionError{Stage: name, From: st.Status, To: StatusError}
	}

	if message == "" {
		message = "stage failed"
	}
	st.Error = message
	st.finish(StatusError, at)
	return nil
}

// Apply consumes one orchestrator event. Rejected events leave the session
// unchanged. Events for an already finished stage return ErrStageTerminal.
// Every event must carry a positive timestamp.
func (s *Session) Apply(ev Event) error {
	name, err := ParseStageName(ev.StepName)
	if err != nil {
		return err
	}
	if ev.Timestamp <= 0 {
		return fmt.Errorf("%w: %s %s at %d", ErrInvalidTimestamp, name, ev.Status, ev.Timestamp)
	}
	_, st, _ := s.stage(name)
	at := ev.Time()

	switch ev.Status {
	case StatusPending:
		if st.Status == StatusPending {
			return nil
		}
		if st.Status.IsTerminal() {
			return terminalError(st)
		}
		return &TransitionError{Stage: name, From: st.Status, To: StatusPending}

	case StatusProcessing:
		return s.StartStage(name, at)

	case StatusCompleted:
		if st.Status.IsTerminal() {
			return terminalError(st)
		}
		data, err := DecodePayload(name, ev.Data)
		if err != nil {
			return err
		}
		return s.CompleteStage(name, data, at)

	case StatusError:
		return s.FailStage(name, ev.Error, at)

	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, ev.Status)
	}
}

// Status derives the session status from its stages.
func (s *Session) Status() SessionStatus {
	running := false
	completed := 0

	for _, st := range s.stages {
		switch st.Status {
		case StatusError:
			return SessionError
		case StatusProcessing:
			running = true
		case StatusCompleted:
			completed++
		}
	}

	switch {
	case running:
		return SessionRunning
	case completed == len(s.stages):
		return SessionCompleted
	default:
		return SessionPending
	}
}

// TotalDuration is the time from the first stage's start to the end of the
// last attempted stage. It is only available once the session is terminal,
// and includes any gaps between stages.
func (s *Session) TotalDuration() (time.Duration, bool) {
	if !s.Status().IsTerminal() {
		return 0, false
	}

	first := s.stages[0].StartTime
	if first == nil {
		return 0, false
	}

	for i := len(s.stages) - 1; i >= 0; i-- {
		st := s.stages[i]
		if st.StartTime == nil {
			continue
		}
		if st.EndTime == nil {
			return 0, false
		}
		return st.EndTime.Sub(*first), true
	}

	return 0, false
}

// Citations builds the referenced-citation report from the generated
// response. It is only available once responseGeneration has completed
// with a payload.
func (s *Session) Citations() (citation.Report, bool) {
	st := s.stages[len(s.stages)-1]
	if st.Status != StatusCompleted {
		return citation.Report{}, false
	}
	switch gen := st.Data.(type) {
	case GenerationPayload:
		return citation.Build(gen.Response, gen.Citations), true
	case *GenerationPayload:
		if gen != nil {
			return citation.Build(gen.Response, gen.Citations), true
		}
	}
	return citation.Report{}, false
}

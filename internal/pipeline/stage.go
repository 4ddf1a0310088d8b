//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline tracks the execution of a RAG request as a session of
// four fixed stages, driven by stage-transition events from the external
// orchestrator.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// StageName identifies one of the four fixed pipeline stages.
type StageName string

// Pipeline stages, in execution order.
const (
	StageQueryEmbedding     StageName = "queryEmbedding"
	StageDocumentRetrieval  StageName = "documentRetrieval"
	StageContextAssembly    StageName = "contextAssembly"
	StageResponseGeneration StageName = "responseGeneration"
)

// StageNames lists every stage in pipeline order.
var StageNames = [...]StageName{
	StageQueryEmbedding,
	StageDocumentRetrieval,
	StageContextAssembly,
	StageResponseGeneration,
}

// stageIndex returns the position of name in the pipeline.
func stageIndex(name StageName) (int, bool) {
	for i, n := range StageNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// ParseStageName validates a stage name received from the orchestrator.
func ParseStageName(s string) (StageName, error) {
	name := StageName(s)
	if _, ok := stageIndex(name); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return name, nil
}

// StageStatus is the lifecycle state of a single stage.
type StageStatus string

// Stage statuses. Completed and error are terminal.
const (
	StatusPending    StageStatus = "pending"
	StatusProcessing StageStatus = "processing"
	StatusCompleted  StageStatus = "completed"
	StatusError      StageStatus = "error"
)

// IsTerminal reports whether the status can no longer change.
func (s StageStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Errors returned by stage transitions.
var (
	ErrUnknownStage      = errors.New("unknown stage")
	ErrInvalidStatus     = errors.New("invalid stage status")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrStageTerminal     = errors.New("stage already finished")
	ErrOutOfOrder        = errors.New("stage started before its predecessor completed")
	ErrSessionHalted     = errors.New("session halted by a failed stage")
	ErrPayloadMismatch   = errors.New("payload does not belong to stage")
	ErrInvalidPayload    = errors.New("invalid stage payload")
	ErrInvalidTimestamp  = errors.New("event timestamp must be positive")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	Stage StageName
	From  StageStatus
	To    StageStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Stage, e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Stage is the status, timing and payload of a single pipeline phase.
//
// StartTime is set once the stage leaves pending; EndTime is set exactly
// when it reaches a terminal status. A terminal stage never changes.
type Stage struct {
	Name      StageName
	Status    StageStatus
	StartTime *time.Time
	EndTime   *time.Time
	Data      Payload
	Error     string
}

// Duration returns EndTime - StartTime when both are set.
func (s Stage) Duration() (time.Duration, bool) {
	if s.StartTime == nil || s.EndTime == nil {
		return 0, false
	}
	return s.EndTime.Sub(*s.StartTime), true
}

func (s *Stage) start(at time.Time) {
	s.Status = StatusProcessing
	s.StartTime = &at
}

func (s *Stage) finish(status StageStatus, at time.Time) {
	// End never precedes start so durations stay non-negative.
	if s.StartTime != nil && at.Before(*s.StartTime) {
		at = *s.StartTime
	}
	s.Status = status
	s.EndTime = &at
}

//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// StepFunc performs the work of one stage and returns its payload.
type StepFunc func(ctx context.Context) (Payload, error)

// Steps holds the work for each of the four stages.
type Steps struct {
	QueryEmbedding     StepFunc
	DocumentRetrieval  StepFunc
	ContextAssembly    StepFunc
	ResponseGeneration StepFunc
}

func (s Steps) ordered() [len(StageNames)]StepFunc {
	return [len(StageNames)]StepFunc{
		s.QueryEmbedding,
		s.DocumentRetrieval,
		s.ContextAssembly,
		s.ResponseGeneration,
	}
}

// Sink consumes the events emitted by an Orchestrator. *Manager is a Sink.
type Sink interface {
	Apply(ctx context.Context, id string, ev Event) (Snapshot, error)
}

// Orchestrator runs the four stages in order for a session and reports
// each transition to a Sink.
type Orchestrator struct {
	sink   Sink
	now    func() time.Time
	logger *slog.Logger
}

// OrchestratorConfig contains the configuration for creating an orchestrator.
type OrchestratorConfig struct {
	Sink   Sink
	Now    func() time.Time
	Logger *slog.Logger
}

// NewOrchestrator creates a new pipeline orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		sink:   cfg.Sink,
		now:    now,
		logger: logger,
	}
}

// Execute runs the steps for a session. It stops at the first failing
// step, which is reported as an error event, and returns that step's
// error. A nil StepFunc completes its stage with no payload.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string, steps Steps) (Snapshot, error) {
	var snap Snapshot

	for i, run := range steps.ordered() {
		name := StageNames[i]

		o.logger.Debug("executing stage", "session", sessionID, "step", name)

		var err error
		snap, err = o.emit(ctx, sessionID, Event{StepName: string(name), Status: StatusProcessing})
		if err != nil {
			return snap, err
		}

		var payload Payload
		if run != nil {
			payload, err = run(ctx)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			snap, emitErr := o.emit(ctx, sessionID, Event{
				StepName: string(name),
				Status:   StatusError,
				Error:    err.Error(),
			})
			if emitErr != nil {
				o.logger.Warn("failed to report stage error",
					"session", sessionID,
					"step", name,
					"error", emitErr,
				)
			}
			return snap, fmt.Errorf("%s failed: %w", name, err)
		}

		ev := Event{StepName: string(name), Status: StatusCompleted}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return snap, fmt.Errorf("failed to encode %s payload: %w", name, err)
			}
			ev.Data = raw
		}
		snap, err = o.emit(ctx, sessionID, ev)
		if err != nil {
			return snap, err
		}
	}

	return snap, nil
}

func (o *Orchestrator) emit(ctx context.Context, sessionID string, ev Event) (Snapshot, error) {
	ev.Timestamp = o.now().UnixMilli()
	// The sink must see the transition even when the run was cancelled.
	snap, err := o.sink.Apply(context.WithoutCancel(ctx), sessionID, ev)
	if err != nil {
		return snap, fmt.Errorf("failed to record %s %s: %w", ev.StepName, ev.Status, err)
	}
	return snap, nil
}

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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pgEdge/pgedge-rag-tracker/internal/citation"
)

// Payload is the stage-specific result recorded when a stage completes.
// Each stage has exactly one payload type.
type Payload interface {
	StageName() StageName
}

// EmbeddingPayload is recorded by queryEmbedding.
type EmbeddingPayload struct {
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`
}

// StageName implements Payload.
func (EmbeddingPayload) StageName() StageName { return StageQueryEmbedding }

// RetrievedDocument is a single search hit from documentRetrieval.
type RetrievedDocument struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// RetrievalPayload is recorded by documentRetrieval.
type RetrievalPayload struct {
	Documents       []RetrievedDocument `json:"documents"`
	TotalCandidates int                 `json:"total_candidates,omitempty"`
}

// StageName implements Payload.
func (RetrievalPayload) StageName() StageName { return StageDocumentRetrieval }

// AssemblyPayload is recorded by contextAssembly.
type AssemblyPayload struct {
	DocumentCount int  `json:"document_count"`
	ContextTokens int  `json:"context_tokens"`
	Truncated     bool `json:"truncated,omitempty"`
}

// StageName implements Payload.
func (AssemblyPayload) StageName() StageName { return StageContextAssembly }

// GenerationPayload is recorded by responseGeneration. Response holds the
// generated text with its inline citation markers.
type GenerationPayload struct {
	Response   string              `json:"response"`
	Citations  []citation.Citation `json:"citations,omitempty"`
	Model      string              `json:"model,omitempty"`
	TokensUsed int                 `json:"tokens_used,omitempty"`
}

// StageName implements Payload.
func (GenerationPayload) StageName() StageName { return StageResponseGeneration }

// DecodePayload decodes a raw event payload into the payload type for the
// given stage. An empty or null payload decodes to nil.
func DecodePayload(name StageName, raw json.RawMessage) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var (
		payload Payload
		err     error
	)

	switch name {
	case StageQueryEmbedding:
		var p EmbeddingPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case StageDocumentRetrieval:
		var p RetrievalPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case StageContextAssembly:
		var p AssemblyPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case StageResponseGeneration:
		var p GenerationPayload
		if err = json.Unmarshal(raw, &p); err == nil {
			err = citation.Validate(p.Citations)
		}
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}

	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInvalidPayload, name, err)
	}

	return payload, nil
}

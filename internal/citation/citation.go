//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package citation extracts inline citation markers from generated text and
// resolves them against the source records supplied with a response.
package citation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies the kind of source a citation points at.
type Type string

// Citation source types.
const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeDocument Type = "document"
	TypeWeb      Type = "web"
)

// Valid reports whether t is one of the known citation types.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeDocument, TypeWeb:
		return true
	}
	return false
}

var (
	// ErrEmptyID is returned when a citation has no identifier.
	ErrEmptyID = errors.New("citation id is empty")

	// ErrDuplicateID is returned when two citations share an identifier.
	ErrDuplicateID = errors.New("duplicate citation id")

	// ErrInvalidType is returned for an unknown citation type.
	ErrInvalidType = errors.New("invalid citation type")
)

// Citation is a source record supplied alongside a generated response.
// Citations are read-only from the tracker's perspective.
type Citation struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content,omitempty"`
	URL       string    `json:"url,omitempty"`
	ImagePath string    `json:"image_path,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Metadata carries optional descriptive fields for a citation. Keys that
// are not modelled explicitly are preserved in Extra.
type Metadata struct {
	Author          string   `json:"author,omitempty"`
	Date            string   `json:"date,omitempty"`
	PageNumber      *int     `json:"page_number,omitempty"`
	SourceType      string   `json:"source_type,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	RelevanceScore  *float64 `json:"relevance_score,omitempty"`
	ExtractedText   string   `json:"extracted_text,omitempty"`

	Extra map[string]any `json:"-"`
}

// knownMetadataKeys are the JSON keys decoded into Metadata fields.
var knownMetadataKeys = []string{
	"author",
	"date",
	"page_number",
	"source_type",
	"confidence_score",
	"relevance_score",
	"extracted_text",
}

// metadataFields has the same fields as Metadata without its methods.
type metadataFields Metadata

// UnmarshalJSON decodes the known metadata keys and keeps the rest in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var fields metadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownMetadataKeys {
		delete(raw, k)
	}

	if len(raw) > 0 {
		fields.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("metadata key %q: %w", k, err)
			}
			fields.Extra[k] = val
		}
	}

	*m = Metadata(fields)
	return nil
}

// MarshalJSON encodes the metadata, merging Extra keys alongside the known
// fields. Known fields win on key collisions.
func (m Metadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(metadataFields(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(m.Extra)+len(knownMetadataKeys))
	for k, v := range m.Extra {
		merged[k] = v
	}

	var knownMap map[string]any
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}

	return json.Marshal(merged)
}

// SourceType returns the grouping key for a citation: the metadata source
// type when present, otherwise the citation type.
func (c Citation) SourceType() string {
	if c.Metadata != nil && c.Metadata.SourceType != "" {
		return c.Metadata.SourceType
	}
	return string(c.Type)
}

// Validate checks every citation in a collection for a non-empty, unique id
// and a known type.
func Validate(all []Citation) error {
	seen := make(map[string]bool, len(all))
	for i, c := range all {
		if c.ID == "" {
			return fmt.Errorf("citations[%d]: %w", i, ErrEmptyID)
		}
		if seen[c.ID] {
			return fmt.Errorf("citations[%d]: %w: %s", i, ErrDuplicateID, c.ID)
		}
		seen[c.ID] = true
		if !c.Type.Valid() {
			return fmt.Errorf("citations[%d]: %w: %q", i, ErrInvalidType, c.Type)
		}
	}
	return nil
}

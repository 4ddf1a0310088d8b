//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package citation

import "fmt"

// Resolve returns the citations from all whose id appears in extractedIDs.
// The result keeps the order of the citation collection, not the order in
// which ids were first cited in the text. Ids with no matching citation are
// dropped.
func Resolve(all []Citation, extractedIDs []string) []Citation {
	wanted := make(map[string]bool, len(extractedIDs))
	for _, id := range extractedIDs {
		wanted[id] = true
	}

	referenced := make([]Citation, 0, min(len(all), len(extractedIDs)))
	for _, c := range all {
		if wanted[c.ID] {
			referenced = append(referenced, c)
		}
	}

	return referenced
}

// Report is the referenced-citation view of a generated response.
type Report struct {
	// ExtractedIDs are the cited ids in order of first appearance.
	ExtractedIDs []string `json:"extracted_ids"`

	// Referenced are the cited citations in collection order.
	Referenced []Citation `json:"referenced"`

	// Missing are cited ids absent from the collection, in text order.
	Missing      []string `json:"missing,omitempty"`
	MissingCount int      `json:"missing_count"`
}

// Build extracts the citation markers from text and resolves them against
// all, recording any ids that could not be resolved.
func Build(text string, all []Citation) Report {
	ids := Extract(text)

	known := make(map[string]bool, len(all))
	for _, c := range all {
		known[c.ID] = true
	}

	var missing []string
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}

	return Report{
		ExtractedIDs: ids,
		Referenced:   Resolve(all, ids),
		Missing:      missing,
		MissingCount: len(missing),
	}
}

// Group is the set of referenced citations that share a source type.
type Group struct {
	SourceType string     `json:"source_type"`
	Citations  []Citation `json:"citations"`
}

// GroupBySource groups citations by source type. Groups appear in the
// order their first member appears in referenced, and each group keeps the
// order of referenced.
func GroupBySource(referenced []Citation) []Group {
	var groups []Group
	pos := make(map[string]int)

	for _, c := range referenced {
		key := c.SourceType()
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			groups = append(groups, Group{SourceType: key})
		}
		groups[i].Citations = append(groups[i].Citations, c)
	}

	return groups
}

// Index provides lookup by id over a validated citation collection.
type Index struct {
	citations []Citation
	byID      map[string]int
}

// NewIndex builds an index over all. It returns an error if any citation has
// an empty or duplicate id.
func NewIndex(all []Citation) (*Index, error) {
	idx := &Index{
		citations: all,
		byID:      make(map[string]int, len(all)),
	}

	for i, c := range all {
		if c.ID == "" {
			return nil, fmt.Errorf("citations[%d]: %w", i, ErrEmptyID)
		}
		if _, dup := idx.byID[c.ID]; dup {
			return nil, fmt.Errorf("citations[%d]: %w: %s", i, ErrDuplicateID, c.ID)
		}
		idx.byID[c.ID] = i
	}

	return idx, nil
}

// Lookup returns the citation with the given id.
func (idx *Index) Lookup(id string) (Citation, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return Citation{}, false
	}
	return idx.citations[i], true
}


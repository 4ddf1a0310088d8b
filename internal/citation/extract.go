//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package citation

import "regexp"

// markerPattern matches an inline citation marker such as [citation:12].
// RE2's \d is ASCII-only, so non-ASCII digits never form a marker.
var markerPattern = regexp.MustCompile(`\[citation:(\d+)\]`)

// Extract scans text left to right for citation markers and returns the
// referenced identifiers in order of first appearance. Repeated ids are
// ignored, as are markers whose brackets hold anything but digits.
// The result is never nil.
func Extract(text string) []string {
	ids := make([]string, 0)
	if text == "" {
		return ids
	}

	seen := make(map[string]bool)
	for _, match := range markerPattern.FindAllStringSubmatch(text, -1) {
		id := match[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	return ids
}

// Segment is one piece of response text: either a plain run of text or a
// single citation marker.
type Segment struct {
	Text       string `json:"text"`
	CitationID string `json:"citation_id,omitempty"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// IsMarker reports whether the segment is a citation marker.
func (s Segment) IsMarker() bool {
	return s.CitationID != ""
}

// Segments splits text into plain-text runs and citation markers, in
// order. Start and End are byte offsets into text; concatenating every
// segment's Text reproduces the input.
func Segments(text string) []Segment {
	segments := make([]Segment, 0)
	pos := 0

	for _, loc := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > pos {
			segments = append(segments, Segment{
				Text:  text[pos:loc[0]],
				Start: pos,
				End:   loc[0],
			})
		}
		segments = append(segments, Segment{
			Text:       text[loc[0]:loc[1]],
			CitationID: text[loc[2]:loc[3]],
			Start:      loc[0],
			End:        loc[1],
		})
		pos = loc[1]
	}

	if pos < len(text) {
		segments = append(segments, Segment{
			Text:  text[pos:],
			Start: pos,
			End:   len(text),
		})
	}

	return segments
}

//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"github.com/pgEdge/pgedge-rag-tracker/internal/citation"
	"github.com/pgEdge/pgedge-rag-tracker/internal/crossref"
	"github.com/pgEdge/pgedge-rag-tracker/internal/pipeline"
)

// sharedAnchor stands in for a rendered element. The server has nothing to
// scroll; clients follow the highlighted id reported in snapshots.
type sharedAnchor struct{}

func (sharedAnchor) ScrollIntoView() error { return nil }

// linkerFor returns the linker for a session once its citations are known,
// creating and populating it on first use.
func (s *Server) linkerFor(snap pipeline.Snapshot) (*crossref.Linker, bool) {
	if snap.Citations == nil {
		return nil, false
	}

	s.linkersMu.Lock()
	defer s.linkersMu.Unlock()

	if l, ok := s.linkers[snap.ID]; ok {
		return l, true
	}

	sessionID := snap.ID
	l := crossref.NewLinker(crossref.Config{
		HighlightDuration: s.prefs.Preferences().HighlightDuration,
		Scheduler:         s.scheduler,
		Logger:            s.logger,
		OnChange: func(id string, highlighted bool) {
			s.logger.Debug("citation highlight changed",
				"session", sessionID,
				"citation", id,
				"highlighted", highlighted)
		},
	})

	for _, c := range snap.Citations.Referenced {
		l.Register(c.ID, sharedAnchor{})
	}
	if text, ok := responseText(snap); ok {
		for _, seg := range citation.Segments(text) {
			if seg.IsMarker() {
				l.RegisterMarker(seg.CitationID, sharedAnchor{})
			}
		}
	}

	s.linkers[sessionID] = l
	return l, true
}

// withHighlight adds the shared highlight state to a snapshot.
func (s *Server) withHighlight(snap pipeline.Snapshot) pipeline.Snapshot {
	s.linkersMu.Lock()
	l, ok := s.linkers[snap.ID]
	s.linkersMu.Unlock()

	if !ok {
		return snap
	}
	return snap.WithHighlight(l)
}

// dropLinker releases the linker for a session.
func (s *Server) dropLinker(id string) {
	s.linkersMu.Lock()
	l, ok := s.linkers[id]
	delete(s.linkers, id)
	s.linkersMu.Unlock()

	if ok {
		l.Close()
	}
}

// responseText returns the generated response of a snapshot.
func responseText(snap pipeline.Snapshot) (string, bool) {
	for _, st := range snap.Steps {
		if st.Name != pipeline.StageResponseGeneration {
			continue
		}
		switch gen := st.Data.(type) {
		case pipeline.GenerationPayload:
			return gen.Response, true
		case *pipeline.GenerationPayload:
			if gen != nil {
				return gen.Response, true
			}
		}
	}
	return "", false
}

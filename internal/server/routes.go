//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// API v1 routes
	s.mux.HandleFunc("GET /v1/openapi.json", s.handleOpenAPI)
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)

	s.mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/events", s.handleEvent)
	s.mux.HandleFunc("POST /v1/sessions/{id}/run", s.handleRun)
	s.mux.HandleFunc("GET /v1/sessions/{id}/export", s.handleExport)

	s.mux.HandleFunc("GET /v1/sessions/{id}/citations", s.handleCitations)
	s.mux.HandleFunc("GET /v1/sessions/{id}/citations/{citation}/text", s.handleCitationText)
	s.mux.HandleFunc("POST /v1/sessions/{id}/citations/{citation}/highlight", s.handleHighlight)

	s.mux.HandleFunc("GET /v1/preferences", s.handleGetPreferences)
	s.mux.HandleFunc("PUT /v1/preferences", s.handlePutPreferences)
}

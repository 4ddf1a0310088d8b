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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pgEdge/pgedge-rag-tracker/internal/citation"
	"github.com/pgEdge/pgedge-rag-tracker/internal/crossref"
	"github.com/pgEdge/pgedge-rag-tracker/internal/pipeline"
	"github.com/pgEdge/pgedge-rag-tracker/internal/settings"
)

// maxBodyBytes limits request bodies. Generation payloads carry the full
// response text and its citations.
const maxBodyBytes = 4 << 20

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// SessionsResponse is the response for the list sessions endpoint.
type SessionsResponse struct {
	Sessions []pipeline.Info `json:"sessions"`
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	Query string `json:"query"`
}

// RunRequest is the request body for recording a whole pipeline run. Steps
// holds the payload of each stage keyed by stage name; stages without an
// entry complete with no payload. If Failure is set, the run stops at that
// stage with the given error.
type RunRequest struct {
	Steps   map[string]json.RawMessage `json:"steps,omitempty"`
	Failure *RunFailure                `json:"failure,omitempty"`
}

// RunFailure names the stage at which a recorded run failed.
type RunFailure struct {
	StepName string `json:"stepName"`
	Error    string `json:"error"`
}

// stageFailure is the error a failing stage of a recorded run reports.
type stageFailure struct {
	message string
}

func (e stageFailure) Error() string { return e.message }

// CitationsResponse is the response for the citations endpoint.
type CitationsResponse struct {
	citation.Report
	Groups []citation.Group `json:"groups,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth handles the GET /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleListSessions handles the GET /sessions endpoint. With
// archived=true the archived sessions are listed instead of the live ones.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	archived := false
	if raw := query.Get("archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
				"archived must be true or false")
			return
		}
		archived = v
	}

	if !archived {
		s.respondJSON(w, http.StatusOK, SessionsResponse{Sessions: s.sessions.List()})
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
				"limit must be a positive integer")
			return
		}
		limit = n
	}

	infos, err := s.sessions.ListArchived(r.Context(), limit)
	switch {
	case errors.Is(err, pipeline.ErrNoArchive):
		s.respondError(w, http.StatusNotFound, "ARCHIVE_NOT_CONFIGURED", err.Error())
		return
	case err != nil:
		s.logger.Error("failed to list archived sessions", "error", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if infos == nil {
		infos = []pipeline.Info{}
	}
	s.respondJSON(w, http.StatusOK, SessionsResponse{Sessions: infos})
}

// handleCreateSession handles the POST /sessions endpoint.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"invalid request body: "+err.Error())
		return
	}

	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "query is required")
		return
	}

	snap := s.sessions.Create(req.Query)
	w.Header().Set("Location", "/v1/sessions/"+snap.ID)
	s.respondJSON(w, http.StatusCreated, snap)
}

// handleGetSession handles the GET /sessions/{id} endpoint.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, s.withHighlight(snap))
}

// handleDeleteSession handles the DELETE /sessions/{id} endpoint.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.sessions.Remove(id); err != nil {
		s.respondSessionError(w, id, err)
		return
	}
	s.dropLinker(id)

	w.WriteHeader(http.StatusNoContent)
}

// handleEvent handles the POST /sessions/{id}/events endpoint.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var ev pipeline.Event
	if err := s.decodeBody(w, r, &ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"invalid request body: "+err.Error())
		return
	}

	snap, err := s.sessions.Apply(r.Context(), id, ev)
	if err != nil {
		s.respondSessionError(w, id, err)
		return
	}

	s.respondJSON(w, http.StatusOK, s.withHighlight(snap))
}

// handleRun handles the POST /sessions/{id}/run endpoint. The stages are
// recorded in order as if their events had been posted one by one, stamped
// with the server's clock.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req RunRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"invalid request body: "+err.Error())
		return
	}

	payloads := make(map[pipeline.StageName]pipeline.Payload, len(req.Steps))
	for key, raw := range req.Steps {
		name, err := pipeline.ParseStageName(key)
		if err != nil {
			s.respondSessionError(w, id, err)
			return
		}
		payload, err := pipeline.DecodePayload(name, raw)
		if err != nil {
			s.respondSessionError(w, id, err)
			return
		}
		payloads[name] = payload
	}

	var failAt pipeline.StageName
	if req.Failure != nil {
		name, err := pipeline.ParseStageName(req.Failure.StepName)
		if err != nil {
			s.respondSessionError(w, id, err)
			return
		}
		failAt = name
	}

	step := func(name pipeline.StageName) pipeline.StepFunc {
		return func(ctx context.Context) (pipeline.Payload, error) {
			if name == failAt {
				return nil, stageFailure{message: req.Failure.Error}
			}
			return payloads[name], nil
		}
	}

	snap, err := s.runner.Execute(r.Context(), id, pipeline.Steps{
		QueryEmbedding:     step(pipeline.StageQueryEmbedding),
		DocumentRetrieval:  step(pipeline.StageDocumentRetrieval),
		ContextAssembly:    step(pipeline.StageContextAssembly),
		ResponseGeneration: step(pipeline.StageResponseGeneration),
	})
	var failure stageFailure
	if err != nil && !errors.As(err, &failure) {
		s.respondSessionError(w, id, err)
		return
	}

	s.respondJSON(w, http.StatusOK, s.withHighlight(snap))
}

// handleExport handles the GET /sessions/{id}/export endpoint. The
// snapshot is sent as a file download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="rag-session-%s.json"`, snap.ID))
	s.respondJSON(w, http.StatusOK, snap)
}

// handleCitations handles the GET /sessions/{id}/citations endpoint.
// Grouping follows the group_citations preference unless the group query
// parameter says otherwise.
func (s *Server) handleCitations(w http.ResponseWriter, r *http.Request) {
	group := s.prefs.Preferences().GroupCitations
	if raw := r.URL.Query().Get("group"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
				"group must be true or false")
			return
		}
		group = v
	}

	snap, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if snap.Citations == nil {
		s.respondError(w, http.StatusConflict, "CITATIONS_UNAVAILABLE",
			"response has not been generated")
		return
	}

	resp := CitationsResponse{Report: *snap.Citations}
	if group {
		resp.Groups = citation.GroupBySource(snap.Citations.Referenced)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleCitationText handles the GET /sessions/{id}/citations/{citation}/text
// endpoint, returning the plain-text form used for copying.
func (s *Server) handleCitationText(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	idx, err := citation.NewIndex(generatedCitations(snap))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	citationID := r.PathValue("citation")
	c, found := idx.Lookup(citationID)
	if !found {
		s.respondError(w, http.StatusNotFound, "CITATION_NOT_FOUND",
			"citation not found: "+citationID)
		return
	}

	if err := citation.Copy(r.Context(), responseClipboard{w: w}, c); err != nil {
		s.logger.Warn("failed to copy citation",
			"session", snap.ID,
			"citation", c.ID,
			"error", err)
	}
}

// responseClipboard copies text into the HTTP response body, where the
// client picks it up.
type responseClipboard struct {
	w http.ResponseWriter
}

func (c responseClipboard) WriteText(ctx context.Context, text string) error {
	c.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.w.WriteHeader(http.StatusOK)
	_, err := io.WriteString(c.w, text)
	return err
}

// handleHighlight handles the POST /sessions/{id}/citations/{citation}/highlight
// endpoint. With a marker query parameter the numbered occurrence in the
// response text is targeted instead of the source.
func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	l, ok := s.linkerFor(snap)
	if !ok {
		s.respondError(w, http.StatusConflict, "CITATIONS_UNAVAILABLE",
			"response has not been generated")
		return
	}

	citationID := r.PathValue("citation")
	var err error
	if raw := r.URL.Query().Get("marker"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
				"marker must be an integer")
			return
		}
		err = l.ScrollToMarker(citationID, n)
	} else {
		err = l.ScrollTo(citationID)
	}

	switch {
	case errors.Is(err, crossref.ErrAnchorNotFound):
		s.respondError(w, http.StatusNotFound, "CITATION_NOT_FOUND", err.Error())
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, snap.WithHighlight(l))
}

// handleGetPreferences handles the GET /preferences endpoint.
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.prefs.Preferences())
}

// handlePutPreferences handles the PUT /preferences endpoint. Omitted
// fields keep their current value.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	prefs := s.prefs.Preferences()
	if err := s.decodeBody(w, r, &prefs); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"invalid request body: "+err.Error())
		return
	}

	if err := s.prefs.Update(prefs); err != nil {
		if errors.Is(err, settings.ErrInvalidPreference) {
			s.respondError(w, http.StatusBadRequest, "INVALID_PREFERENCE", err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, s.prefs.Preferences())
}

// loadSession fetches the session named in the path, responding with an
// error if it cannot be found.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (pipeline.Snapshot, bool) {
	id := r.PathValue("id")

	snap, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.respondSessionError(w, id, err)
		return pipeline.Snapshot{}, false
	}
	return snap, true
}

// respondSessionError maps session errors to HTTP responses.
func (s *Server) respondSessionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound):
		s.dropLinker(id)
		s.respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND",
			"session not found: "+id)
	case errors.Is(err, pipeline.ErrInvalidTransition),
		errors.Is(err, pipeline.ErrOutOfOrder),
		errors.Is(err, pipeline.ErrSessionHalted),
		errors.Is(err, pipeline.ErrPayloadMismatch):
		s.respondError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, pipeline.ErrUnknownStage),
		errors.Is(err, pipeline.ErrInvalidStatus),
		errors.Is(err, pipeline.ErrInvalidPayload):
		s.respondError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
	default:
		s.logger.Error("session request failed", "session", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// generatedCitations returns the full citation collection of the
// generated response.
func generatedCitations(snap pipeline.Snapshot) []citation.Citation {
	for _, st := range snap.Steps {
		switch gen := st.Data.(type) {
		case pipeline.GenerationPayload:
			return gen.Citations
		case *pipeline.GenerationPayload:
			if gen != nil {
				return gen.Citations
			}
		}
	}
	return nil
}

// decodeBody decodes a size-limited JSON request body.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// respondJSON sends a JSON response with RFC 8631 Link header for API discovery.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	// RFC 8631: Link header for API documentation discovery
	w.Header().Set("Link", `</v1/openapi.json>; rel="service-desc"`)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// respondError sends an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

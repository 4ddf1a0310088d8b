//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pgEdge/pgedge-rag-tracker/internal/config"
	"github.com/pgEdge/pgedge-rag-tracker/internal/crossref"
	"github.com/pgEdge/pgedge-rag-tracker/internal/pipeline"
	"github.com/pgEdge/pgedge-rag-tracker/internal/settings"
)

// heldTask never fires, so highlights stay active for the test.
type heldTask struct{}

func (heldTask) Stop() bool { return true }

type heldScheduler struct{}

func (heldScheduler) AfterFunc(d time.Duration, f func()) crossref.Task { return heldTask{} }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1"
	return cfg
}

func testServer() *Server {
	return testServerWith(pipeline.ManagerConfig{})
}

func testServerWith(mcfg pipeline.ManagerConfig) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mcfg.Logger = logger
	sm := pipeline.NewManager(mcfg)
	srv := New(testConfig(), sm, nil, logger)
	srv.scheduler = heldScheduler{}
	return srv
}

// memArchive is an in-memory pipeline.Archive.
type memArchive struct {
	mu    sync.Mutex
	snaps map[string]pipeline.Snapshot
}

func newMemArchive() *memArchive {
	return &memArchive{snaps: make(map[string]pipeline.Snapshot)}
}

func (a *memArchive) SaveSession(ctx context.Context, snap pipeline.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps[snap.ID] = snap
	return nil
}

func (a *memArchive) GetSession(ctx context.Context, id string) (*pipeline.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.snaps[id]
	if !ok {
		return nil, pipeline.ErrSessionNotFound
	}
	return &snap, nil
}

func (a *memArchive) ListSessions(ctx context.Context, limit int) ([]pipeline.Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var infos []pipeline.Info
	for _, snap := range a.snaps {
		infos = append(infos, pipeline.Info{ID: snap.ID, Query: snap.Query, Status: snap.Status, Timestamp: snap.Timestamp})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.After(infos[j].Timestamp) })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// createSession creates a session through the API and returns its id.
func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions", `{"query":"what is MVCC?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	return decode[pipeline.Snapshot](t, w).ID
}

const generationData = `{
	"response": "Rows keep versions [citation:1] and vacuum cleans them [citation:2]. See also [citation:1].",
	"citations": [
		{"id": "1", "type": "document", "title": "Concurrency Control", "metadata": {"author": "PostgreSQL", "page_number": 12}},
		{"id": "2", "type": "web", "title": "Routine Vacuuming", "url": "https://example.com/vacuum"},
		{"id": "3", "type": "document", "title": "Unused"}
	]
}`

// completeSession posts events for every stage.
func completeSession(t *testing.T, srv *Server, id string) pipeline.Snapshot {
	t.Helper()
	var snap pipeline.Snapshot
	ts := 1000
	for _, name := range pipeline.StageNames {
		for _, status := range []string{"processing", "completed"} {
			data := ""
			if status == "completed" && name == pipeline.StageResponseGeneration {
				data = `,"data":` + generationData
			}
			body := `{"stepName":"` + string(name) + `","status":"` + status + `","timestamp":` +
				itoa(ts) + data + `}`
			w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/events", body)
			if w.Code != http.StatusOK {
				t.Fatalf("event %s %s: expected 200, got %d: %s", name, status, w.Code, w.Body.String())
			}
			snap = decode[pipeline.Snapshot](t, w)
			ts += 25
		}
	}
	return snap
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer()

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	resp := decode[HealthResponse](t, w)
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", resp.Status)
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	srv := testServer()

	w := doRequest(t, srv.mux, http.MethodPost, "/v1/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestCreateSession(t *testing.T) {
	srv := testServer()

	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions", `{"query":"hello"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
	snap := decode[pipeline.Snapshot](t, w)
	if snap.ID == "" || snap.Status != pipeline.SessionPending || len(snap.Steps) != 4 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if loc := w.Header().Get("Location"); loc != "/v1/sessions/"+snap.ID {
		t.Errorf("unexpected Location %q", loc)
	}
}

func TestCreateSession_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing query", `{}`},
		{"empty query", `{"query":""}`},
	}

	srv := testServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			resp := decode[ErrorResponse](t, w)
			if resp.Error.Code != "INVALID_REQUEST" {
				t.Errorf("expected INVALID_REQUEST, got %s", resp.Error.Code)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	srv := testServer()
	createSession(t, srv)
	createSession(t, srv)

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[SessionsResponse](t, w)
	if len(resp.Sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(resp.Sessions))
	}
}

func TestListSessions_Archived(t *testing.T) {
	srv := testServerWith(pipeline.ManagerConfig{Archive: newMemArchive()})
	finished := createSession(t, srv)
	completeSession(t, srv, finished)
	createSession(t, srv)

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions?archived=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	resp := decode[SessionsResponse](t, w)
	if len(resp.Sessions) != 1 || resp.Sessions[0].ID != finished {
		t.Errorf("expected only the finished session, got %+v", resp.Sessions)
	}
	if resp.Sessions[0].Status != pipeline.SessionCompleted {
		t.Errorf("expected completed, got %s", resp.Sessions[0].Status)
	}

	tests := []struct {
		name  string
		query string
	}{
		{"bad archived flag", "?archived=maybe"},
		{"zero limit", "?archived=true&limit=0"},
		{"bad limit", "?archived=true&limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions"+tt.query, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestListSessions_ArchivedWithoutArchive(t *testing.T) {
	srv := testServer()

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions?archived=true", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Error.Code != "ARCHIVE_NOT_CONFIGURED" {
		t.Errorf("expected ARCHIVE_NOT_CONFIGURED, got %s", resp.Error.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	srv := testServer()

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Error.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected SESSION_NOT_FOUND, got %s", resp.Error.Code)
	}
}

func TestEvents_FullRun(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	snap := completeSession(t, srv, id)
	if snap.Status != pipeline.SessionCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.TotalDurationMs == nil || *snap.TotalDurationMs != 175 {
		t.Errorf("expected total duration 175ms, got %v", snap.TotalDurationMs)
	}
	if snap.Citations == nil || len(snap.Citations.Referenced) != 2 {
		t.Fatalf("expected two referenced citations, got %+v", snap.Citations)
	}

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	got := decode[pipeline.Snapshot](t, w)
	if _, ok := got.Steps[3].Data.(pipeline.GenerationPayload); !ok {
		t.Errorf("expected generation payload, got %#v", got.Steps[3].Data)
	}
}

func TestEvents_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "out of order",
			body:       `{"stepName":"contextAssembly","status":"processing","timestamp":1}`,
			wantStatus: http.StatusConflict,
			wantCode:   "INVALID_TRANSITION",
		},
		{
			name:       "unknown step",
			body:       `{"stepName":"reranking","status":"processing","timestamp":1}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_EVENT",
		},
		{
			name:       "unknown status",
			body:       `{"stepName":"queryEmbedding","status":"paused","timestamp":1}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_EVENT",
		},
		{
			name:       "missing timestamp",
			body:       `{"stepName":"queryEmbedding","status":"processing"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_EVENT",
		},
		{
			name:       "malformed body",
			body:       `[`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
	}

	srv := testServer()
	id := createSession(t, srv)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/events", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := decode[ErrorResponse](t, w); resp.Error.Code != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, resp.Error.Code)
			}
		})
	}

	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/missing/events",
		`{"stepName":"queryEmbedding","status":"processing","timestamp":1}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestEvents_InvalidPayload(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/events",
		`{"stepName":"queryEmbedding","status":"processing","timestamp":1}`)
	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/events",
		`{"stepName":"queryEmbedding","status":"completed","timestamp":2,"data":{"dimensions":"x"}}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestRun(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	body := `{"steps":{"queryEmbedding":{"model":"nomic-embed-text","dimensions":768},` +
		`"responseGeneration":` + generationData + `}}`
	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/run", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	snap := decode[pipeline.Snapshot](t, w)
	if snap.Status != pipeline.SessionCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if emb, ok := snap.Steps[0].Data.(pipeline.EmbeddingPayload); !ok || emb.Dimensions != 768 {
		t.Errorf("unexpected embedding payload %#v", snap.Steps[0].Data)
	}
	if snap.Steps[1].Data != nil {
		t.Errorf("stage without payload should have none, got %#v", snap.Steps[1].Data)
	}
	if snap.Citations == nil || len(snap.Citations.Referenced) != 2 {
		t.Errorf("expected two referenced citations, got %+v", snap.Citations)
	}
}

func TestRun_Failure(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/run",
		`{"failure":{"stepName":"documentRetrieval","error":"no documents matched"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	snap := decode[pipeline.Snapshot](t, w)
	if snap.Status != pipeline.SessionError {
		t.Errorf("expected error session, got %s", snap.Status)
	}
	if snap.Steps[1].Error != "no documents matched" {
		t.Errorf("unexpected stage error %q", snap.Steps[1].Error)
	}
	if snap.Steps[2].Status != pipeline.StatusPending {
		t.Errorf("stage after failure should stay pending, got %s", snap.Steps[2].Status)
	}

	// The session is halted, so a second run is a conflict.
	w = doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/run", `{}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestRun_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		session    bool
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown stage",
			session:    true,
			body:       `{"steps":{"reranking":{}}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_EVENT",
		},
		{
			name:       "invalid payload",
			session:    true,
			body:       `{"steps":{"queryEmbedding":{"dimensions":"x"}}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_EVENT",
		},
		{
			name:       "unknown failure stage",
			session:    true,
			body:       `{"failure":{"stepName":"reranking"}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_EVENT",
		},
		{
			name:       "malformed body",
			session:    true,
			body:       `[`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown session",
			body:       `{}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "SESSION_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer()
			id := "missing"
			if tt.session {
				id = createSession(t, srv)
			}

			w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/run", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if resp := decode[ErrorResponse](t, w); resp.Error.Code != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, resp.Error.Code)
			}

			if tt.session {
				w = doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id, "")
				if snap := decode[pipeline.Snapshot](t, w); snap.Status != pipeline.SessionPending {
					t.Errorf("rejected run changed the session to %s", snap.Status)
				}
			}
		})
	}
}

func TestCitations(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/citations", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d before generation, got %d", http.StatusConflict, w.Code)
	}

	completeSession(t, srv, id)

	w = doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/citations", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[CitationsResponse](t, w)
	if len(resp.Referenced) != 2 || resp.Referenced[0].ID != "1" || resp.Referenced[1].ID != "2" {
		t.Errorf("unexpected referenced citations %+v", resp.Referenced)
	}
	if resp.MissingCount != 0 {
		t.Errorf("expected no missing citations, got %d", resp.MissingCount)
	}
	if len(resp.Groups) != 0 {
		t.Error("citations should not be grouped by default")
	}

	w = doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/citations?group=true", "")
	resp = decode[CitationsResponse](t, w)
	if len(resp.Groups) != 2 || resp.Groups[0].SourceType != "document" {
		t.Errorf("unexpected groups %+v", resp.Groups)
	}

	w = doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/citations?group=maybe", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCitationText(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)
	completeSession(t, srv, id)

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/citations/1/text", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %s", ct)
	}
	want := "PostgreSQL\nConcurrency Control\nPage 12"
	if got := w.Body.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	w = doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/citations/42/text", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHighlight(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/citations/1/highlight", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d before generation, got %d", http.StatusConflict, w.Code)
	}

	completeSession(t, srv, id)

	w = doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/citations/2/highlight", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if snap := decode[pipeline.Snapshot](t, w); snap.Highlighted != "2" {
		t.Errorf("expected highlighted 2, got %q", snap.Highlighted)
	}

	w = doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id, "")
	if snap := decode[pipeline.Snapshot](t, w); snap.Highlighted != "2" {
		t.Errorf("highlight should be shared with other viewers, got %q", snap.Highlighted)
	}

	w = doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+"/citations/1/highlight?marker=1", "")
	if snap := decode[pipeline.Snapshot](t, w); snap.Highlighted != "1" {
		t.Errorf("expected highlight moved to 1, got %q", snap.Highlighted)
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"unreferenced citation", "/citations/3/highlight", http.StatusNotFound},
		{"marker out of range", "/citations/1/highlight?marker=2", http.StatusNotFound},
		{"bad marker", "/citations/1/highlight?marker=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+id+tt.path, "")
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestEvictionDropsLinker(t *testing.T) {
	srv := testServerWith(pipeline.ManagerConfig{MaxSessions: 1})
	first := createSession(t, srv)
	completeSession(t, srv, first)

	w := doRequest(t, srv.mux, http.MethodPost, "/v1/sessions/"+first+"/citations/1/highlight", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	createSession(t, srv)

	srv.linkersMu.Lock()
	_, ok := srv.linkers[first]
	srv.linkersMu.Unlock()
	if ok {
		t.Error("linker of an evicted session should be released")
	}
}

func TestExport(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	want := `attachment; filename="rag-session-` + id + `.json"`
	if cd := w.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("expected %q, got %q", want, cd)
	}
	if snap := decode[pipeline.Snapshot](t, w); snap.ID != id {
		t.Errorf("expected session %s, got %s", id, snap.ID)
	}
}

func TestDeleteSession(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)

	w := doRequest(t, srv.mux, http.MethodDelete, "/v1/sessions/"+id, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	w = doRequest(t, srv.mux, http.MethodDelete, "/v1/sessions/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestPreferences(t *testing.T) {
	srv := testServer()

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/preferences", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var prefs map[string]any
	if err := json.NewDecoder(w.Body).Decode(&prefs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if prefs["highlight_duration"] != "2s" || prefs["group_citations"] != false {
		t.Errorf("unexpected default preferences %v", prefs)
	}

	w = doRequest(t, srv.mux, http.MethodPut, "/v1/preferences", `{"group_citations":true,"highlight_duration":"3s"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	p := srv.prefs.Preferences()
	if !p.GroupCitations || p.HighlightDuration != 3*time.Second || !p.AutoScrollCitations {
		t.Errorf("unexpected preferences after update %+v", p)
	}

	tests := []struct {
		name string
		body string
	}{
		{"bad duration", `{"highlight_duration":"soon"}`},
		{"zero duration", `{"highlight_duration":"0s"}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv.mux, http.MethodPut, "/v1/preferences", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
	if srv.prefs.Preferences().HighlightDuration != 3*time.Second {
		t.Error("rejected update changed preferences")
	}
}

func TestPreferences_GroupCitationsDefault(t *testing.T) {
	srv := testServer()
	id := createSession(t, srv)
	completeSession(t, srv, id)

	doRequest(t, srv.mux, http.MethodPut, "/v1/preferences", `{"group_citations":true}`)

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/sessions/"+id+"/citations", "")
	if resp := decode[CitationsResponse](t, w); len(resp.Groups) == 0 {
		t.Error("expected grouping from preference")
	}
}

func TestNew_InvalidPreferencesUseDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Preferences.HighlightDuration = 0

	srv := New(cfg, pipeline.NewManager(pipeline.ManagerConfig{}), nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	if got := srv.prefs.Preferences(); got != settings.Defaults() {
		t.Errorf("expected default preferences, got %+v", got)
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	srv := testServer()

	w := doRequest(t, srv.mux, http.MethodGet, "/v1/openapi.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	spec := decode[OpenAPISpec](t, w)
	if spec.OpenAPI != "3.0.3" {
		t.Errorf("expected OpenAPI 3.0.3, got %s", spec.OpenAPI)
	}
	for _, path := range []string{"/health", "/sessions", "/sessions/{id}/events", "/sessions/{id}/run", "/preferences"} {
		if _, ok := spec.Paths[path]; !ok {
			t.Errorf("expected path %s in spec", path)
		}
	}
}

func TestOpenAPISpec_RefsResolve(t *testing.T) {
	spec := BuildOpenAPISpec()

	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("failed to marshal spec: %v", err)
	}

	const prefix = `"$ref":"#/components/schemas/`
	for _, chunk := range bytes.Split(data, []byte(prefix))[1:] {
		name := string(chunk[:bytes.IndexByte(chunk, '"')])
		if _, ok := spec.Components.Schemas[name]; !ok {
			t.Errorf("unresolved schema reference %s", name)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := testServer()
	h := srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/v1/health", "")
	if id := w.Header().Get(RequestIDHeader); len(id) != 36 {
		t.Errorf("expected generated uuid request id, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if id := rec.Header().Get(RequestIDHeader); id != "client-id-1" {
		t.Errorf("expected client request id to be kept, got %q", id)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	srv := New(testConfig(), pipeline.NewManager(pipeline.ManagerConfig{Logger: logger}), nil, logger)

	w := doRequest(t, srv.Handler(), http.MethodGet, "/v1/sessions/abc/citations/7/text", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	line := buf.String()
	for _, want := range []string{
		"level=WARN",
		`route="GET /v1/sessions/{id}/citations/{citation}/text"`,
		"session=abc",
		"citation=7",
		"status=404",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %s in log line %q", want, line)
		}
	}

	buf.Reset()
	doRequest(t, srv.Handler(), http.MethodGet, "/v1/health", "")
	if line := buf.String(); !strings.Contains(line, "level=INFO") || strings.Contains(line, "session=") {
		t.Errorf("unexpected health log line %q", line)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer()
	h := srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := doRequest(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		expectedOrigin string
	}{
		{"wildcard", []string{"*"}, "https://example.com", "*"},
		{"exact match", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com"},
		{"not allowed", []string{"https://app.example.com"}, "https://evil.example.com", ""},
		{"no origin", []string{"*"}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.CORS = config.CORSConfig{Enabled: true, AllowedOrigins: tt.allowedOrigins}
			srv := New(cfg, pipeline.NewManager(pipeline.ManagerConfig{}), nil,
				slog.New(slog.NewTextHandler(io.Discard, nil)))

			req := httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("expected preflight status %d, got %d", http.StatusNoContent, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.expectedOrigin {
				t.Errorf("expected origin %q, got %q", tt.expectedOrigin, got)
			}
		})
	}
}

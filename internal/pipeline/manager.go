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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when a requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoArchive is returned by archive queries on a manager without one.
	ErrNoArchive = errors.New("session archive not configured")
)

// DefaultMaxSessions is the number of sessions kept in memory when the
// configuration does not say otherwise.
const DefaultMaxSessions = 1000

// Manager owns the live sessions and is the single consumer of
// orchestrator events. Events for one session are applied one at a time.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	archive     Archive
	maxSessions int
	now         func() time.Time
	logger      *slog.Logger

	hookMu  sync.Mutex
	onEvict []func(id string)
}

type entry struct {
	mu      sync.Mutex
	session *Session
}

// ManagerConfig contains configuration for creating a Manager.
type ManagerConfig struct {
	// MaxSessions caps the live sessions; the oldest finished sessions are
	// evicted first. Defaults to DefaultMaxSessions.
	MaxSessions int

	// Archive, if set, receives each session's snapshot when it finishes.
	Archive Archive

	Now    func() time.Time
	Logger *slog.Logger
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &Manager{
		sessions:    make(map[string]*entry),
		archive:     cfg.Archive,
		maxSessions: maxSessions,
		now:         now,
		logger:      logger,
	}
}

// Create starts tracking a new session for a submitted query.
func (m *Manager) Create(query string) Snapshot {
	s := NewSession(uuid.New().String(), query, m.now())

	m.mu.Lock()
	m.sessions[s.ID()] = &entry{session: s}
	m.mu.Unlock()

	m.logger.Debug("session created", "session", s.ID())
	m.evict()

	return s.Snapshot()
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	return e, ok
}

// Apply consumes one orchestrator event for a session. Duplicate events for
// a finished stage are accepted as no-ops. Rejected events are logged and
// leave the session unchanged.
func (m *Manager) Apply(ctx context.Context, id string, ev Event) (Snapshot, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}

	snap, finished, err := m.applyLocked(e, ev)
	if err != nil {
		return snap, err
	}

	if finished {
		total := int64(0)
		if snap.TotalDurationMs != nil {
			total = *snap.TotalDurationMs
		}
		m.logger.Info("session finished",
			"session", id,
			"status", snap.Status,
			"total_duration_ms", total,
		)
		m.save(ctx, snap)
		m.evict()
	}

	return snap, nil
}

func (m *Manager) applyLocked(e *entry, ev Event) (Snapshot, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	wasTerminal := s.Status().IsTerminal()

	err := s.Apply(ev)
	switch {
	case errors.Is(err, ErrStageTerminal):
		m.logger.Debug("duplicate event ignored",
			"session", s.ID(),
			"step", ev.StepName,
			"status", ev.Status,
		)
		return s.Snapshot(), false, nil
	case err != nil:
		m.logger.Warn("event rejected",
			"session", s.ID(),
			"step", ev.StepName,
			"status", ev.Status,
			"error", err,
		)
		return s.Snapshot(), false, err
	}

	snap := s.Snapshot()
	if snap.Citations != nil && snap.Citations.MissingCount > 0 {
		m.logger.Warn("response cites unknown sources",
			"session", s.ID(),
			"missing", snap.Citations.Missing,
		)
	}

	return snap, !wasTerminal && snap.Terminal(), nil
}

// save archives a finished session. Archive failures are logged and do not
// affect the live session.
func (m *Manager) save(ctx context.Context, snap Snapshot) {
	if m.archive == nil {
		return
	}
	if err := m.archive.SaveSession(ctx, snap); err != nil {
		m.logger.Error("failed to archive session",
			"session", snap.ID,
			"error", err,
		)
	}
}

// Get returns the current snapshot of a session, falling back to the
// archive for sessions no longer held in memory.
func (m *Manager) Get(ctx context.Context, id string) (Snapshot, error) {
	if e, ok := m.lookup(id); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.session.Snapshot(), nil
	}

	if m.archive == nil {
		return Snapshot{}, ErrSessionNotFound
	}

	snap, err := m.archive.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Snapshot{}, ErrSessionNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load archived session: %w", err)
	}
	return *snap, nil
}

// List returns information about the live sessions, newest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, e := range m.sessions {
		e.mu.Lock()
		infos = append(infos, Info{
			ID:        e.session.ID(),
			Query:     e.session.Query(),
			Status:    e.session.Status(),
			Timestamp: e.session.Timestamp(),
		})
		e.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	return infos
}

// ListArchived returns up to limit archived sessions, newest first.
func (m *Manager) ListArchived(ctx context.Context, limit int) ([]Info, error) {
	if m.archive == nil {
		return nil, ErrNoArchive
	}

	infos, err := m.archive.ListSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived sessions: %w", err)
	}
	return infos, nil
}

// OnEvict registers fn to be called with the id of every session dropped to
// stay under the cap. fn runs after the manager's locks are released.
func (m *Manager) OnEvict(fn func(id string)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	m.onEvict = append(m.onEvict, fn)
}

// Remove stops tracking a session.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

// evict drops the oldest finished sessions while over the cap. Sessions
// still in progress are never evicted.
func (m *Manager) evict() {
	evicted := m.removeExcess()
	if len(evicted) == 0 {
		return
	}

	m.hookMu.Lock()
	hooks := append(([]func(string))(nil), m.onEvict...)
	m.hookMu.Unlock()

	for _, id := range evicted {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

func (m *Manager) removeExcess() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	excess := len(m.sessions) - m.maxSessions
	if excess <= 0 {
		return nil
	}

	type candidate struct {
		id      string
		created time.Time
	}
	var finished []candidate
	for id, e := range m.sessions {
		e.mu.Lock()
		if e.session.Status().IsTerminal() {
			finished = append(finished, candidate{id: id, created: e.session.Timestamp()})
		}
		e.mu.Unlock()
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].created.Before(finished[j].created)
	})

	var evicted []string
	for i := 0; i < excess && i < len(finished); i++ {
		delete(m.sessions, finished[i].id)
		evicted = append(evicted, finished[i].id)
		m.logger.Debug("session evicted", "session", finished[i].id)
	}
	return evicted
}

// Close shuts down the manager and drops all live sessions.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*entry)
	return nil
}

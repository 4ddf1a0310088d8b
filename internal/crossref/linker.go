//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package crossref links citation markers in generated text with the
// rendered source records they reference, and drives the transient
// highlight shown when navigating between the two.
package crossref

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultHighlightDuration is how long a citation stays highlighted after
// navigation.
const DefaultHighlightDuration = 2000 * time.Millisecond

var (
	// ErrAnchorNotFound is returned when navigating to an id with no
	// registered anchor.
	ErrAnchorNotFound = errors.New("anchor not found")

	// ErrScrollFailed is returned when an anchor fails to scroll into view.
	ErrScrollFailed = errors.New("failed to scroll anchor into view")

	// ErrClosed is returned by a linker after Close.
	ErrClosed = errors.New("linker closed")
)

// Anchor is a rendered element that can be brought into view. Anchors must
// not call back into the Linker from ScrollIntoView.
type Anchor interface {
	ScrollIntoView() error
}

// ChangeFunc is notified when a citation id gains or loses the highlight.
type ChangeFunc func(id string, highlighted bool)

// Config contains the configuration for creating a Linker.
type Config struct {
	// HighlightDuration defaults to DefaultHighlightDuration.
	HighlightDuration time.Duration

	// Scheduler defaults to ClockScheduler.
	Scheduler Scheduler

	OnChange ChangeFunc
	Logger   *slog.Logger
}

// Linker maintains the registry of citation id to rendered anchor and the
// single highlighted citation id. It is safe for concurrent use; the
// highlight clear runs on the scheduler's goroutine.
type Linker struct {
	mu         sync.Mutex
	sources    map[string]Anchor
	markers    map[string][]Anchor
	highlight  string
	pending    Task
	generation uint64
	closed     bool

	duration  time.Duration
	scheduler Scheduler
	onChange  ChangeFunc
	logger    *slog.Logger
}

// NewLinker creates a new cross-reference linker.
func NewLinker(cfg Config) *Linker {
	duration := cfg.HighlightDuration
	if duration <= 0 {
		duration = DefaultHighlightDuration
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = ClockScheduler{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Linker{
		sources:   make(map[string]Anchor),
		markers:   make(map[string][]Anchor),
		duration:  duration,
		scheduler: scheduler,
		onChange:  cfg.OnChange,
		logger:    logger,
	}
}

// Register records the anchor of the rendered source for a citation id,
// replacing any previous one.
func (l *Linker) Register(id string, anchor Anchor) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sources[id] = anchor
}

// Unregister removes the source anchor for id. If id is highlighted, the
// highlight is cleared and its pending clear cancelled.
func (l *Linker) Unregister(id string) {
	l.mu.Lock()
	delete(l.sources, id)
	cleared := l.highlight == id && id != ""
	if cleared {
		l.cancelLocked()
		l.highlight = ""
	}
	l.mu.Unlock()

	if cleared {
		l.notify(id, false)
	}
}

// RegisterMarker records the anchor of one rendered marker for id. Markers
// are kept in registration order, which is their order in the text.
func (l *Linker) RegisterMarker(id string, anchor Anchor) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.markers[id] = append(l.markers[id], anchor)
}

// UnregisterMarkers removes every marker anchor for id.
func (l *Linker) UnregisterMarkers(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.markers, id)
}

// MarkerCount returns the number of rendered markers for id.
func (l *Linker) MarkerCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.markers[id])
}

// IsRegistered reports whether id has a source anchor.
func (l *Linker) IsRegistered(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.sources[id]
	return ok
}

// ScrollTo brings the source anchor for id into view and highlights id for
// the configured duration. Any highlight already active is replaced and its
// pending clear cancelled.
func (l *Linker) ScrollTo(id string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	anchor, ok := l.sources[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: source %s", ErrAnchorNotFound, id)
	}
	return l.scrollAndHighlight(id, anchor)
}

// ScrollToMarker brings the occurrence-th marker (zero-based) for id into
// view and highlights id, navigating from a source back to the text.
func (l *Linker) ScrollToMarker(id string, occurrence int) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	markers := l.markers[id]
	if occurrence < 0 || occurrence >= len(markers) {
		l.mu.Unlock()
		return fmt.Errorf("%w: marker %s#%d", ErrAnchorNotFound, id, occurrence)
	}
	return l.scrollAndHighlight(id, markers[occurrence])
}

// scrollAndHighlight is called with l.mu held and releases it.
func (l *Linker) scrollAndHighlight(id string, anchor Anchor) error {
	if err := anchor.ScrollIntoView(); err != nil {
		l.mu.Unlock()
		l.logger.Warn("scroll into view failed", "citation", id, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrScrollFailed, id, err)
	}

	// Cancel before scheduling so at most one clear is ever pending.
	l.cancelLocked()

	previous := l.highlight
	l.highlight = id
	gen := l.generation
	l.pending = l.scheduler.AfterFunc(l.duration, func() {
		l.expire(gen)
	})
	l.mu.Unlock()

	if previous != "" && previous != id {
		l.notify(previous, false)
	}
	l.notify(id, true)

	return nil
}

// expire clears the highlight if it is still the one scheduled under gen.
func (l *Linker) expire(gen uint64) {
	l.mu.Lock()
	if l.generation != gen || l.highlight == "" {
		l.mu.Unlock()
		return
	}
	id := l.highlight
	l.highlight = ""
	l.pending = nil
	l.mu.Unlock()

	l.notify(id, false)
}

// cancelLocked stops the pending clear and invalidates any clear callback
// that has already fired but not yet acquired the lock.
func (l *Linker) cancelLocked() {
	if l.pending != nil {
		l.pending.Stop()
		l.pending = nil
	}
	l.generation++
}

func (l *Linker) notify(id string, highlighted bool) {
	if l.onChange != nil {
		l.onChange(id, highlighted)
	}
}

// Highlighted returns the currently highlighted citation id, if any.
func (l *Linker) Highlighted() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.highlight, l.highlight != ""
}

// Close cancels any pending clear and drops the highlight and registry.
func (l *Linker) Close() {
	l.mu.Lock()
	l.cancelLocked()
	id := l.highlight
	l.highlight = ""
	l.closed = true
	l.sources = make(map[string]Anchor)
	l.markers = make(map[string][]Anchor)
	l.mu.Unlock()

	if id != "" {
		l.notify(id, false)
	}
}

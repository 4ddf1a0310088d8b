//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package settings

import (
	"errors"
	"sync"
)

// ErrScopeClosed is returned by a Scope after Close.
var ErrScopeClosed = errors.New("preference scope closed")

// Scope binds a store to the lifetime of a tracking session. The store is
// cleared when the scope closes.
type Scope struct {
	mu     sync.RWMutex
	store  Store
	prefs  Preferences
	closed bool
}

// Open loads preferences from the store. The scope is usable even when
// some stored values are invalid; those keys keep their defaults and the
// parse errors are returned.
func Open(s Store) (*Scope, error) {
	prefs, err := Load(s)
	return &Scope{store: s, prefs: prefs}, err
}

// Preferences returns the current preferences.
func (sc *Scope) Preferences() Preferences {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	return sc.prefs
}

// Update validates and stores new preferences.
func (sc *Scope) Update(p Preferences) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return ErrScopeClosed
	}
	if err := Save(sc.store, p); err != nil {
		return err
	}
	sc.prefs = p
	return nil
}

// Close clears the store. It is safe to call more than once.
func (sc *Scope) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return nil
	}
	sc.closed = true
	sc.store.Clear()
	sc.prefs = Defaults()
	return nil
}

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
	"github.com/patrickmn/go-cache"
)

// Store is a string key/value store for preferences.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Clear()
}

// MemoryStore keeps preferences in process memory. Entries never expire.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) (string, bool) {
	if x, found := s.cache.Get(key); found {
		v, ok := x.(string)
		return v, ok
	}
	return "", false
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) {
	s.cache.Set(key, value, cache.NoExpiration)
}

// Clear removes every entry.
func (s *MemoryStore) Clear() {
	s.cache.Flush()
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package settings holds the user interface preferences that shape how a
// session is presented.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pgEdge/pgedge-rag-tracker/internal/crossref"
)

// Store keys for each preference.
const (
	KeyTTSEnabled          = "tts_enabled"
	KeyAutoScrollCitations = "auto_scroll_citations"
	KeyGroupCitations      = "group_citations"
	KeyHighlightDuration   = "highlight_duration"
)

// ErrInvalidPreference is returned when a stored value cannot be parsed.
var ErrInvalidPreference = errors.New("invalid preference")

// Preferences is the explicit configuration object for presentation
// options.
type Preferences struct {
	TTSEnabled          bool          `yaml:"tts_enabled"`
	AutoScrollCitations bool          `yaml:"auto_scroll_citations"`
	GroupCitations      bool          `yaml:"group_citations"`
	HighlightDuration   time.Duration `yaml:"highlight_duration"`
}

// Defaults returns the preferences used when nothing has been stored.
func Defaults() Preferences {
	return Preferences{
		TTSEnabled:          false,
		AutoScrollCitations: true,
		GroupCitations:      false,
		HighlightDuration:   crossref.DefaultHighlightDuration,
	}
}

type preferencesJSON struct {
	TTSEnabled          bool   `json:"tts_enabled"`
	AutoScrollCitations bool   `json:"auto_scroll_citations"`
	GroupCitations      bool   `json:"group_citations"`
	HighlightDuration   string `json:"highlight_duration"`
}

// MarshalJSON writes the highlight duration as a duration string.
func (p Preferences) MarshalJSON() ([]byte, error) {
	return json.Marshal(preferencesJSON{
		TTSEnabled:          p.TTSEnabled,
		AutoScrollCitations: p.AutoScrollCitations,
		GroupCitations:      p.GroupCitations,
		HighlightDuration:   p.HighlightDuration.String(),
	})
}

// UnmarshalJSON reads preferences written by MarshalJSON. Omitted fields
// keep their current value.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	aux := preferencesJSON{
		TTSEnabled:          p.TTSEnabled,
		AutoScrollCitations: p.AutoScrollCitations,
		GroupCitations:      p.GroupCitations,
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	d := p.HighlightDuration
	if aux.HighlightDuration != "" {
		var err error
		d, err = time.ParseDuration(aux.HighlightDuration)
		if err != nil {
			return fmt.Errorf("%w: %s: %q", ErrInvalidPreference, KeyHighlightDuration, aux.HighlightDuration)
		}
	}

	*p = Preferences{
		TTSEnabled:          aux.TTSEnabled,
		AutoScrollCitations: aux.AutoScrollCitations,
		GroupCitations:      aux.GroupCitations,
		HighlightDuration:   d,
	}
	return nil
}

// Validate checks the preferences.
func (p Preferences) Validate() error {
	if p.HighlightDuration <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidPreference, KeyHighlightDuration)
	}
	return nil
}

func (p Preferences) values() map[string]string {
	return map[string]string{
		KeyTTSEnabled:          strconv.FormatBool(p.TTSEnabled),
		KeyAutoScrollCitations: strconv.FormatBool(p.AutoScrollCitations),
		KeyGroupCitations:      strconv.FormatBool(p.GroupCitations),
		KeyHighlightDuration:   p.HighlightDuration.String(),
	}
}

// Load reads preferences from a store. Missing keys take their default.
// Every unparsable key is reported.
func Load(s Store) (Preferences, error) {
	p := Defaults()
	var errs []error

	loadBool := func(key string, dst *bool) {
		raw, ok := s.Get(key)
		if !ok {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %q", ErrInvalidPreference, key, raw))
			return
		}
		*dst = v
	}

	loadBool(KeyTTSEnabled, &p.TTSEnabled)
	loadBool(KeyAutoScrollCitations, &p.AutoScrollCitations)
	loadBool(KeyGroupCitations, &p.GroupCitations)

	if raw, ok := s.Get(KeyHighlightDuration); ok {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s: %q", ErrInvalidPreference, KeyHighlightDuration, raw))
		} else {
			p.HighlightDuration = d
		}
	}

	return p, errors.Join(errs...)
}

// Save writes every preference to a store.
func Save(s Store, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for k, v := range p.values() {
		s.Set(k, v)
	}
	return nil
}

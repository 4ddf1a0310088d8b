//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package citation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCopyFailed is returned when writing a citation to the clipboard fails.
var ErrCopyFailed = errors.New("failed to copy citation")

// FormatForCopy renders a citation as newline-separated lines holding, in
// this order, the author, title, date, url and page number. Absent fields
// are omitted.
func FormatForCopy(c Citation) string {
	var lines []string

	var meta Metadata
	if c.Metadata != nil {
		meta = *c.Metadata
	}

	if meta.Author != "" {
		lines = append(lines, meta.Author)
	}
	if c.Title != "" {
		lines = append(lines, c.Title)
	}
	if meta.Date != "" {
		lines = append(lines, meta.Date)
	}
	if c.URL != "" {
		lines = append(lines, c.URL)
	}
	if meta.PageNumber != nil {
		lines = append(lines, fmt.Sprintf("Page %d", *meta.PageNumber))
	}

	return strings.Join(lines, "\n")
}

// Clipboard is the environment's clipboard.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Copy writes the formatted citation to the clipboard. Failures are
// returned wrapped in ErrCopyFailed and leave no other state changed.
func Copy(ctx context.Context, clip Clipboard, c Citation) error {
	if clip == nil {
		return fmt.Errorf("%w: no clipboard available", ErrCopyFailed)
	}
	if err := clip.WriteText(ctx, FormatForCopy(c)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCopyFailed, c.ID, err)
	}
	return nil
}

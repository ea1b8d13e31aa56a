// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fit

import (
	"fmt"
	"strings"
)

// Default rendering limits.
const (
	// DefaultMaxItemsPerFile caps listed definitions per file.
	DefaultMaxItemsPerFile = 10

	// DefaultSnippetMaxLen caps the source snippet per item.
	DefaultSnippetMaxLen = 120
)

// Item is one definition line within a file excerpt.
type Item struct {
	// Name is the defined identifier.
	Name string `json:"name"`

	// Line is the 1-based definition line.
	Line int `json:"line"`

	// Snippet is the trimmed source line of the definition.
	Snippet string `json:"snippet"`
}

// Excerpt is one file's contribution to the map, with its items already
// in relevance order.
type Excerpt struct {
	// File is the repo-relative path.
	File string `json:"file"`

	// Score is the file's relevance score.
	Score float64 `json:"score"`

	// Items are the file's definitions in relevance order.
	Items []Item `json:"items,omitempty"`
}

// Renderer turns an excerpt prefix into map text.
type Renderer interface {
	Render(excerpts []Excerpt) string
}

// RendererOption is a functional option for configuring ExcerptRenderer.
type RendererOption func(*ExcerptRenderer)

// WithMaxItemsPerFile caps the definitions listed per file.
func WithMaxItemsPerFile(n int) RendererOption {
	return func(r *ExcerptRenderer) {
		if n > 0 {
			r.maxItems = n
		}
	}
}

// WithSnippetMaxLen caps the snippet length per item.
func WithSnippetMaxLen(n int) RendererOption {
	return func(r *ExcerptRenderer) {
		if n > 0 {
			r.snippetMax = n
		}
	}
}

// ExcerptRenderer renders excerpts in the compact map format:
//
//	path/to/file.go:
//	  - Name (line 12): func Name(ctx context.Context) error {
//	  - Other (line 40): type Other struct {
//	  - ...
//
// Files are separated by a blank line. Duplicate item names within a
// file collapse to the first occurrence, the list is capped at
// maxItems with a "..." marker, and snippets are truncated to
// snippetMax characters.
type ExcerptRenderer struct {
	maxItems   int
	snippetMax int
}

// NewExcerptRenderer creates a renderer with the given options.
func NewExcerptRenderer(opts ...RendererOption) *ExcerptRenderer {
	r := &ExcerptRenderer{
		maxItems:   DefaultMaxItemsPerFile,
		snippetMax: DefaultSnippetMaxLen,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render formats the excerpt prefix. Identical input always yields
// identical output.
func (r *ExcerptRenderer) Render(excerpts []Excerpt) string {
	var sb strings.Builder
	for i, ex := range excerpts {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(ex.File)
		sb.WriteString(":\n")

		seen := make(map[string]bool, len(ex.Items))
		shown := 0
		truncated := false
		for _, item := range ex.Items {
			if seen[item.Name] {
				continue
			}
			seen[item.Name] = true
			if shown == r.maxItems {
				truncated = true
				break
			}
			snippet := strings.TrimSpace(item.Snippet)
			if runes := []rune(snippet); len(runes) > r.snippetMax {
				snippet = string(runes[:r.snippetMax])
			}
			fmt.Fprintf(&sb, "  - %s (line %d): %s\n", item.Name, item.Line, snippet)
			shown++
		}
		if truncated {
			sb.WriteString("  - ...\n")
		}
	}
	return sb.String()
}

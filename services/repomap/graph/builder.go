// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/repomap/services/repomap/ast"
)

// DefaultFocusBoost is the personalization mass multiplier for focus
// files relative to all other files.
const DefaultFocusBoost = 100.0

// DefKey identifies one definition site group: an identifier defined in
// a file. Rank distribution and symbol-granularity fitting key on it.
type DefKey struct {
	// File is the defining file's repo-relative path.
	File string `json:"file"`

	// Ident is the defined identifier.
	Ident string `json:"ident"`
}

// BuildStats summarizes one graph construction.
type BuildStats struct {
	// NodesCreated is the number of file nodes.
	NodesCreated int

	// EdgesCreated is the number of merged edges.
	EdgesCreated int

	// IdentsLinked is the number of identifiers that produced edges
	// (defined in one file, referenced from another).
	IdentsLinked int

	// UnresolvedRefs is the number of referenced identifiers with no
	// known definition; they contribute no edges.
	UnresolvedRefs int

	// DurationMilli is the build wall time in milliseconds.
	DurationMilli int64
}

// BuildResult is the output of Builder.Build.
type BuildResult struct {
	// Graph is the frozen reference graph.
	Graph *Graph

	// Definitions maps each (file, ident) definition group to its tags,
	// in source order. The fitter renders from these.
	Definitions map[DefKey][]ast.Tag

	// Stats describes the build.
	Stats BuildStats
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*Builder)

// WithFocusBoost sets the personalization boost for focus files.
func WithFocusBoost(boost float64) BuilderOption {
	return func(b *Builder) {
		if boost > 0 {
			b.focusBoost = boost
		}
	}
}

// Builder merges per-file extraction results into a reference graph.
//
// Description:
//
//	Builder is a pure function of its inputs: identical parse results and
//	focus set produce byte-identical graphs. References that resolve to no
//	known definition are dropped without error. An identifier referenced
//	from file A and defined in files B and C produces edges A→B and A→C,
//	each weighted by the occurrence count in A.
//
// Thread Safety:
//
//	Builder is stateless and safe for concurrent use; each Build call
//	operates on its own state.
type Builder struct {
	focusBoost float64
}

// NewBuilder creates a Builder with the given options.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{focusBoost: DefaultFocusBoost}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build constructs the frozen reference graph from parse results.
//
// Inputs:
//
//	ctx - Checked between phases; a canceled context aborts with its error.
//	results - Per-file extraction results. Failed results contribute a
//	          path-only node with no edges. Nil entries are skipped.
//	focus - Repo-relative paths of focus files receiving boosted
//	        personalization mass.
//
// Outputs:
//
//	*BuildResult - Frozen graph, definition index, and stats.
//	error - Non-nil only on context cancellation.
func (b *Builder) Build(ctx context.Context, results []*ast.ParseResult, focus []string) (*BuildResult, error) {
	start := time.Now()

	defines := make(map[string]map[string]bool)   // ident → defining files
	references := make(map[string]map[string]int) // ident → referencing file → count
	definitions := make(map[DefKey][]ast.Tag)

	g := NewGraph()

	for _, r := range results {
		if r == nil {
			continue
		}
		if err := g.AddNode(r.FilePath); err != nil {
			return nil, err
		}
		if r.Failed {
			continue
		}
		for _, tag := range r.Tags {
			switch tag.Kind {
			case ast.TagDef:
				files, ok := defines[tag.Name]
				if !ok {
					files = make(map[string]bool)
					defines[tag.Name] = files
				}
				files[r.FilePath] = true
				key := DefKey{File: r.FilePath, Ident: tag.Name}
				definitions[key] = append(definitions[key], tag)
			case ast.TagRef:
				byFile, ok := references[tag.Name]
				if !ok {
					byFile = make(map[string]int)
					references[tag.Name] = byFile
				}
				byFile[r.FilePath]++
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := BuildStats{NodesCreated: g.NodeCount()}

	// Link referenced identifiers to their definitions. Iteration is over
	// sorted identifiers so edge accumulation order is deterministic.
	idents := make([]string, 0, len(references))
	for ident := range references {
		idents = append(idents, ident)
	}
	sort.Strings(idents)

	for _, ident := range idents {
		definers, ok := defines[ident]
		if !ok {
			stats.UnresolvedRefs++
			continue
		}
		linked := false
		for referencer, count := range references[ident] {
			for definer := range definers {
				if definer == referencer {
					continue
				}
				if err := g.AddReference(referencer, definer, ident, float64(count)); err != nil {
					return nil, err
				}
				linked = true
			}
		}
		if linked {
			stats.IdentsLinked++
		}
	}

	if err := g.SetFocus(focus, b.focusBoost); err != nil {
		return nil, err
	}
	g.Freeze()

	stats.EdgesCreated = g.EdgeCount()
	stats.DurationMilli = time.Since(start).Milliseconds()

	slog.Debug("reference graph built",
		slog.Int("nodes", stats.NodesCreated),
		slog.Int("edges", stats.EdgesCreated),
		slog.Int("idents_linked", stats.IdentsLinked),
		slog.Int("unresolved_refs", stats.UnresolvedRefs))

	return &BuildResult{
		Graph:       g,
		Definitions: definitions,
		Stats:       stats,
	}, nil
}

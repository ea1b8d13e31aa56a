// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds the weighted file-reference graph that relevance
// ranking runs on. Nodes are repo-relative file paths; a directed edge
// records that one file references identifiers defined in another.
//
// The graph is an explicit adjacency structure with a fully specified
// layout: determinism and cache serialization both depend on it, so no
// external graph library is used.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrFrozen is returned when mutating a frozen graph.
var ErrFrozen = errors.New("graph is frozen")

// IdentWeight is the per-identifier contribution to a merged edge.
type IdentWeight struct {
	// Ident is the referenced identifier.
	Ident string `json:"ident"`

	// Weight is the occurrence count of this identifier on this edge.
	Weight float64 `json:"weight"`
}

// Edge is a directed, weighted reference edge between two files.
//
// There is at most one Edge per ordered (From, To) pair: repeated
// references merge into Weight and the per-identifier breakdown in Refs.
type Edge struct {
	// From is the referencing file.
	From string `json:"from"`

	// To is the file defining the referenced identifiers.
	To string `json:"to"`

	// Weight is the total reference weight, summed across identifiers.
	Weight float64 `json:"weight"`

	// Refs is the per-identifier breakdown, sorted by identifier.
	Refs []IdentWeight `json:"refs"`
}

// Graph is a directed, weighted reference graph over files.
//
// Description:
//
//	A Graph is built mutable (AddNode/AddReference), then frozen. Freeze
//	canonicalizes ordering (nodes lexically, edges by From then To) and
//	computes a structural hash, so identical inputs produce byte-identical
//	graphs regardless of insertion order.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Safe for concurrent reads once
//	frozen. The build pipeline constructs each graph on a single
//	goroutine after the extraction barrier.
type Graph struct {
	nodeSet map[string]bool
	edgeMap map[string]map[string]map[string]float64 // from → to → ident → weight

	// populated by Freeze
	nodes           []string
	nodeIndex       map[string]int
	edges           []Edge
	personalization []float64
	hash            string
	frozen          bool

	focus      map[string]bool
	focusBoost float64
}

// NewGraph creates an empty mutable graph.
func NewGraph() *Graph {
	return &Graph{
		nodeSet:    make(map[string]bool),
		edgeMap:    make(map[string]map[string]map[string]float64),
		focus:      make(map[string]bool),
		focusBoost: 1,
	}
}

// AddNode registers a file node. Adding an existing node is a no-op.
func (g *Graph) AddNode(path string) error {
	if g.frozen {
		return ErrFrozen
	}
	g.nodeSet[path] = true
	return nil
}

// AddReference accumulates reference weight from one file to another for
// a single identifier. Both endpoints must already be nodes. Self-edges
// are rejected: a file referencing its own definitions carries no
// cross-file relevance signal.
func (g *Graph) AddReference(from, to, ident string, weight float64) error {
	if g.frozen {
		return ErrFrozen
	}
	if from == to {
		return fmt.Errorf("self reference %s ident %s", from, ident)
	}
	if !g.nodeSet[from] || !g.nodeSet[to] {
		return fmt.Errorf("unknown endpoint %s -> %s", from, to)
	}
	if weight <= 0 {
		return fmt.Errorf("non-positive weight %v for ident %s", weight, ident)
	}

	byTo, ok := g.edgeMap[from]
	if !ok {
		byTo = make(map[string]map[string]float64)
		g.edgeMap[from] = byTo
	}
	byIdent, ok := byTo[to]
	if !ok {
		byIdent = make(map[string]float64)
		byTo[to] = byIdent
	}
	byIdent[ident] += weight
	return nil
}

// SetFocus records the focus files and their personalization boost.
// Focus paths that are not nodes are ignored at Freeze time.
func (g *Graph) SetFocus(paths []string, boost float64) error {
	if g.frozen {
		return ErrFrozen
	}
	g.focus = make(map[string]bool, len(paths))
	for _, p := range paths {
		g.focus[p] = true
	}
	if boost > 0 {
		g.focusBoost = boost
	}
	return nil
}

// Freeze canonicalizes the graph and makes it immutable.
//
// Description:
//
//	Sorts nodes lexically, merges and sorts edges by (From, To) with
//	per-identifier breakdowns sorted by identifier, computes the
//	normalized personalization vector, and derives the structural hash.
//	Freeze is idempotent.
func (g *Graph) Freeze() {
	if g.frozen {
		return
	}

	g.nodes = make([]string, 0, len(g.nodeSet))
	for n := range g.nodeSet {
		g.nodes = append(g.nodes, n)
	}
	sort.Strings(g.nodes)

	g.nodeIndex = make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		g.nodeIndex[n] = i
	}

	g.edges = make([]Edge, 0)
	for _, from := range g.nodes {
		byTo := g.edgeMap[from]
		tos := make([]string, 0, len(byTo))
		for to := range byTo {
			tos = append(tos, to)
		}
		sort.Strings(tos)

		for _, to := range tos {
			byIdent := byTo[to]
			refs := make([]IdentWeight, 0, len(byIdent))
			total := 0.0
			for ident, w := range byIdent {
				refs = append(refs, IdentWeight{Ident: ident, Weight: w})
				total += w
			}
			sort.Slice(refs, func(i, j int) bool { return refs[i].Ident < refs[j].Ident })
			g.edges = append(g.edges, Edge{From: from, To: to, Weight: total, Refs: refs})
		}
	}

	g.personalization = g.buildPersonalization()
	g.hash = g.computeHash()
	g.frozen = true
}

// buildPersonalization returns the normalized per-node bias vector:
// focus nodes carry focusBoost mass, all others 1, summing to 1.
func (g *Graph) buildPersonalization() []float64 {
	n := len(g.nodes)
	if n == 0 {
		return nil
	}
	vec := make([]float64, n)
	total := 0.0
	for i, node := range g.nodes {
		if g.focus[node] {
			vec[i] = g.focusBoost
		} else {
			vec[i] = 1
		}
		total += vec[i]
	}
	for i := range vec {
		vec[i] /= total
	}
	return vec
}

// computeHash derives a SHA256 hash of the canonical structure.
func (g *Graph) computeHash() string {
	var sb strings.Builder
	for _, n := range g.nodes {
		sb.WriteString("n:")
		sb.WriteString(n)
		if g.focus[n] {
			sb.WriteString(":focus")
		}
		sb.WriteByte('\n')
	}
	for _, e := range g.edges {
		fmt.Fprintf(&sb, "e:%s>%s", e.From, e.To)
		for _, r := range e.Refs {
			fmt.Fprintf(&sb, ":%s=%g", r.Ident, r.Weight)
		}
		sb.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Frozen reports whether the graph has been frozen.
func (g *Graph) Frozen() bool { return g.frozen }

// Hash returns the structural hash. Empty before Freeze.
func (g *Graph) Hash() string { return g.hash }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	if g.frozen {
		return len(g.nodes)
	}
	return len(g.nodeSet)
}

// EdgeCount returns the number of merged edges. Zero before Freeze.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns the lexically sorted node list. Nil before Freeze.
func (g *Graph) Nodes() []string { return g.nodes }

// Edges returns the canonical edge list. Nil before Freeze.
func (g *Graph) Edges() []Edge { return g.edges }

// Personalization returns the normalized bias vector aligned with Nodes.
func (g *Graph) Personalization() []float64 { return g.personalization }

// Index returns the frozen index of a node path.
func (g *Graph) Index(path string) (int, bool) {
	i, ok := g.nodeIndex[path]
	return i, ok
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rank scores reference-graph nodes with personalized PageRank.
// The power iteration is hand-rolled over the graph's adjacency lists:
// the data layout is fully specified, so scores are deterministic and
// independent of node insertion order.
package rank

import (
	"log/slog"
	"math"
	"sort"

	"github.com/AleutianAI/repomap/services/repomap/graph"
)

// Default iteration parameters.
const (
	// DefaultDamping is the PageRank damping factor.
	DefaultDamping = 0.85

	// DefaultTolerance is the L1 convergence threshold.
	DefaultTolerance = 1e-6

	// DefaultMaxIterations bounds the power iteration.
	DefaultMaxIterations = 100
)

// Config controls the power iteration.
type Config struct {
	// Damping is the damping factor d in (0,1). Zero means DefaultDamping.
	Damping float64

	// Tolerance is the L1 convergence threshold. Zero means DefaultTolerance.
	Tolerance float64

	// MaxIterations bounds the loop. Zero means DefaultMaxIterations.
	MaxIterations int
}

// DefaultConfig returns the standard iteration parameters.
func DefaultConfig() Config {
	return Config{
		Damping:       DefaultDamping,
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
	}
}

// Result holds the ranking outcome.
type Result struct {
	// Scores maps node path to its relevance score. Scores are
	// non-negative and sum to 1.
	Scores map[string]float64

	// Iterations is the number of iterations performed.
	Iterations int

	// Converged is false when MaxIterations was reached while the L1
	// change still exceeded Tolerance. Scores are then best-effort.
	Converged bool
}

// Rank runs personalized PageRank over a frozen graph.
//
// Description:
//
//	Each iteration computes score'(v) = (1-d)*p(v) + d*(sum of incoming
//	score(u)*w(u,v)/outWeight(u) + danglingMass*p(v)) where p is the
//	graph's personalization vector. Dangling nodes redistribute their
//	mass via p, conserving total mass. Isolated nodes in an edge-free
//	graph receive exactly their personalization share.
//
// Inputs:
//
//	g - A frozen graph. An empty graph yields an empty, converged Result.
//	cfg - Iteration parameters; zero fields take defaults.
//
// Outputs:
//
//	*Result - Scores plus convergence status. Never nil.
func Rank(g *graph.Graph, cfg Config) *Result {
	if cfg.Damping <= 0 || cfg.Damping >= 1 {
		cfg.Damping = DefaultDamping
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	nodes := g.Nodes()
	n := len(nodes)
	if n == 0 {
		return &Result{Scores: map[string]float64{}, Converged: true}
	}

	personalization := g.Personalization()

	type outEdge struct {
		to     int
		weight float64
	}
	outEdges := make([][]outEdge, n)
	outWeight := make([]float64, n)
	for _, e := range g.Edges() {
		from, okF := g.Index(e.From)
		to, okT := g.Index(e.To)
		if !okF || !okT {
			continue
		}
		outEdges[from] = append(outEdges[from], outEdge{to: to, weight: e.Weight})
		outWeight[from] += e.Weight
	}

	score := make([]float64, n)
	for i := range score {
		score[i] = 1.0 / float64(n)
	}
	next := make([]float64, n)

	d := cfg.Damping
	iterations := 0
	converged := false

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		iterations = iter + 1

		// Dangling mass is redistributed through the personalization
		// vector, matching the focus bias and conserving total mass.
		dangling := 0.0
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				dangling += score[i]
			}
		}

		for i := 0; i < n; i++ {
			next[i] = (1-d)*personalization[i] + d*dangling*personalization[i]
		}
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				continue
			}
			for _, e := range outEdges[i] {
				next[e.to] += d * score[i] * (e.weight / outWeight[i])
			}
		}

		diff := 0.0
		for i := range score {
			diff += math.Abs(next[i] - score[i])
		}
		copy(score, next)

		if diff < cfg.Tolerance {
			converged = true
			break
		}
	}

	if !converged {
		slog.Warn("pagerank did not converge",
			slog.Int("iterations", iterations),
			slog.Int("nodes", n))
	}

	scores := make(map[string]float64, n)
	for i, node := range nodes {
		scores[node] = score[i]
	}

	return &Result{Scores: scores, Iterations: iterations, Converged: converged}
}

// RankedDef is a definition group scored by distributed rank.
type RankedDef struct {
	// File is the defining file.
	File string

	// Ident is the defined identifier.
	Ident string

	// Score is the accumulated rank mass flowing into this definition.
	Score float64
}

// DistributeToDefinitions spreads node scores onto the definitions they
// reference.
//
// Description:
//
//	For every edge and every identifier on it, the referencing file's
//	score weighted by that identifier's edge weight accrues to the
//	(defining file, identifier) group. The result is sorted by score
//	descending, then file ascending, then identifier ascending, which is
//	the deterministic order the fitter consumes at symbol granularity.
func DistributeToDefinitions(g *graph.Graph, scores map[string]float64) []RankedDef {
	acc := make(map[graph.DefKey]float64)
	for _, e := range g.Edges() {
		src := scores[e.From]
		if src == 0 {
			continue
		}
		for _, r := range e.Refs {
			acc[graph.DefKey{File: e.To, Ident: r.Ident}] += src * r.Weight
		}
	}

	ranked := make([]RankedDef, 0, len(acc))
	for key, score := range acc {
		ranked = append(ranked, RankedDef{File: key.File, Ident: key.Ident, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].File != ranked[j].File {
			return ranked[i].File < ranked[j].File
		}
		return ranked[i].Ident < ranked[j].Ident
	})
	return ranked
}

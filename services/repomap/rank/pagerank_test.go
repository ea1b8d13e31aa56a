// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repomap/services/repomap/ast"
	"github.com/AleutianAI/repomap/services/repomap/graph"
)

// focusChain builds the canonical three-file graph: x.go (focus)
// references HelperAlpha defined in y.go and HelperBeta defined in z.go.
func focusChain(t *testing.T) *graph.BuildResult {
	t.Helper()
	results := []*ast.ParseResult{
		{FilePath: "x.go", Tags: []ast.Tag{
			{Name: "Run", Kind: ast.TagDef, Line: 3},
			{Name: "HelperAlpha", Kind: ast.TagRef, Line: 5},
			{Name: "HelperBeta", Kind: ast.TagRef, Line: 6},
		}},
		{FilePath: "y.go", Tags: []ast.Tag{{Name: "HelperAlpha", Kind: ast.TagDef, Line: 3}}},
		{FilePath: "z.go", Tags: []ast.Tag{{Name: "HelperBeta", Kind: ast.TagDef, Line: 3}}},
	}
	built, err := graph.NewBuilder().Build(context.Background(), results, []string{"x.go"})
	require.NoError(t, err)
	return built
}

func scoreSum(scores map[string]float64) float64 {
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum
}

func TestRank_MassConservedWithDanglingNodes(t *testing.T) {
	built := focusChain(t)

	// y.go and z.go have no outgoing edges; their mass must flow back
	// through the personalization vector rather than leak.
	res := Rank(built.Graph, DefaultConfig())
	require.True(t, res.Converged)
	assert.InDelta(t, 1.0, scoreSum(res.Scores), 1e-9)
}

func TestRank_FocusFileRanksHighest(t *testing.T) {
	built := focusChain(t)
	res := Rank(built.Graph, DefaultConfig())

	assert.Greater(t, res.Scores["x.go"], res.Scores["y.go"])
	assert.Greater(t, res.Scores["x.go"], res.Scores["z.go"])
}

func TestRank_SymmetricTargetsScoreEqually(t *testing.T) {
	built := focusChain(t)
	res := Rank(built.Graph, DefaultConfig())

	// y.go and z.go each receive one unit-weight edge from x.go.
	assert.InDelta(t, res.Scores["y.go"], res.Scores["z.go"], 1e-12)
}

func TestRank_EdgeFreeGraphMatchesPersonalization(t *testing.T) {
	g := graph.NewGraph()
	require.NoError(t, g.AddNode("a.go"))
	require.NoError(t, g.AddNode("b.go"))
	require.NoError(t, g.AddNode("c.go"))
	require.NoError(t, g.SetFocus([]string{"a.go"}, 100))
	g.Freeze()

	res := Rank(g, DefaultConfig())
	require.True(t, res.Converged)

	vec := g.Personalization()
	for i, node := range g.Nodes() {
		assert.InDelta(t, vec[i], res.Scores[node], 1e-9, node)
	}
}

func TestRank_EmptyGraph(t *testing.T) {
	g := graph.NewGraph()
	g.Freeze()

	res := Rank(g, DefaultConfig())
	assert.True(t, res.Converged)
	assert.Empty(t, res.Scores)
}

func TestRank_MaxIterationsReached(t *testing.T) {
	built := focusChain(t)
	res := Rank(built.Graph, Config{Damping: 0.85, Tolerance: 1e-6, MaxIterations: 1})

	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.InDelta(t, 1.0, scoreSum(res.Scores), 1e-9, "best-effort scores still conserve mass")
}

func TestRank_DeterministicAcrossRuns(t *testing.T) {
	built := focusChain(t)
	first := Rank(built.Graph, DefaultConfig())
	second := Rank(built.Graph, DefaultConfig())

	assert.Equal(t, first.Scores, second.Scores)
	assert.Equal(t, first.Iterations, second.Iterations)
}

func TestDistributeToDefinitions_OrderedByScore(t *testing.T) {
	built := focusChain(t)
	res := Rank(built.Graph, DefaultConfig())

	ranked := DistributeToDefinitions(built.Graph, res.Scores)
	require.Len(t, ranked, 2)

	// Equal scores fall back to file path order.
	assert.Equal(t, "y.go", ranked[0].File)
	assert.Equal(t, "HelperAlpha", ranked[0].Ident)
	assert.Equal(t, "z.go", ranked[1].File)
	assert.Equal(t, "HelperBeta", ranked[1].Ident)
	assert.InDelta(t, ranked[0].Score, ranked[1].Score, 1e-12)
}

func TestDistributeToDefinitions_WeightSplitsScore(t *testing.T) {
	results := []*ast.ParseResult{
		{FilePath: "caller.go", Tags: []ast.Tag{
			{Name: "Hot", Kind: ast.TagRef, Line: 1},
			{Name: "Hot", Kind: ast.TagRef, Line: 2},
			{Name: "Hot", Kind: ast.TagRef, Line: 3},
			{Name: "Cold", Kind: ast.TagRef, Line: 4},
		}},
		{FilePath: "lib.go", Tags: []ast.Tag{
			{Name: "Hot", Kind: ast.TagDef, Line: 1},
			{Name: "Cold", Kind: ast.TagDef, Line: 5},
		}},
	}
	built, err := graph.NewBuilder().Build(context.Background(), results, nil)
	require.NoError(t, err)

	res := Rank(built.Graph, DefaultConfig())
	ranked := DistributeToDefinitions(built.Graph, res.Scores)
	require.Len(t, ranked, 2)

	assert.Equal(t, "Hot", ranked[0].Ident, "heavier identifier ranks first")
	assert.Equal(t, "Cold", ranked[1].Ident)
	assert.InDelta(t, 3.0, ranked[0].Score/ranked[1].Score, 1e-9,
		"distributed mass is proportional to per-identifier edge weight")
}

func TestDistributeToDefinitions_EmptyGraph(t *testing.T) {
	g := graph.NewGraph()
	g.Freeze()
	assert.Empty(t, DistributeToDefinitions(g, nil))
}

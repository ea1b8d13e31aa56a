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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repomap/services/repomap/ast"
)

func defTag(name string, line int) ast.Tag {
	return ast.Tag{Name: name, Kind: ast.TagDef, Line: line}
}

func refTag(name string, line int) ast.Tag {
	return ast.Tag{Name: name, Kind: ast.TagRef, Line: line}
}

func threeFileResults() []*ast.ParseResult {
	return []*ast.ParseResult{
		{FilePath: "x.go", Tags: []ast.Tag{
			defTag("Run", 3),
			refTag("HelperAlpha", 5),
			refTag("HelperBeta", 6),
		}},
		{FilePath: "y.go", Tags: []ast.Tag{defTag("HelperAlpha", 3)}},
		{FilePath: "z.go", Tags: []ast.Tag{defTag("HelperBeta", 3)}},
	}
}

func TestBuilder_EdgesFromReferences(t *testing.T) {
	b := NewBuilder()
	result, err := b.Build(context.Background(), threeFileResults(), []string{"x.go"})
	require.NoError(t, err)

	g := result.Graph
	require.True(t, g.Frozen())
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount())

	edges := g.Edges()
	assert.Equal(t, "x.go", edges[0].From)
	assert.Equal(t, "y.go", edges[0].To)
	assert.Equal(t, 1.0, edges[0].Weight)
	assert.Equal(t, "x.go", edges[1].From)
	assert.Equal(t, "z.go", edges[1].To)
}

func TestBuilder_RepeatedReferencesMergeWeight(t *testing.T) {
	results := []*ast.ParseResult{
		{FilePath: "a.go", Tags: []ast.Tag{
			refTag("Target", 1),
			refTag("Target", 2),
			refTag("Target", 9),
			refTag("Other", 4),
		}},
		{FilePath: "b.go", Tags: []ast.Tag{defTag("Target", 1), defTag("Other", 2)}},
	}

	b := NewBuilder()
	result, err := b.Build(context.Background(), results, nil)
	require.NoError(t, err)

	g := result.Graph
	require.Equal(t, 1, g.EdgeCount(), "edges between one ordered pair must merge")

	e := g.Edges()[0]
	assert.Equal(t, 4.0, e.Weight, "three Target refs plus one Other ref")
	require.Len(t, e.Refs, 2)
	assert.Equal(t, "Other", e.Refs[0].Ident)
	assert.Equal(t, 1.0, e.Refs[0].Weight)
	assert.Equal(t, "Target", e.Refs[1].Ident)
	assert.Equal(t, 3.0, e.Refs[1].Weight)
}

func TestBuilder_UnresolvedReferencesDropped(t *testing.T) {
	results := []*ast.ParseResult{
		{FilePath: "a.go", Tags: []ast.Tag{refTag("NoSuchSymbol", 1)}},
		{FilePath: "b.go", Tags: []ast.Tag{defTag("Unrelated", 1)}},
	}

	b := NewBuilder()
	result, err := b.Build(context.Background(), results, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Graph.EdgeCount())
	assert.Equal(t, 1, result.Stats.UnresolvedRefs)
}

func TestBuilder_FailedFileIsPathOnlyNode(t *testing.T) {
	results := threeFileResults()
	results = append(results, &ast.ParseResult{
		FilePath: "broken.go",
		Failed:   true,
		Tags:     []ast.Tag{defTag("ShouldNotAppear", 1)},
	})

	b := NewBuilder()
	result, err := b.Build(context.Background(), results, nil)
	require.NoError(t, err)

	g := result.Graph
	assert.Equal(t, 4, g.NodeCount())
	for _, e := range g.Edges() {
		assert.NotEqual(t, "broken.go", e.From)
		assert.NotEqual(t, "broken.go", e.To)
	}
	_, ok := result.Definitions[DefKey{File: "broken.go", Ident: "ShouldNotAppear"}]
	assert.False(t, ok, "failed files contribute no definitions")
}

func TestBuilder_DeterministicAcrossInputOrder(t *testing.T) {
	forward := threeFileResults()
	reversed := []*ast.ParseResult{forward[2], forward[1], forward[0]}

	b := NewBuilder()
	first, err := b.Build(context.Background(), forward, []string{"x.go"})
	require.NoError(t, err)
	second, err := b.Build(context.Background(), reversed, []string{"x.go"})
	require.NoError(t, err)

	assert.Equal(t, first.Graph.Hash(), second.Graph.Hash())
	assert.Equal(t, first.Graph.Nodes(), second.Graph.Nodes())
	assert.Equal(t, first.Graph.Edges(), second.Graph.Edges())
	assert.Equal(t, first.Graph.Personalization(), second.Graph.Personalization())
}

func TestBuilder_PersonalizationFavorsFocus(t *testing.T) {
	b := NewBuilder()
	result, err := b.Build(context.Background(), threeFileResults(), []string{"x.go"})
	require.NoError(t, err)

	g := result.Graph
	vec := g.Personalization()
	require.Len(t, vec, 3)

	sum := 0.0
	for _, v := range vec {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)

	xi, ok := g.Index("x.go")
	require.True(t, ok)
	yi, _ := g.Index("y.go")
	assert.Greater(t, vec[xi], vec[yi])
	assert.InDelta(t, DefaultFocusBoost, vec[xi]/vec[yi], 1e-9)
}

func TestGraph_MutationAfterFreezeRejected(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a.go"))
	g.Freeze()

	assert.ErrorIs(t, g.AddNode("b.go"), ErrFrozen)
	assert.ErrorIs(t, g.AddReference("a.go", "a.go", "x", 1), ErrFrozen)
}

func TestGraph_SelfReferenceRejected(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a.go"))
	err := g.AddReference("a.go", "a.go", "ident", 1)
	require.Error(t, err)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pySample = `class Exporter:
    def export(self, rows):
        return serialize(rows)

def serialize(rows):
    return [format_row(r) for r in rows]

def format_row(row):
    return str(row)

def main():
    exp = Exporter()
    exp.export([1, 2])
`

func TestPythonParser_Definitions(t *testing.T) {
	p := NewPythonParser()
	result, err := p.Parse(context.Background(), []byte(pySample), "exporter.py")
	require.NoError(t, err)
	require.False(t, result.Failed)

	defs := tagNames(result.Tags, TagDef)
	assert.Contains(t, defs, "Exporter")
	assert.Contains(t, defs, "export")
	assert.Contains(t, defs, "serialize")
	assert.Contains(t, defs, "format_row")
	assert.Contains(t, defs, "main")
}

func TestPythonParser_References(t *testing.T) {
	p := NewPythonParser()
	result, err := p.Parse(context.Background(), []byte(pySample), "exporter.py")
	require.NoError(t, err)

	refs := tagNames(result.Tags, TagRef)
	assert.Contains(t, refs, "serialize", "bare call should be a reference")
	assert.Contains(t, refs, "format_row")
	assert.Contains(t, refs, "Exporter", "constructor call should be a reference")
	assert.Contains(t, refs, "export", "attribute call should be a reference")
}

func TestPythonParser_Deterministic(t *testing.T) {
	p := NewPythonParser()
	first, err := p.Parse(context.Background(), []byte(pySample), "exporter.py")
	require.NoError(t, err)
	second, err := p.Parse(context.Background(), []byte(pySample), "exporter.py")
	require.NoError(t, err)
	require.Equal(t, first.Tags, second.Tags)
}

func TestPythonParser_SyntaxErrorIsFailedResult(t *testing.T) {
	src := "def broken(:\n    pass\n"
	p := NewPythonParser()
	result, err := p.Parse(context.Background(), []byte(src), "broken.py")
	require.NoError(t, err)
	assert.True(t, result.Failed)
	assert.Empty(t, result.Tags)
}

func TestJavaScriptParser_Tags(t *testing.T) {
	src := `class Store {
  load() { return fetchAll(); }
}

function fetchAll() { return []; }

const sum = (a, b) => a + b;

function run() {
  const s = new Store();
  s.load();
  return sum(1, 2);
}
`
	p := NewJavaScriptParser()
	result, err := p.Parse(context.Background(), []byte(src), "store.js")
	require.NoError(t, err)
	require.False(t, result.Failed)

	defs := tagNames(result.Tags, TagDef)
	assert.Contains(t, defs, "Store")
	assert.Contains(t, defs, "load")
	assert.Contains(t, defs, "fetchAll")
	assert.Contains(t, defs, "sum")

	refs := tagNames(result.Tags, TagRef)
	assert.Contains(t, refs, "fetchAll")
	assert.Contains(t, refs, "Store", "new expression should be a reference")
	assert.Contains(t, refs, "load", "member call should be a reference")
	assert.Contains(t, refs, "sum")
}

func TestTypeScriptParser_Tags(t *testing.T) {
	src := `interface Shape {
  area(): number;
}

type Label = string;

function describe(s: Shape): Label {
  return render(s);
}

function render(s: Shape): string {
  return "shape";
}
`
	p := NewTypeScriptParser()
	result, err := p.Parse(context.Background(), []byte(src), "shape.ts")
	require.NoError(t, err)
	require.False(t, result.Failed)

	defs := tagNames(result.Tags, TagDef)
	assert.Contains(t, defs, "Shape")
	assert.Contains(t, defs, "Label")
	assert.Contains(t, defs, "describe")
	assert.Contains(t, defs, "render")

	refs := tagNames(result.Tags, TagRef)
	assert.Contains(t, refs, "Shape", "parameter type should be a reference")
	assert.Contains(t, refs, "Label", "return type should be a reference")
	assert.Contains(t, refs, "render")
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repomap/services/repomap/ast"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache"), "/repo/root")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleResult(relPath string) *ast.ParseResult {
	return &ast.ParseResult{
		FilePath: relPath,
		Language: "go",
		Tags: []ast.Tag{
			{Name: "Run", Kind: ast.TagDef, Line: 3},
			{Name: "Helper", Kind: ast.TagRef, Line: 5},
		},
	}
}

func TestStore_LookupMiss(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Lookup(context.Background(), "absent.go", "mtime:1:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStore_PutThenLookupHit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	want := sampleResult("a.go")

	require.NoError(t, store.Put(ctx, "a.go", "mtime:1:1", want))

	got, err := store.Lookup(ctx, "a.go", "mtime:1:1")
	require.NoError(t, err)
	assert.Equal(t, want.FilePath, got.FilePath)
	assert.Equal(t, want.Tags, got.Tags)
}

func TestStore_FingerprintMismatchIsMiss(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.go", "mtime:1:1", sampleResult("a.go")))

	_, err := store.Lookup(ctx, "a.go", "mtime:2:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStore_InvalidateRemovesEntry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.go", "fp", sampleResult("a.go")))
	require.NoError(t, store.Invalidate(ctx, "a.go"))

	_, err := store.Lookup(ctx, "a.go", "fp")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStore_PurgeMissing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, rel := range []string{"a.go", "b.go", "c.go"} {
		require.NoError(t, store.Put(ctx, rel, "fp", sampleResult(rel)))
	}

	removed, err := store.PurgeMissing(ctx, map[string]bool{"a.go": true})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = store.Lookup(ctx, "a.go", "fp")
	assert.NoError(t, err)
	_, err = store.Lookup(ctx, "b.go", "fp")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStore_EvictToSizeKeepsRecentlyUsed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rel := fmt.Sprintf("f%d.go", i)
		require.NoError(t, store.Put(ctx, rel, "fp", sampleResult(rel)))
		time.Sleep(2 * time.Millisecond)
	}

	// Touch the oldest entry so eviction must skip it.
	_, err := store.Lookup(ctx, "f0.go", "fp")
	require.NoError(t, err)

	evicted, err := store.EvictToSize(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, evicted)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Lookup(ctx, "f0.go", "fp")
	assert.NoError(t, err, "recently used entry survives eviction")
	_, err = store.Lookup(ctx, "f1.go", "fp")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStore_EvictToSizeNoopBelowLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.go", "fp", sampleResult("a.go")))
	evicted, err := store.EvictToSize(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestStore_ProjectIsolation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	first, err := Open(dir, "/repo/one")
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), "a.go", "fp", sampleResult("a.go")))
	require.NoError(t, first.Close())

	second, err := Open(dir, "/repo/two")
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Lookup(context.Background(), "a.go", "fp")
	assert.ErrorIs(t, err, ErrCacheMiss, "projects must not share entries")

	n, err := second.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	ctx := context.Background()

	store, err := Open(dir, "/repo/root")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "a.go", "fp", sampleResult("a.go")))
	require.NoError(t, store.Close())

	reopened, err := Open(dir, "/repo/root")
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Lookup(ctx, "a.go", "fp")
	require.NoError(t, err)
	assert.Equal(t, "a.go", got.FilePath)
}

func TestStore_NilStoreIsAlwaysMiss(t *testing.T) {
	var store *Store
	ctx := context.Background()

	_, err := store.Lookup(ctx, "a.go", "fp")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, store.Put(ctx, "a.go", "fp", sampleResult("a.go")))
	assert.NoError(t, store.Invalidate(ctx, "a.go"))
	assert.NoError(t, store.Flush())
	assert.NoError(t, store.Close())

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_CorruptDirectoryRecreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// A MANIFEST that is a directory makes badger's open fail outright.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "MANIFEST"), 0o755))

	store, err := Open(dir, "/repo/root")
	require.NoError(t, err, "corrupt cache directory is wiped and recreated")
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), "a.go", "fp", sampleResult("a.go")))
}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantErr  bool
	}{
		{name: "default is mtime", input: "", wantName: StrategyMTime},
		{name: "mtime", input: "mtime", wantName: StrategyMTime},
		{name: "hash", input: "hash", wantName: StrategyHash},
		{name: "unknown rejected", input: "etag", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStrategy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, s.Name())
		})
	}
}

func TestMTimeStrategy_ChangesWithContentSize(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	first, err := MTimeStrategy{}.Fingerprint(root, "a.go")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("package a // changed"), 0o644))
	second, err := MTimeStrategy{}.Fingerprint(root, "a.go")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestHashStrategy_StableAcrossTimestampChanges(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	first, err := HashStrategy{}.Fingerprint(root, "a.go")
	require.NoError(t, err)

	// Rewrite identical content with a new timestamp.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	second, err := HashStrategy{}.Fingerprint(root, "a.go")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStrategy_MissingFile(t *testing.T) {
	root := t.TempDir()
	_, err := MTimeStrategy{}.Fingerprint(root, "gone.go")
	assert.Error(t, err)
	_, err = HashStrategy{}.Fingerprint(root, "gone.go")
	assert.Error(t, err)
}

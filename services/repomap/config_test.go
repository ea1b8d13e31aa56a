// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repomap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repomap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.EnableParallelProcessing)
	assert.True(t, cfg.EnableIncrementalUpdates)
	assert.True(t, cfg.EnableSmartBinarySearch)
	assert.Equal(t, "mtime", cfg.CacheInvalidationStrategy)
	assert.Equal(t, GranularityFile, cfg.Granularity)
	assert.Equal(t, 4096, cfg.MaxGraphCacheSize)
	assert.Contains(t, cfg.ExcludeDirs, ".git")
	assert.Contains(t, cfg.ExcludeDirs, "node_modules")
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
max_workers: 2
cache_invalidation_strategy: hash
granularity: symbol
max_items_per_file: 5
exclude_dirs:
  - .git
  - target
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.Equal(t, "hash", cfg.CacheInvalidationStrategy)
	assert.Equal(t, GranularitySymbol, cfg.Granularity)
	assert.Equal(t, 5, cfg.MaxItemsPerFile)
	assert.Equal(t, []string{".git", "target"}, cfg.ExcludeDirs)

	// Unset keys keep their defaults.
	assert.True(t, cfg.EnableParallelProcessing)
	assert.Equal(t, 8, cfg.ParallelThreshold)
}

func TestLoadConfig_UnknownKeyRejected(t *testing.T) {
	path := writeConfigFile(t, "max_wrokers: 4\n")
	_, err := LoadConfig(path)
	assert.Error(t, err, "typos must fail loudly, not fall back to defaults")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "negative workers", mutate: func(c *Config) { c.MaxWorkers = -1 }},
		{name: "zero parallel threshold", mutate: func(c *Config) { c.ParallelThreshold = 0 }},
		{name: "unknown strategy", mutate: func(c *Config) { c.CacheInvalidationStrategy = "etag" }},
		{name: "zero cache size", mutate: func(c *Config) { c.MaxGraphCacheSize = 0 }},
		{name: "zero memory limit", mutate: func(c *Config) { c.MemoryLimitMB = 0 }},
		{name: "cleanup threshold above one", mutate: func(c *Config) { c.AutoCleanupThreshold = 1.5 }},
		{name: "cleanup threshold zero", mutate: func(c *Config) { c.AutoCleanupThreshold = 0 }},
		{name: "unknown granularity", mutate: func(c *Config) { c.Granularity = "package" }},
		{name: "zero items per file", mutate: func(c *Config) { c.MaxItemsPerFile = 0 }},
		{name: "zero snippet length", mutate: func(c *Config) { c.SnippetMaxLen = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPerformanceReport_CacheHitRate(t *testing.T) {
	r := &PerformanceReport{CacheHits: 3, CacheMisses: 1}
	assert.InDelta(t, 0.75, r.CacheHitRate(), 1e-12)

	empty := &PerformanceReport{}
	assert.Zero(t, empty.CacheHitRate())
}

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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/repomap/services/repomap/cache"
	"github.com/AleutianAI/repomap/services/repomap/fit"
)

// Map granularity values.
const (
	// GranularityFile fits whole-file excerpts; each excerpt lists the
	// file's top-ranked definitions.
	GranularityFile = "file"

	// GranularitySymbol fits individual ranked definitions, so a highly
	// relevant file can contribute items while a marginal one is cut
	// mid-file.
	GranularitySymbol = "symbol"
)

// DefaultCacheDirName is the versioned cache directory created under
// the project root when Config.CacheDir is empty.
const DefaultCacheDirName = ".repomap.cache.v1"

// defaultExcludeDirs are directory names skipped during repository
// walks: VCS metadata, virtual envs, dependency folders, and build
// output.
var defaultExcludeDirs = []string{
	".git",
	".next",
	".venv",
	"__pycache__",
	"build",
	"env",
	".env",
	"node_modules",
	"site-packages",
	"venv",
}

// Config controls engine behavior. All fields have working defaults
// from DefaultConfig; a YAML config file overrides them field by field.
type Config struct {
	// EnableParallelProcessing allows concurrent symbol extraction.
	EnableParallelProcessing bool `yaml:"enable_parallel_processing"`

	// MaxWorkers caps extraction workers. Zero means runtime.NumCPU.
	MaxWorkers int `yaml:"max_workers"`

	// ParallelThreshold is the minimum file count before parallel
	// extraction engages; smaller batches run sequentially.
	ParallelThreshold int `yaml:"parallel_threshold"`

	// EnableIncrementalUpdates enables the persistent extraction cache.
	EnableIncrementalUpdates bool `yaml:"enable_incremental_updates"`

	// CacheInvalidationStrategy selects how file changes are detected:
	// "mtime" (mtime+size) or "hash" (content SHA256).
	CacheInvalidationStrategy string `yaml:"cache_invalidation_strategy"`

	// MaxGraphCacheSize caps cached entries per project; LRU entries are
	// evicted above it.
	MaxGraphCacheSize int `yaml:"max_graph_cache_size"`

	// MemoryLimitMB is the soft memory budget. When exceeded the engine
	// degrades (fewer workers, earlier eviction) before failing.
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// AutoCleanupThreshold is the fraction of MaxGraphCacheSize that
	// eviction shrinks the cache to, in (0,1].
	AutoCleanupThreshold float64 `yaml:"auto_cleanup_threshold"`

	// EnableSmartBinarySearch selects binary search over prefix length
	// in the fitter; disabled it scans linearly with identical output.
	EnableSmartBinarySearch bool `yaml:"enable_smart_binary_search"`

	// ForceRefresh bypasses cache reads (writes still happen). A build
	// refreshes when either this or the per-request MapRequest flag is
	// set; the request flag cannot re-enable cache reads that this
	// disables.
	ForceRefresh bool `yaml:"force_refresh"`

	// Granularity is the fitting unit: "file" or "symbol".
	Granularity string `yaml:"granularity"`

	// MaxItemsPerFile caps definitions listed per file in the output.
	MaxItemsPerFile int `yaml:"max_items_per_file"`

	// SnippetMaxLen caps the source snippet per listed definition.
	SnippetMaxLen int `yaml:"snippet_max_len"`

	// ExcludeDirs are directory names skipped during repository walks.
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// CacheDir is the cache location. Empty means
	// <root>/.repomap.cache.v1.
	CacheDir string `yaml:"cache_dir"`

	// TokenEncoding is the tiktoken encoding for budget measurement.
	TokenEncoding string `yaml:"token_encoding"`
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		EnableParallelProcessing:  true,
		MaxWorkers:                0,
		ParallelThreshold:         8,
		EnableIncrementalUpdates:  true,
		CacheInvalidationStrategy: cache.StrategyMTime,
		MaxGraphCacheSize:         4096,
		MemoryLimitMB:             512,
		AutoCleanupThreshold:      0.9,
		EnableSmartBinarySearch:   true,
		Granularity:               GranularityFile,
		MaxItemsPerFile:           fit.DefaultMaxItemsPerFile,
		SnippetMaxLen:             fit.DefaultSnippetMaxLen,
		ExcludeDirs:               append([]string(nil), defaultExcludeDirs...),
		TokenEncoding:             fit.DefaultTokenEncoding,
	}
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be >= 0, got %d", c.MaxWorkers)
	}
	if c.ParallelThreshold < 1 {
		return fmt.Errorf("parallel_threshold must be >= 1, got %d", c.ParallelThreshold)
	}
	if _, err := cache.NewStrategy(c.CacheInvalidationStrategy); err != nil {
		return err
	}
	if c.MaxGraphCacheSize < 1 {
		return fmt.Errorf("max_graph_cache_size must be >= 1, got %d", c.MaxGraphCacheSize)
	}
	if c.MemoryLimitMB < 1 {
		return fmt.Errorf("memory_limit_mb must be >= 1, got %d", c.MemoryLimitMB)
	}
	if c.AutoCleanupThreshold <= 0 || c.AutoCleanupThreshold > 1 {
		return fmt.Errorf("auto_cleanup_threshold must be in (0,1], got %v", c.AutoCleanupThreshold)
	}
	if c.Granularity != GranularityFile && c.Granularity != GranularitySymbol {
		return fmt.Errorf("granularity must be %q or %q, got %q",
			GranularityFile, GranularitySymbol, c.Granularity)
	}
	if c.MaxItemsPerFile < 1 {
		return fmt.Errorf("max_items_per_file must be >= 1, got %d", c.MaxItemsPerFile)
	}
	if c.SnippetMaxLen < 1 {
		return fmt.Errorf("snippet_max_len must be >= 1, got %d", c.SnippetMaxLen)
	}
	return nil
}

// LoadConfig reads a YAML config file over DefaultConfig. Unknown keys
// are rejected so typos fail loudly instead of silently using defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

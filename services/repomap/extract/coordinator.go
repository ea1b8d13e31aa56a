// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract fans tag extraction out over a bounded worker pool.
// Each file is an independent unit of work; results are merged in path
// order so output never depends on worker completion order.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/repomap/services/repomap/ast"
)

// Default coordinator configuration values.
const (
	// DefaultFileTimeout bounds extraction of a single pathological file.
	DefaultFileTimeout = 10 * time.Second

	// DefaultParallelThreshold is the minimum file count worth dispatching
	// to the pool; below it the coordinator runs sequentially.
	DefaultParallelThreshold = 8
)

// Stats describes one extraction pass, used for the performance report.
type Stats struct {
	// Files is the number of files processed.
	Files int

	// Failed is the number of files whose extraction failed (parse error,
	// timeout, unsupported type, unreadable).
	Failed int

	// WallTime is the elapsed time of the whole pass.
	WallTime time.Duration

	// WorkTime is the summed per-file extraction time. WorkTime/WallTime
	// estimates the achieved parallel speedup.
	WorkTime time.Duration

	// Workers is the pool size used (1 for the sequential path).
	Workers int
}

// SpeedupEstimate returns WorkTime/WallTime, the achieved parallel
// speedup. Returns 1 when the pass did no measurable work.
func (s Stats) SpeedupEstimate() float64 {
	if s.WallTime <= 0 || s.WorkTime <= 0 {
		return 1
	}
	return float64(s.WorkTime) / float64(s.WallTime)
}

// CoordinatorOption is a functional option for configuring Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWorkers sets the worker-pool size. Zero or negative means NumCPU.
func WithWorkers(n int) CoordinatorOption {
	return func(c *Coordinator) { c.workers = n }
}

// WithParallel enables or disables parallel dispatch entirely.
func WithParallel(enabled bool) CoordinatorOption {
	return func(c *Coordinator) { c.parallel = enabled }
}

// WithParallelThreshold sets the minimum file count to parallelize.
func WithParallelThreshold(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithFileTimeout sets the per-file extraction timeout.
func WithFileTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Coordinator runs per-file tag extraction across a worker pool.
//
// Description:
//
//	Each file is read and parsed independently; workers write only to
//	their own result slot, so the parallel phase shares no mutable state.
//	The merged output is sorted by path, making it identical to the
//	sequential output for the same file set (parity property).
//
// Thread Safety:
//
//	Coordinator is safe for concurrent use. Each ExtractAll call operates
//	on its own state.
type Coordinator struct {
	registry  *ast.Registry
	workers   int
	threshold int
	timeout   time.Duration
	parallel  bool
}

// NewCoordinator creates a Coordinator using the given parser registry.
func NewCoordinator(registry *ast.Registry, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry:  registry,
		workers:   runtime.NumCPU(),
		threshold: DefaultParallelThreshold,
		timeout:   DefaultFileTimeout,
		parallel:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers <= 0 {
		c.workers = runtime.NumCPU()
	}
	return c
}

// ExtractAll extracts tags from every file in relPaths.
//
// Description:
//
//	Paths are relative to root. Every input path yields exactly one
//	ParseResult: a failed extraction (unreadable file, unsupported type,
//	parse error, timeout) produces a Failed result rather than an error.
//	Results are returned sorted by path.
//
// Inputs:
//
//	ctx - Context for overall cancellation; a per-file timeout is layered
//	      on top for each unit of work.
//	root - Absolute repository root.
//	relPaths - Repo-relative file paths to extract.
//
// Outputs:
//
//	[]*ast.ParseResult - One result per input path, path-sorted.
//	Stats - Timing and failure counts for the pass.
func (c *Coordinator) ExtractAll(ctx context.Context, root string, relPaths []string) ([]*ast.ParseResult, Stats) {
	start := time.Now()
	stats := Stats{Files: len(relPaths), Workers: 1}

	if len(relPaths) == 0 {
		stats.WallTime = time.Since(start)
		return []*ast.ParseResult{}, stats
	}

	results := make([]*ast.ParseResult, len(relPaths))
	durations := make([]time.Duration, len(relPaths))

	if c.parallel && c.workers > 1 && len(relPaths) >= c.threshold {
		stats.Workers = c.workers

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for i, rel := range relPaths {
			i, rel := i, rel
			g.Go(func() error {
				unitStart := time.Now()
				results[i] = c.extractOne(gctx, root, rel)
				durations[i] = time.Since(unitStart)
				return nil
			})
		}
		// Workers never return errors; Wait is a barrier only.
		_ = g.Wait()
	} else {
		for i, rel := range relPaths {
			unitStart := time.Now()
			results[i] = c.extractOne(ctx, root, rel)
			durations[i] = time.Since(unitStart)
		}
	}

	ast.SortResults(results)

	for i := range results {
		stats.WorkTime += durations[i]
		if results[i].Failed {
			stats.Failed++
		}
	}
	stats.WallTime = time.Since(start)

	slog.Debug("extraction pass complete",
		slog.Int("files", stats.Files),
		slog.Int("failed", stats.Failed),
		slog.Int("workers", stats.Workers),
		slog.Duration("wall", stats.WallTime))

	return results, stats
}

// extractOne reads and parses a single file under the per-file timeout.
// All failure modes collapse into a Failed ParseResult.
func (c *Coordinator) extractOne(ctx context.Context, root, rel string) *ast.ParseResult {
	parser, err := c.registry.ParserFor(rel)
	if err != nil {
		return ast.FailedResult(rel, err.Error())
	}

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return ast.FailedResult(rel, fmt.Sprintf("read: %v", err))
	}

	fileCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := parser.Parse(fileCtx, content, rel)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("extraction timed out",
				slog.String("file", rel),
				slog.Duration("timeout", c.timeout))
			return ast.FailedResult(rel, "extraction timed out")
		}
		return ast.FailedResult(rel, err.Error())
	}
	return result
}

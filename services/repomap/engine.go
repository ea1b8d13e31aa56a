// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repomap builds a token-budgeted relevance map of a code
// repository: the most relevant files and definitions, ranked by
// reference structure, rendered compactly enough to fit a token budget.
package repomap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/repomap/services/repomap/ast"
	"github.com/AleutianAI/repomap/services/repomap/cache"
	"github.com/AleutianAI/repomap/services/repomap/extract"
	"github.com/AleutianAI/repomap/services/repomap/fit"
	"github.com/AleutianAI/repomap/services/repomap/graph"
	"github.com/AleutianAI/repomap/services/repomap/rank"
)

// DefaultTokenBudget is used when a request carries no budget.
const DefaultTokenBudget = 2048

// ErrResourceExhausted is returned when the candidate set exceeds the
// configured memory budget beyond what degraded operation can absorb.
var ErrResourceExhausted = errors.New("memory limit exceeded")

// MapRequest describes one map build.
type MapRequest struct {
	// FocusFiles are repo-relative paths whose relevance is boosted.
	FocusFiles []string

	// OtherFiles are the candidate repo-relative paths. Empty means walk
	// the repository root.
	OtherFiles []string

	// TokenBudget is the maximum token count for the rendered map.
	// Non-positive means DefaultTokenBudget.
	TokenBudget int

	// ForceRefresh bypasses cache reads for this request. It combines
	// with the config-level flag: either one forces a refresh.
	ForceRefresh bool
}

// MapResult is the built map.
type MapResult struct {
	// Excerpts is the selected content in relevance order.
	Excerpts []fit.Excerpt

	// Rendered is the map text.
	Rendered string

	// TokenCount is the token count of Rendered.
	TokenCount int

	// Complete is true when every candidate fit the budget.
	Complete bool

	// Report describes the build.
	Report *PerformanceReport
}

// EngineOption is a functional option for configuring Engine.
type EngineOption func(*Engine)

// WithRegistry replaces the default language parser registry.
func WithRegistry(reg *ast.Registry) EngineOption {
	return func(e *Engine) {
		if reg != nil {
			e.registry = reg
		}
	}
}

// WithTokenCounter replaces the default token counter.
func WithTokenCounter(counter fit.TokenCounter) EngineOption {
	return func(e *Engine) {
		if counter != nil {
			e.counter = counter
		}
	}
}

// Engine orchestrates the map pipeline: discover candidate files,
// extract symbols (cache-assisted), build the reference graph, rank it,
// and fit the ranked excerpts to the token budget.
//
// Description:
//
//	The engine holds no per-request state; the graph is rebuilt fresh on
//	every BuildMap call from cached plus freshly extracted per-file
//	results. Identical inputs produce byte-identical maps whether results
//	came from the cache or from parsing.
//
// Thread Safety:
//
//	Safe for concurrent BuildMap calls. The cache store serializes its
//	own access.
type Engine struct {
	root     string
	cfg      Config
	registry *ast.Registry
	counter  fit.TokenCounter
	strategy cache.Strategy
	store    *cache.Store
	builder  *graph.Builder
}

// NewEngine creates an engine rooted at the given repository directory.
//
// Description:
//
//	Opens the extraction cache when incremental updates are enabled. A
//	cache that cannot be opened (directory locked by another process,
//	unrecoverable corruption) degrades to cache-less operation with a
//	warning rather than failing construction.
//
// Inputs:
//
//	root - Repository root directory. Must exist.
//	cfg - Engine configuration; validated here.
//	opts - Optional overrides, mainly for tests.
//
// Outputs:
//
//	*Engine - Ready engine. Callers should Close it to flush the cache.
//	error - Non-nil on invalid config or unusable root.
func NewEngine(root string, cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	strategy, err := cache.NewStrategy(cfg.CacheInvalidationStrategy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		root:     absRoot,
		cfg:      cfg,
		registry: ast.NewDefaultRegistry(),
		strategy: strategy,
		builder:  graph.NewBuilder(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.counter == nil {
		counter, err := fit.NewTiktokenCounter(cfg.TokenEncoding)
		if err != nil {
			slog.Warn("token encoding unavailable, using length estimator",
				slog.String("encoding", cfg.TokenEncoding),
				slog.String("error", err.Error()))
			e.counter = fit.EstimateCounter{}
		} else {
			e.counter = counter
		}
	}

	if cfg.EnableIncrementalUpdates {
		dir := cfg.CacheDir
		if dir == "" {
			dir = filepath.Join(absRoot, DefaultCacheDirName)
		}
		store, err := cache.Open(dir, absRoot)
		if err != nil {
			slog.Warn("extraction cache unavailable, running without cache",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		} else {
			e.store = store
		}
	}

	return e, nil
}

// Close flushes and closes the extraction cache.
func (e *Engine) Close() error {
	return e.store.Close()
}

// BuildMap builds the relevance map for one request.
//
// Inputs:
//
//	ctx - Cancels the build between phases and during extraction.
//	req - Focus set, candidate set, and token budget.
//
// Outputs:
//
//	*MapResult - The fitted map with its performance report. The map is
//	             empty (never nil) when nothing fits the budget.
//	error - Context cancellation, walk failure, or ErrResourceExhausted.
func (e *Engine) BuildMap(ctx context.Context, req MapRequest) (*MapResult, error) {
	start := time.Now()
	ctx, span := engineTracer.Start(ctx, "Engine.BuildMap")
	defer span.End()

	result, err := e.buildMap(ctx, req, start)
	status := "success"
	if err != nil {
		status = "error"
	}
	buildDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("repomap.files", result.Report.FileCount),
		attribute.Int("repomap.cache_hits", result.Report.CacheHits),
		attribute.Int("repomap.tokens", result.TokenCount),
		attribute.Bool("repomap.complete", result.Complete),
	)
	return result, nil
}

func (e *Engine) buildMap(ctx context.Context, req MapRequest, start time.Time) (*MapResult, error) {
	budget := req.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	report := &PerformanceReport{}

	// Phase 1: discovery.
	discoverStart := time.Now()
	candidates, err := e.candidateFiles(req)
	if err != nil {
		return nil, err
	}
	report.DiscoverMilli = time.Since(discoverStart).Milliseconds()
	report.FileCount = len(candidates)

	workers := e.cfg.MaxWorkers
	if err := e.checkMemoryBudget(candidates, &workers); err != nil {
		return nil, err
	}

	// Phase 2: extraction, cache first.
	extractStart := time.Now()
	results, stats, err := e.extractWithCache(ctx, candidates, req.ForceRefresh || e.cfg.ForceRefresh, workers, report)
	if err != nil {
		return nil, err
	}
	report.ExtractMilli = time.Since(extractStart).Milliseconds()
	report.WorkerCount = stats.Workers
	report.ParallelSpeedup = stats.SpeedupEstimate()
	parseDuration.Observe(time.Since(extractStart).Seconds())

	for _, r := range results {
		if r.Failed {
			report.FailedFiles = append(report.FailedFiles, r.FilePath)
		}
	}

	// Phase 3: graph.
	graphStart := time.Now()
	built, err := e.builder.Build(ctx, results, req.FocusFiles)
	if err != nil {
		return nil, err
	}
	report.GraphMilli = time.Since(graphStart).Milliseconds()

	// Phase 4: ranking.
	rankStart := time.Now()
	ranked := rank.Rank(built.Graph, rank.DefaultConfig())
	definitions := rank.DistributeToDefinitions(built.Graph, ranked.Scores)
	report.RankMilli = time.Since(rankStart).Milliseconds()
	report.RankIterations = ranked.Iterations
	report.RankConverged = ranked.Converged
	rankIterations.Observe(float64(ranked.Iterations))

	// Phase 5: fitting.
	fitStart := time.Now()
	excerpts := e.assembleExcerpts(built, ranked.Scores, definitions)
	fitter := fit.NewFitter(e.counter,
		fit.WithBinarySearch(e.cfg.EnableSmartBinarySearch),
		fit.WithRenderer(fit.NewExcerptRenderer(
			fit.WithMaxItemsPerFile(e.cfg.MaxItemsPerFile),
			fit.WithSnippetMaxLen(e.cfg.SnippetMaxLen),
		)),
	)
	fitted, err := fitter.Fit(ctx, excerpts, budget)
	if err != nil {
		return nil, err
	}
	report.FitMilli = time.Since(fitStart).Milliseconds()
	report.TotalMilli = time.Since(start).Milliseconds()

	slog.Debug("map built",
		slog.Int("files", report.FileCount),
		slog.Int("cache_hits", report.CacheHits),
		slog.Int("tokens", fitted.TokenCount),
		slog.Bool("complete", fitted.Complete),
		slog.Int64("total_milli", report.TotalMilli))

	return &MapResult{
		Excerpts:   fitted.Excerpts,
		Rendered:   fitted.Rendered,
		TokenCount: fitted.TokenCount,
		Complete:   fitted.Complete,
		Report:     report,
	}, nil
}

// candidateFiles resolves the candidate set: the union of the request's
// focus and other files, or a repository walk when no candidates were
// given. Paths are normalized to slash-separated repo-relative form and
// deduplicated.
func (e *Engine) candidateFiles(req MapRequest) ([]string, error) {
	seen := make(map[string]bool)
	var candidates []string
	add := func(rel string) {
		rel = filepath.ToSlash(rel)
		if rel == "" || seen[rel] {
			return
		}
		seen[rel] = true
		candidates = append(candidates, rel)
	}

	for _, rel := range req.OtherFiles {
		add(rel)
	}
	for _, rel := range req.FocusFiles {
		add(rel)
	}

	if len(req.OtherFiles) == 0 {
		walked, err := e.walkRepository()
		if err != nil {
			return nil, err
		}
		for _, rel := range walked {
			add(rel)
		}
	}

	sort.Strings(candidates)
	return candidates, nil
}

// walkRepository lists supported source files under the root, skipping
// excluded directories and the cache directory itself.
func (e *Engine) walkRepository() ([]string, error) {
	excluded := make(map[string]bool, len(e.cfg.ExcludeDirs))
	for _, dir := range e.cfg.ExcludeDirs {
		excluded[dir] = true
	}

	var files []string
	err := filepath.WalkDir(e.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == e.root {
				return nil
			}
			if excluded[name] || strings.HasPrefix(name, ".repomap.cache.") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := e.registry.ParserFor(name); err != nil {
			return nil // unsupported file types are skipped, not failed
		}
		rel, err := filepath.Rel(e.root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}
	return files, nil
}

// checkMemoryBudget compares the candidate set's on-disk size against
// the soft memory limit. Over the limit, extraction degrades to fewer
// workers; only far past it does the build refuse to proceed.
func (e *Engine) checkMemoryBudget(candidates []string, workers *int) error {
	var totalBytes int64
	for _, rel := range candidates {
		info, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(rel)))
		if err != nil {
			continue // missing files fail later, during extraction
		}
		totalBytes += info.Size()
	}

	limitBytes := int64(e.cfg.MemoryLimitMB) * 1024 * 1024
	switch {
	case totalBytes > 4*limitBytes:
		return fmt.Errorf("%w: candidate files total %d MB against a %d MB limit",
			ErrResourceExhausted, totalBytes/(1024*1024), e.cfg.MemoryLimitMB)
	case totalBytes > limitBytes:
		degraded := *workers / 2
		if degraded < 1 {
			degraded = 1
		}
		slog.Warn("candidate set exceeds memory budget, reducing workers",
			slog.Int64("total_mb", totalBytes/(1024*1024)),
			slog.Int("limit_mb", e.cfg.MemoryLimitMB),
			slog.Int("workers", degraded))
		*workers = degraded
	}
	return nil
}

// extractWithCache serves what it can from the cache and extracts the
// rest, storing fresh results back. The merged output is path-sorted
// regardless of which side each file came from.
func (e *Engine) extractWithCache(
	ctx context.Context,
	candidates []string,
	forceRefresh bool,
	workers int,
	report *PerformanceReport,
) ([]*ast.ParseResult, extract.Stats, error) {
	fingerprints := make(map[string]string, len(candidates))
	var cached []*ast.ParseResult
	var toParse []string

	for _, rel := range candidates {
		fp, err := e.strategy.Fingerprint(e.root, rel)
		if err == nil {
			fingerprints[rel] = fp
		}

		if forceRefresh || fp == "" {
			toParse = append(toParse, rel)
			continue
		}
		result, err := e.store.Lookup(ctx, rel, fp)
		if err == nil {
			cached = append(cached, result)
			report.CacheHits++
			cacheHitsTotal.Inc()
			continue
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return nil, extract.Stats{}, fmt.Errorf("cache lookup %s: %w", rel, err)
		}
		toParse = append(toParse, rel)
	}
	report.CacheMisses = len(toParse)
	cacheMissesTotal.Add(float64(len(toParse)))

	coordinator := extract.NewCoordinator(e.registry,
		extract.WithParallel(e.cfg.EnableParallelProcessing),
		extract.WithWorkers(workers),
		extract.WithParallelThreshold(e.cfg.ParallelThreshold),
	)
	fresh, stats := coordinator.ExtractAll(ctx, e.root, toParse)
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	for _, r := range fresh {
		fp, ok := fingerprints[r.FilePath]
		if !ok {
			continue // file unreadable at fingerprint time, do not cache
		}
		if err := e.store.Put(ctx, r.FilePath, fp, r); err != nil {
			slog.Warn("cache write failed",
				slog.String("file", r.FilePath),
				slog.String("error", err.Error()))
		}
	}

	e.maintainCache(ctx, candidates)

	merged := make([]*ast.ParseResult, 0, len(cached)+len(fresh))
	merged = append(merged, cached...)
	merged = append(merged, fresh...)
	ast.SortResults(merged)
	return merged, stats, nil
}

// maintainCache drops entries for deleted files and evicts LRU entries
// above the configured cache size. Maintenance failures are logged, not
// fatal.
func (e *Engine) maintainCache(ctx context.Context, candidates []string) {
	if e.store == nil {
		return
	}
	keep := make(map[string]bool, len(candidates))
	for _, rel := range candidates {
		keep[rel] = true
	}
	if _, err := e.store.PurgeMissing(ctx, keep); err != nil {
		slog.Warn("cache purge failed", slog.String("error", err.Error()))
	}

	n, err := e.store.Len(ctx)
	if err != nil {
		slog.Warn("cache size check failed", slog.String("error", err.Error()))
		return
	}
	if n > e.cfg.MaxGraphCacheSize {
		target := int(float64(e.cfg.MaxGraphCacheSize) * e.cfg.AutoCleanupThreshold)
		if _, err := e.store.EvictToSize(ctx, target); err != nil {
			slog.Warn("cache eviction failed", slog.String("error", err.Error()))
		}
	}
}

// assembleExcerpts turns ranked files and definitions into render-ready
// excerpts in relevance order.
//
// At file granularity each file is one excerpt listing its ranked
// definitions (falling back to source order when nothing references
// them). At symbol granularity each ranked definition is its own
// excerpt, followed by bare file entries for files with no ranked
// definitions.
func (e *Engine) assembleExcerpts(
	built *graph.BuildResult,
	scores map[string]float64,
	definitions []rank.RankedDef,
) []fit.Excerpt {
	lines := newLineReader(e.root)

	byFile := make(map[string][]rank.RankedDef)
	for _, d := range definitions {
		byFile[d.File] = append(byFile[d.File], d)
	}

	files := append([]string(nil), built.Graph.Nodes()...)
	sort.SliceStable(files, func(i, j int) bool {
		si, sj := scores[files[i]], scores[files[j]]
		if si != sj {
			return si > sj
		}
		return files[i] < files[j]
	})

	if e.cfg.Granularity == GranularitySymbol {
		var excerpts []fit.Excerpt
		for _, d := range definitions {
			excerpts = append(excerpts, fit.Excerpt{
				File:  d.File,
				Score: d.Score,
				Items: e.defItems(built, d, lines),
			})
		}
		for _, f := range files {
			if len(byFile[f]) == 0 {
				excerpts = append(excerpts, fit.Excerpt{File: f, Score: scores[f]})
			}
		}
		return excerpts
	}

	excerpts := make([]fit.Excerpt, 0, len(files))
	for _, f := range files {
		ex := fit.Excerpt{File: f, Score: scores[f]}
		for _, d := range byFile[f] {
			ex.Items = append(ex.Items, e.defItems(built, d, lines)...)
		}
		if len(ex.Items) == 0 {
			ex.Items = e.unrankedItems(built, f, lines)
		}
		excerpts = append(excerpts, ex)
	}
	return excerpts
}

// defItems expands one ranked definition group into items, in source
// order within the group.
func (e *Engine) defItems(built *graph.BuildResult, d rank.RankedDef, lines *lineReader) []fit.Item {
	tags := built.Definitions[graph.DefKey{File: d.File, Ident: d.Ident}]
	items := make([]fit.Item, 0, len(tags))
	for _, tag := range tags {
		items = append(items, fit.Item{
			Name:    tag.Name,
			Line:    tag.Line,
			Snippet: lines.line(d.File, tag.Line),
		})
	}
	return items
}

// unrankedItems lists a file's definitions in source order, for files
// nothing references.
func (e *Engine) unrankedItems(built *graph.BuildResult, file string, lines *lineReader) []fit.Item {
	var items []fit.Item
	for key, tags := range built.Definitions {
		if key.File != file {
			continue
		}
		for _, tag := range tags {
			items = append(items, fit.Item{
				Name:    tag.Name,
				Line:    tag.Line,
				Snippet: lines.line(file, tag.Line),
			})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Line != items[j].Line {
			return items[i].Line < items[j].Line
		}
		return items[i].Name < items[j].Name
	})
	return items
}

// lineReader reads and memoizes source lines for snippet rendering.
// Unreadable files yield empty snippets rather than errors.
type lineReader struct {
	root  string
	files map[string][]string
}

func newLineReader(root string) *lineReader {
	return &lineReader{root: root, files: make(map[string][]string)}
}

// line returns the trimmed content of the 1-based line, or "".
func (lr *lineReader) line(relPath string, n int) string {
	lines, ok := lr.files[relPath]
	if !ok {
		content, err := os.ReadFile(filepath.Join(lr.root, filepath.FromSlash(relPath)))
		if err != nil {
			lines = nil
		} else {
			lines = strings.Split(string(content), "\n")
		}
		lr.files[relPath] = lines
	}
	if n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[n-1])
}

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

// PerformanceReport describes one map build: phase timings, cache
// effectiveness, extraction failures, and ranking behavior. It is
// attached to every MapResult so callers can log or export it.
type PerformanceReport struct {
	// TotalMilli is the end-to-end build wall time.
	TotalMilli int64 `json:"total_milli"`

	// DiscoverMilli is file discovery (walk) time.
	DiscoverMilli int64 `json:"discover_milli"`

	// ExtractMilli is the symbol extraction phase time, including cache
	// consultation.
	ExtractMilli int64 `json:"extract_milli"`

	// GraphMilli is the graph construction time.
	GraphMilli int64 `json:"graph_milli"`

	// RankMilli is the ranking time.
	RankMilli int64 `json:"rank_milli"`

	// FitMilli is the budget-fitting time.
	FitMilli int64 `json:"fit_milli"`

	// FileCount is the number of candidate files considered.
	FileCount int `json:"file_count"`

	// CacheHits is the number of files served from the cache.
	CacheHits int `json:"cache_hits"`

	// CacheMisses is the number of files that required extraction.
	CacheMisses int `json:"cache_misses"`

	// FailedFiles lists files whose extraction failed; they appear in
	// the graph as path-only nodes.
	FailedFiles []string `json:"failed_files,omitempty"`

	// RankIterations is the number of PageRank iterations.
	RankIterations int `json:"rank_iterations"`

	// RankConverged is false when ranking hit its iteration cap.
	RankConverged bool `json:"rank_converged"`

	// WorkerCount is the number of extraction workers used.
	WorkerCount int `json:"worker_count"`

	// ParallelSpeedup estimates the speedup from parallel extraction:
	// total per-file work time divided by extraction wall time. 1.0 for
	// sequential runs.
	ParallelSpeedup float64 `json:"parallel_speedup"`
}

// CacheHitRate returns hits/(hits+misses), or 0 with no lookups.
func (r *PerformanceReport) CacheHitRate() float64 {
	total := r.CacheHits + r.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(r.CacheHits) / float64(total)
}

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// engineTracer is the shared OTel tracer for engine phases.
var engineTracer = otel.Tracer("aleutian.repomap.engine")

// Package-level Prometheus metrics for map builds. Auto-registered via
// promauto so no explicit registry wiring is needed.
var (
	// buildDuration measures end-to-end BuildMap duration.
	//
	// Labels:
	//   - status: "success" or "error"
	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repomap",
			Name:      "build_duration_seconds",
			Help:      "Duration of full map builds in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	// parseDuration measures the extraction phase.
	parseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repomap",
			Name:      "parse_duration_seconds",
			Help:      "Duration of the symbol extraction phase in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	// cacheHitsTotal counts extraction cache hits.
	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repomap",
			Name:      "cache_hits_total",
			Help:      "Total extraction cache hits.",
		},
	)

	// cacheMissesTotal counts extraction cache misses.
	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repomap",
			Name:      "cache_misses_total",
			Help:      "Total extraction cache misses.",
		},
	)

	// rankIterations tracks power-iteration counts per build.
	rankIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repomap",
			Name:      "rank_iterations",
			Help:      "PageRank iterations per map build.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)
)

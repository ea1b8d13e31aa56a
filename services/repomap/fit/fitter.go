// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fit

import (
	"context"
	"log/slog"
)

// FitterOption is a functional option for configuring Fitter.
type FitterOption func(*Fitter)

// WithBinarySearch toggles binary search over prefix length. Disabled,
// the fitter scans prefixes linearly; the selected prefix is identical
// either way.
func WithBinarySearch(enabled bool) FitterOption {
	return func(f *Fitter) { f.binarySearch = enabled }
}

// WithRenderer replaces the default ExcerptRenderer.
func WithRenderer(r Renderer) FitterOption {
	return func(f *Fitter) {
		if r != nil {
			f.renderer = r
		}
	}
}

// Result is the fitted map.
type Result struct {
	// Excerpts is the selected prefix, in relevance order.
	Excerpts []Excerpt

	// Rendered is the map text for the selected prefix.
	Rendered string

	// TokenCount is the token count of Rendered.
	TokenCount int

	// Complete is true when every candidate excerpt fit the budget.
	Complete bool

	// CounterCalls is the number of token counter invocations; binary
	// search keeps it logarithmic in the candidate count.
	CounterCalls int
}

// Fitter selects the maximal excerpt prefix whose rendering fits a
// token budget.
//
// Description:
//
//	Candidates arrive in descending relevance order. The fitter renders
//	prefixes and counts their tokens, memoizing per prefix length so no
//	length is counted twice. Rendered length grows monotonically with
//	prefix length, so binary search finds the largest fitting prefix in
//	O(log n) counter calls. A whole-input probe short-circuits the
//	common case where everything fits. If the counter errors it is
//	replaced by the len/4 estimator for the remainder of the call.
//
// Thread Safety:
//
//	Fitter is stateless between calls and safe for concurrent use.
type Fitter struct {
	renderer     Renderer
	counter      TokenCounter
	binarySearch bool
}

// NewFitter creates a Fitter using counter for token measurement. A nil
// counter uses the len/4 estimator.
func NewFitter(counter TokenCounter, opts ...FitterOption) *Fitter {
	if counter == nil {
		counter = EstimateCounter{}
	}
	f := &Fitter{
		renderer:     NewExcerptRenderer(),
		counter:      counter,
		binarySearch: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type prefixMeasure struct {
	rendered string
	tokens   int
}

// Fit selects the largest prefix of excerpts that renders within
// budget tokens.
//
// Inputs:
//
//	ctx - Checked before each measurement; cancellation aborts.
//	excerpts - Candidates in descending relevance order.
//	budget - Maximum tokens. Non-positive yields an empty Result.
//
// Outputs:
//
//	*Result - Selected prefix, its rendering and token count. Empty
//	          (never nil) when not even the top candidate fits.
//	error - Non-nil only on context cancellation.
func (f *Fitter) Fit(ctx context.Context, excerpts []Excerpt, budget int) (*Result, error) {
	res := &Result{Excerpts: []Excerpt{}}
	if budget <= 0 || len(excerpts) == 0 {
		res.Complete = len(excerpts) == 0
		return res, nil
	}

	counter := f.counter
	memo := make(map[int]prefixMeasure)
	measure := func(k int) (prefixMeasure, error) {
		if m, ok := memo[k]; ok {
			return m, nil
		}
		if err := ctx.Err(); err != nil {
			return prefixMeasure{}, err
		}
		rendered := f.renderer.Render(excerpts[:k])
		res.CounterCalls++
		tokens, err := counter.Count(rendered)
		if err != nil {
			slog.Warn("token counter failed, falling back to estimator",
				slog.String("error", err.Error()))
			counter = EstimateCounter{}
			tokens, _ = counter.Count(rendered)
		}
		m := prefixMeasure{rendered: rendered, tokens: tokens}
		memo[k] = m
		return m, nil
	}

	n := len(excerpts)

	// Whole-input probe: when everything fits no search is needed.
	whole, err := measure(n)
	if err != nil {
		return nil, err
	}
	if whole.tokens <= budget {
		res.Excerpts = excerpts
		res.Rendered = whole.rendered
		res.TokenCount = whole.tokens
		res.Complete = true
		return res, nil
	}

	top, err := measure(1)
	if err != nil {
		return nil, err
	}
	if top.tokens > budget {
		return res, nil
	}

	best := 1
	if f.binarySearch {
		// Invariant: measure(lo) fits, measure(hi) does not.
		lo, hi := 1, n
		for hi-lo > 1 {
			mid := lo + (hi-lo)/2
			m, err := measure(mid)
			if err != nil {
				return nil, err
			}
			if m.tokens <= budget {
				lo = mid
			} else {
				hi = mid
			}
		}
		best = lo
	} else {
		for k := 2; k < n; k++ {
			m, err := measure(k)
			if err != nil {
				return nil, err
			}
			if m.tokens > budget {
				break
			}
			best = k
		}
	}

	final := memo[best]
	res.Excerpts = excerpts[:best]
	res.Rendered = final.rendered
	res.TokenCount = final.tokens
	return res, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fit selects the largest relevance-ranked prefix of excerpts
// whose rendered form stays within a token budget.
package fit

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTokenEncoding is the tiktoken encoding used when none is
// configured.
const DefaultTokenEncoding = "cl100k_base"

// TokenCounter counts tokens in rendered text.
type TokenCounter interface {
	// Count returns the number of tokens in text.
	Count(text string) (int, error)
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
//
// Thread Safety:
//
//	Safe for concurrent use; the underlying encoding is immutable.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTiktokenCounter loads the named encoding (for example
// "cl100k_base").
func NewTiktokenCounter(name string) (*TiktokenCounter, error) {
	if name == "" {
		name = DefaultTokenEncoding
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load token encoding %q: %w", name, err)
	}
	return &TiktokenCounter{encoding: enc, name: name}, nil
}

// Count returns the token count of text under the loaded encoding.
func (c *TiktokenCounter) Count(text string) (int, error) {
	return len(c.encoding.Encode(text, nil, nil)), nil
}

// Name returns the encoding name.
func (c *TiktokenCounter) Name() string { return c.name }

// EstimateCounter approximates tokens as len(text)/4. It is the
// fallback when a real encoding is unavailable or fails mid-run, and
// never returns an error.
type EstimateCounter struct{}

// Count returns len(text)/4.
func (EstimateCounter) Count(text string) (int, error) {
	return len(text) / 4, nil
}

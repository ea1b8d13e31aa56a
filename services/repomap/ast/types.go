// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts definition and reference tags from source files
// using tree-sitter. Extraction is file-local, stateless, and approximate:
// it produces reference signals strong enough for relevance ranking, not a
// resolved symbol table.
package ast

import (
	"errors"
	"sort"
)

// Size limits shared by all parsers.
const (
	// DefaultMaxFileSize is the largest file a parser will accept (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold above which parsers log a warning (1MB).
	WarnFileSize = 1 * 1024 * 1024
)

// Sentinel errors returned by parsers.
var (
	// ErrFileTooLarge indicates the content exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrUnsupportedFile indicates no parser is registered for the file type.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// TagKind classifies a tag as a definition or a reference.
type TagKind string

const (
	// TagDef marks a symbol definition (function, type, class, method).
	TagDef TagKind = "def"

	// TagRef marks a reference to an identifier (call site, type use).
	TagRef TagKind = "ref"
)

// Tag is a single definition or reference occurrence in a source file.
//
// Tags are immutable once produced and owned by the ParseResult that
// contains them. Line numbers are 1-based.
type Tag struct {
	// Name is the identifier text.
	Name string `json:"name"`

	// Kind is TagDef or TagRef.
	Kind TagKind `json:"kind"`

	// Line is the 1-based line number of the occurrence.
	Line int `json:"line"`
}

// ParseResult is the outcome of extracting one source file.
//
// Description:
//
//	Holds the ordered tag list for a file plus extraction status. A failed
//	extraction (syntax error, timeout, unsupported type) still yields a
//	ParseResult so the file can participate as a path-only graph node.
//
// Thread Safety: ParseResult is immutable after the parser returns it.
type ParseResult struct {
	// FilePath is the repo-relative path of the parsed file.
	FilePath string `json:"file_path"`

	// Language is the canonical language name ("go", "python", ...).
	// Empty when no parser matched the file.
	Language string `json:"language"`

	// Hash is the SHA256 hex digest of the parsed content.
	Hash string `json:"hash"`

	// Tags are the extracted definitions and references in source order.
	Tags []Tag `json:"tags"`

	// Failed is true when extraction did not produce usable tags
	// (parse failure, timeout, unsupported file). A failed file still
	// becomes a graph node but contributes no edges.
	Failed bool `json:"failed"`

	// Errors holds human-readable extraction diagnostics.
	Errors []string `json:"errors,omitempty"`
}

// Definitions returns the definition tags in source order.
func (r *ParseResult) Definitions() []Tag {
	return r.tagsOfKind(TagDef)
}

// References returns the reference tags in source order.
func (r *ParseResult) References() []Tag {
	return r.tagsOfKind(TagRef)
}

func (r *ParseResult) tagsOfKind(kind TagKind) []Tag {
	if r == nil {
		return nil
	}
	out := make([]Tag, 0, len(r.Tags))
	for _, t := range r.Tags {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// FailedResult builds the explicit failure ParseResult for a file.
//
// The coordinator uses this for timeouts and unsupported files so every
// discovered file has exactly one result.
func FailedResult(filePath, reason string) *ParseResult {
	return &ParseResult{
		FilePath: filePath,
		Failed:   true,
		Tags:     []Tag{},
		Errors:   []string{reason},
	}
}

// SortResults orders parse results by file path ascending, in place.
//
// The coordinator calls this after the parallel phase so the merged output
// is independent of worker completion order.
func SortResults(results []*ParseResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].FilePath < results[j].FilePath
	})
}

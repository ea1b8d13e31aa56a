// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser extracts tags from one language's source files.
//
// Description:
//
//	Implementations must be pure and file-local: no access to other files
//	or shared mutable state. Running Parse twice on identical content must
//	yield identical tag lists in identical order.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser instance internally.
type Parser interface {
	// Parse extracts definition and reference tags from content.
	//
	// Returns a non-nil ParseResult on success, possibly with Failed=true
	// when the source contains syntax errors. Returns an error only for
	// complete failures (size limit, invalid UTF-8, context cancellation).
	Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error)

	// Language returns the canonical language name.
	Language() string

	// Extensions returns the file extensions this parser handles,
	// including the leading dot.
	Extensions() []string
}

// Registry maps file extensions to parsers.
//
// Thread Safety: Registry is immutable after construction and safe for
// concurrent use.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry creates a Registry from the given parsers.
// Later parsers win on extension conflicts.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byExt: make(map[string]Parser)}
	for _, p := range parsers {
		for _, ext := range p.Extensions() {
			r.byExt[strings.ToLower(ext)] = p
		}
	}
	return r
}

// NewDefaultRegistry creates a Registry with all built-in parsers
// (Go, Python, JavaScript, TypeScript).
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewGoParser(),
		NewPythonParser(),
		NewJavaScriptParser(),
		NewTypeScriptParser(),
	)
}

// ParserFor returns the parser registered for the file's extension,
// or ErrUnsupportedFile when none matches.
func (r *Registry) ParserFor(filePath string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	p, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
	return p, nil
}

// Languages returns the distinct language names in the registry,
// primarily for logging.
func (r *Registry) Languages() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(r.byExt))
	for _, p := range r.byExt {
		if !seen[p.Language()] {
			seen[p.Language()] = true
			out = append(out, p.Language())
		}
	}
	return out
}

// validateContent performs the size and encoding checks shared by all
// parsers. Returns the content hash on success.
func validateContent(content []byte, maxFileSize int64) (string, error) {
	if int64(len(content)) > maxFileSize {
		return "", fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), maxFileSize)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:]), nil
}

// nodeText returns the source text of a tree-sitter node.
func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if int(end) > len(content) || start > end {
		return ""
	}
	return string(content[start:end])
}

// nodeLine returns the 1-based start line of a node.
func nodeLine(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// sameNode reports whether two nodes cover the same byte range.
// Node structs are reallocated on every Child call, so pointer equality
// cannot be used to skip a child during traversal.
func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}

// appendTag appends a tag when name is a plausible identifier.
// Single-character names and empty strings carry no ranking signal.
func appendTag(tags []Tag, name string, kind TagKind, line int) []Tag {
	if len(name) < 2 {
		return tags
	}
	return append(tags, Tag{Name: name, Kind: kind, Line: line})
}

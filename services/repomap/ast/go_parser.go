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
	"fmt"
	"log/slog"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// GoParserOption configures a GoParser instance.
type GoParserOption func(*GoParser)

// WithGoMaxFileSize sets the maximum file size the parser will accept.
func WithGoMaxFileSize(bytes int64) GoParserOption {
	return func(p *GoParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// GoParser extracts tags from Go source code.
//
// Description:
//
//	GoParser uses tree-sitter to walk the syntax tree and emit definition
//	tags for function, method, and type declarations, and reference tags
//	for call targets and type uses. The extraction is syntactic: it does
//	not resolve imports, overloads, or shadowing.
//
// Thread Safety:
//
//	GoParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser instance.
type GoParser struct {
	maxFileSize int64
}

// NewGoParser creates a GoParser with the given options.
func NewGoParser(opts ...GoParserOption) *GoParser {
	p := &GoParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts definition and reference tags from Go source.
//
// Description:
//
//	Parses the content with tree-sitter and walks the tree once. When the
//	tree contains syntax errors the result is marked Failed with no tags,
//	so the file participates in the graph as a path-only node.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing;
//     tree-sitter itself cannot be interrupted mid-parse.
//   - content: Raw Go source bytes. Must be valid UTF-8.
//   - filePath: Repo-relative path, used for reporting only.
//
// Outputs:
//   - *ParseResult: Tags in source order. Never nil on success.
//   - error: Non-nil for complete failures (ErrFileTooLarge,
//     ErrInvalidContent, context errors).
//
// Thread Safety: This method is safe for concurrent use.
func (p *GoParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	hash, err := validateContent(content, p.maxFileSize)
	if err != nil {
		return nil, err
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	result := &ParseResult{
		FilePath: filePath,
		Language: "go",
		Hash:     hash,
		Tags:     []Tag{},
	}

	root := tree.RootNode()
	if root == nil {
		result.Failed = true
		result.Errors = append(result.Errors, "tree-sitter returned nil root node")
		return result, nil
	}
	if root.HasError() {
		result.Failed = true
		result.Errors = append(result.Errors, "source contains syntax errors")
		slog.Debug("skipping tags for file with syntax errors",
			slog.String("file", filePath))
		return result, nil
	}

	result.Tags = collectGoTags(root, content, result.Tags)

	slog.Debug("parsed go file",
		slog.String("file", filePath),
		slog.Int("tags", len(result.Tags)),
		slog.Duration("duration", time.Since(start)))

	return result, nil
}

// Language returns "go".
func (p *GoParser) Language() string { return "go" }

// Extensions returns the extensions handled by this parser.
func (p *GoParser) Extensions() []string { return []string{".go"} }

// collectGoTags walks the tree depth-first and appends tags in source order.
func collectGoTags(node *sitter.Node, content []byte, tags []Tag) []Tag {
	var skip *sitter.Node

	switch node.Type() {
	case "function_declaration", "method_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			tags = appendTag(tags, nodeText(name, content), TagDef, nodeLine(name))
		}

	case "type_spec":
		// The name child is itself a type_identifier; skip it during
		// recursion so it is not also emitted as a reference.
		if name := node.ChildByFieldName("name"); name != nil {
			tags = appendTag(tags, nodeText(name, content), TagDef, nodeLine(name))
			skip = name
		}

	case "call_expression":
		if fn := node.ChildByFieldName("function"); fn != nil {
			switch fn.Type() {
			case "identifier":
				tags = appendTag(tags, nodeText(fn, content), TagRef, nodeLine(fn))
			case "selector_expression":
				if field := fn.ChildByFieldName("field"); field != nil {
					tags = appendTag(tags, nodeText(field, content), TagRef, nodeLine(field))
				}
			}
		}

	case "type_identifier":
		tags = appendTag(tags, nodeText(node, content), TagRef, nodeLine(node))
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || sameNode(child, skip) {
			continue
		}
		tags = collectGoTags(child, content, tags)
	}
	return tags
}

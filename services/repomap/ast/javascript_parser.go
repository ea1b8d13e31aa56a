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

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// JavaScriptParser extracts tags from JavaScript source code.
//
// Definitions: function declarations, class declarations, class methods,
// and variables initialized with function or arrow-function expressions.
// References: call targets, including member calls and constructor calls.
//
// Thread Safety: safe for concurrent use.
type JavaScriptParser struct {
	maxFileSize int64
}

// NewJavaScriptParser creates a JavaScriptParser with defaults.
func NewJavaScriptParser() *JavaScriptParser {
	return &JavaScriptParser{maxFileSize: DefaultMaxFileSize}
}

// Parse extracts definition and reference tags from JavaScript source.
func (p *JavaScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
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
	parser.SetLanguage(javascript.GetLanguage())

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
		Language: "javascript",
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
		return result, nil
	}

	result.Tags = collectScriptTags(root, content, result.Tags)
	return result, nil
}

// Language returns "javascript".
func (p *JavaScriptParser) Language() string { return "javascript" }

// Extensions returns the extensions handled by this parser.
func (p *JavaScriptParser) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs"}
}

// collectScriptTags walks a JavaScript tree and appends tags in source
// order. The node-type rules live in collectScriptTagsShallow, which the
// TypeScript walker shares for the grammar's common shapes.
func collectScriptTags(node *sitter.Node, content []byte, tags []Tag) []Tag {
	tags = collectScriptTagsShallow(node, content, tags)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		tags = collectScriptTags(child, content, tags)
	}
	return tags
}

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
	"github.com/smacker/go-tree-sitter/python"
)

// PythonParserOption configures a PythonParser instance.
type PythonParserOption func(*PythonParser)

// WithPythonMaxFileSize sets the maximum file size the parser will accept.
func WithPythonMaxFileSize(bytes int64) PythonParserOption {
	return func(p *PythonParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// PythonParser extracts tags from Python source code.
//
// Description:
//
//	Emits definition tags for function and class definitions (including
//	methods, which are function definitions nested in a class body) and
//	reference tags for call targets, covering both bare calls (foo()) and
//	attribute calls (obj.foo()).
//
// Thread Safety:
//
//	PythonParser instances are safe for concurrent use.
type PythonParser struct {
	maxFileSize int64
}

// NewPythonParser creates a PythonParser with the given options.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts definition and reference tags from Python source.
//
// Contract matches GoParser.Parse: a syntactically broken file yields a
// Failed result with no tags rather than an error.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
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
	parser.SetLanguage(python.GetLanguage())

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
		Language: "python",
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

	result.Tags = collectPythonTags(root, content, result.Tags)
	return result, nil
}

// Language returns "python".
func (p *PythonParser) Language() string { return "python" }

// Extensions returns the extensions handled by this parser.
func (p *PythonParser) Extensions() []string { return []string{".py", ".pyi"} }

// collectPythonTags walks the tree depth-first and appends tags in source order.
func collectPythonTags(node *sitter.Node, content []byte, tags []Tag) []Tag {
	switch node.Type() {
	case "function_definition", "class_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			tags = appendTag(tags, nodeText(name, content), TagDef, nodeLine(name))
		}

	case "call":
		if fn := node.ChildByFieldName("function"); fn != nil {
			switch fn.Type() {
			case "identifier":
				tags = appendTag(tags, nodeText(fn, content), TagRef, nodeLine(fn))
			case "attribute":
				if attr := fn.ChildByFieldName("attribute"); attr != nil {
					tags = appendTag(tags, nodeText(attr, content), TagRef, nodeLine(attr))
				}
			}
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		tags = collectPythonTags(child, content, tags)
	}
	return tags
}

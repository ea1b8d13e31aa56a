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
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TypeScriptParser extracts tags from TypeScript source code.
//
// Extends the JavaScript extraction with interface, type alias, and enum
// definitions plus type reference tags.
//
// Thread Safety: safe for concurrent use.
type TypeScriptParser struct {
	maxFileSize int64
}

// NewTypeScriptParser creates a TypeScriptParser with defaults.
func NewTypeScriptParser() *TypeScriptParser {
	return &TypeScriptParser{maxFileSize: DefaultMaxFileSize}
}

// Parse extracts definition and reference tags from TypeScript source.
func (p *TypeScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
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
	parser.SetLanguage(typescript.GetLanguage())

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
		Language: "typescript",
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

	result.Tags = collectTypeScriptTags(root, content, result.Tags)
	return result, nil
}

// Language returns "typescript".
func (p *TypeScriptParser) Language() string { return "typescript" }

// Extensions returns the extensions handled by this parser.
func (p *TypeScriptParser) Extensions() []string { return []string{".ts", ".tsx"} }

// collectTypeScriptTags handles TypeScript-only constructs and delegates
// the shared JavaScript node types to collectScriptTags per node.
func collectTypeScriptTags(node *sitter.Node, content []byte, tags []Tag) []Tag {
	var skip *sitter.Node

	switch node.Type() {
	case "interface_declaration", "type_alias_declaration", "enum_declaration":
		// The name child is a type_identifier; skip it during recursion so
		// the definition is not also emitted as a type reference.
		if name := node.ChildByFieldName("name"); name != nil {
			tags = appendTag(tags, nodeText(name, content), TagDef, nodeLine(name))
			skip = name
		}

	case "type_identifier":
		tags = appendTag(tags, nodeText(node, content), TagRef, nodeLine(node))

	case "function_declaration", "class_declaration", "method_definition",
		"generator_function_declaration", "variable_declarator",
		"call_expression", "new_expression":
		// Shared JS shapes: emit this node's tags without recursing, then
		// recurse below so nested TS constructs are still handled here.
		tags = collectScriptTagsShallow(node, content, tags)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || sameNode(child, skip) {
			continue
		}
		tags = collectTypeScriptTags(child, content, tags)
	}
	return tags
}

// collectScriptTagsShallow applies the JavaScript tag rules to a single
// node without walking its children.
func collectScriptTagsShallow(node *sitter.Node, content []byte, tags []Tag) []Tag {
	switch node.Type() {
	case "function_declaration", "class_declaration", "method_definition",
		"generator_function_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			tags = appendTag(tags, nodeText(name, content), TagDef, nodeLine(name))
		}

	case "variable_declarator":
		value := node.ChildByFieldName("value")
		if value != nil && (value.Type() == "arrow_function" || value.Type() == "function_expression" || value.Type() == "function") {
			if name := node.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				tags = appendTag(tags, nodeText(name, content), TagDef, nodeLine(name))
			}
		}

	case "call_expression":
		if fn := node.ChildByFieldName("function"); fn != nil {
			switch fn.Type() {
			case "identifier":
				tags = appendTag(tags, nodeText(fn, content), TagRef, nodeLine(fn))
			case "member_expression":
				if prop := fn.ChildByFieldName("property"); prop != nil {
					tags = appendTag(tags, nodeText(prop, content), TagRef, nodeLine(prop))
				}
			}
		}

	case "new_expression":
		if ctor := node.ChildByFieldName("constructor"); ctor != nil && ctor.Type() == "identifier" {
			tags = appendTag(tags, nodeText(ctor, content), TagRef, nodeLine(ctor))
		}
	}
	return tags
}

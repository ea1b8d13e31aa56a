// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists per-file extraction results between runs so
// unchanged files skip re-parsing. Entries are validated against a
// pluggable file fingerprint before use.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Strategy names accepted by NewStrategy.
const (
	StrategyMTime = "mtime"
	StrategyHash  = "hash"
)

// Strategy computes a change fingerprint for a file. Two fingerprints
// compare equal exactly when the strategy considers the file unchanged.
type Strategy interface {
	// Fingerprint returns the current fingerprint of root/relPath.
	Fingerprint(root, relPath string) (string, error)

	// Name returns the strategy's configuration name.
	Name() string
}

// NewStrategy returns the named fingerprint strategy. An empty name
// selects mtime.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", StrategyMTime:
		return MTimeStrategy{}, nil
	case StrategyHash:
		return HashStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown cache invalidation strategy %q", name)
	}
}

// MTimeStrategy fingerprints a file by modification time and size. It
// is cheap (one stat) but misses edits that preserve both, such as a
// same-length write within the filesystem's timestamp resolution.
type MTimeStrategy struct{}

// Fingerprint returns "mtime:{unixNano}:{size}".
func (MTimeStrategy) Fingerprint(root, relPath string) (string, error) {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", relPath, err)
	}
	return fmt.Sprintf("mtime:%d:%d", info.ModTime().UnixNano(), info.Size()), nil
}

// Name returns "mtime".
func (MTimeStrategy) Name() string { return StrategyMTime }

// HashStrategy fingerprints a file by the SHA256 of its content. It
// reads the whole file but is immune to timestamp games; use it when
// build tools rewrite files without changing them.
type HashStrategy struct{}

// Fingerprint returns "sha256:{hex digest}".
func (HashStrategy) Fingerprint(root, relPath string) (string, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", relPath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", relPath, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Name returns "hash".
func (HashStrategy) Name() string { return StrategyHash }

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/repomap/services/repomap/ast"
)

// BadgerDB key schema. Versioned (v1) so a format change cannot collide
// with old entries.
//
//	repomap:tags:v1:{projectHash}:{relPath}  → gzip(JSON(Entry))
//	repomap:atime:v1:{projectHash}:{relPath} → big-endian Unix millis
const (
	keyPrefixTags  = "repomap:tags:v1:"
	keyPrefixATime = "repomap:atime:v1:"
)

// ErrCacheMiss distinguishes an absent or invalid entry from a storage
// failure.
var ErrCacheMiss = errors.New("cache miss")

// Entry is the persisted form of one file's extraction result.
type Entry struct {
	// Fingerprint is the file fingerprint at extraction time.
	Fingerprint string `json:"fingerprint"`

	// Result is the extraction result.
	Result *ast.ParseResult `json:"result"`
}

// Store persists extraction results in BadgerDB.
//
// Description:
//
//	Entries are keyed by project hash and repo-relative path and carry
//	the fingerprint the file had when parsed; Lookup returns a miss when
//	the caller's current fingerprint differs. A corrupt entry is a miss,
//	never an error. Access times live under a separate small key so a
//	cache hit does not rewrite the compressed payload.
//
//	A nil *Store is valid and behaves as an always-miss, discard-writes
//	cache. The engine runs with a nil store when the cache directory
//	cannot be opened, for example when another process holds the badger
//	directory lock.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB transactions are per-goroutine.
type Store struct {
	db          *badger.DB
	projectHash string
}

// ProjectHash derives the key-grouping hash for a project root:
// hex(SHA256(root))[:16].
func ProjectHash(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:])[:16]
}

// Open opens (or creates) the cache store at dir for the given project
// root.
//
// Description:
//
//	A corrupt badger directory is wiped and recreated once. A directory
//	lock conflict is not wiped: the data is valid, another process owns
//	it. Callers should treat an error as a cue to run without a cache
//	(nil *Store), not as fatal.
func Open(dir, projectRoot string) (*Store, error) {
	open := func() (*badger.DB, error) {
		return badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	}

	db, err := open()
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("cache directory locked: %w", err)
		}
		// Corrupt cache directory. Recreate rather than fail the run.
		slog.Warn("cache open failed, recreating cache directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, fmt.Errorf("recreate cache dir: %w", rmErr)
		}
		db, err = open()
		if err != nil {
			return nil, fmt.Errorf("open cache after recreate: %w", err)
		}
	}

	return &Store{db: db, projectHash: ProjectHash(projectRoot)}, nil
}

func (s *Store) tagsKey(relPath string) []byte {
	return []byte(keyPrefixTags + s.projectHash + ":" + relPath)
}

func (s *Store) atimeKey(relPath string) []byte {
	return []byte(keyPrefixATime + s.projectHash + ":" + relPath)
}

func (s *Store) tagsPrefix() []byte {
	return []byte(keyPrefixTags + s.projectHash + ":")
}

// Lookup retrieves the cached result for relPath if its stored
// fingerprint matches fingerprint.
//
// Outputs:
//
//	*ast.ParseResult - The cached result on hit. Nil on miss.
//	error - ErrCacheMiss on absent, stale, or corrupt entries; other
//	        errors only on storage failure.
func (s *Store) Lookup(ctx context.Context, relPath, fingerprint string) (*ast.ParseResult, error) {
	if s == nil {
		return nil, ErrCacheMiss
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.tagsKey(relPath))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache entry: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy cache entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		slog.Warn("corrupt cache entry, treating as miss",
			slog.String("file", relPath),
			slog.String("error", err.Error()))
		return nil, ErrCacheMiss
	}
	if entry.Fingerprint != fingerprint || entry.Result == nil {
		return nil, ErrCacheMiss
	}

	s.touch(relPath)
	return entry.Result, nil
}

// Put stores the extraction result for relPath under the given
// fingerprint, replacing any previous entry.
func (s *Store) Put(ctx context.Context, relPath, fingerprint string, result *ast.ParseResult) error {
	if s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := encodeEntry(&Entry{Fingerprint: fingerprint, Result: result})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(s.tagsKey(relPath), raw); err != nil {
			return fmt.Errorf("set cache entry: %w", err)
		}
		return txn.Set(s.atimeKey(relPath), nowMillisBytes())
	})
}

// Invalidate removes relPath's entry. Removing an absent entry is a
// no-op.
func (s *Store) Invalidate(ctx context.Context, relPath string) error {
	if s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(s.tagsKey(relPath)); err != nil {
			return err
		}
		return txn.Delete(s.atimeKey(relPath))
	})
}

// Len returns the number of cached entries for this project.
func (s *Store) Len(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := s.tagsPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// PurgeMissing deletes entries for files absent from keep, removing
// files deleted from the repository since the last run.
//
// Outputs:
//
//	int - Number of entries removed.
func (s *Store) PurgeMissing(ctx context.Context, keep map[string]bool) (int, error) {
	if s == nil {
		return 0, nil
	}

	stale, err := s.collectPaths(ctx, func(relPath string) bool {
		return !keep[relPath]
	})
	if err != nil {
		return 0, err
	}
	for _, relPath := range stale {
		if err := s.Invalidate(ctx, relPath); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		slog.Debug("purged cache entries for removed files", slog.Int("count", len(stale)))
	}
	return len(stale), nil
}

// EvictToSize removes least-recently-used entries until at most
// maxEntries remain for this project.
//
// Outputs:
//
//	int - Number of entries evicted.
func (s *Store) EvictToSize(ctx context.Context, maxEntries int) (int, error) {
	if s == nil || maxEntries < 0 {
		return 0, nil
	}

	type access struct {
		relPath string
		millis  int64
	}

	var entries []access
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := s.tagsPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			relPath := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			entries = append(entries, access{relPath: relPath, millis: s.readATime(txn, relPath)})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxEntries {
		return 0, nil
	}

	// Entries with no recorded access time sort oldest.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].millis != entries[j].millis {
			return entries[i].millis < entries[j].millis
		}
		return entries[i].relPath < entries[j].relPath
	})

	evicted := 0
	for _, e := range entries[:len(entries)-maxEntries] {
		if err := s.Invalidate(ctx, e.relPath); err != nil {
			return evicted, err
		}
		evicted++
	}
	slog.Debug("evicted cache entries",
		slog.Int("evicted", evicted),
		slog.Int("remaining", maxEntries))
	return evicted, nil
}

// Flush forces pending writes to disk.
func (s *Store) Flush() error {
	if s == nil {
		return nil
	}
	return s.db.Sync()
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// touch records a best-effort access time for LRU eviction. Failures
// are ignored: a missed touch only makes the entry look older.
func (s *Store) touch(relPath string) {
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.atimeKey(relPath), nowMillisBytes())
	})
}

func (s *Store) readATime(txn *badger.Txn, relPath string) int64 {
	item, err := txn.Get(s.atimeKey(relPath))
	if err != nil {
		return 0
	}
	var millis int64
	_ = item.Value(func(val []byte) error {
		if len(val) == 8 {
			millis = int64(binary.BigEndian.Uint64(val))
		}
		return nil
	})
	return millis
}

// collectPaths returns the relPaths of entries matching the predicate.
func (s *Store) collectPaths(ctx context.Context, match func(string) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := s.tagsPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			relPath := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			if match(relPath) {
				paths = append(paths, relPath)
			}
		}
		return nil
	})
	return paths, err
}

func nowMillisBytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixMilli()))
	return buf
}

// encodeEntry serializes an Entry as gzip-compressed JSON.
func encodeEntry(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(entry); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeEntry deserializes a gzip-compressed JSON Entry.
func decodeEntry(raw []byte) (*Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decompress cache entry: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}

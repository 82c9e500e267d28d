// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists parsed file records in BadgerDB, keyed by
// content hash and configuration fingerprint. A hit returns the cached
// record without reparsing; any corruption or schema drift degrades to
// a miss, never to a failed run.
package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
)

// SchemaVersion identifies the cached record envelope format. Bump on
// any change to the FileRecord wire form; a version mismatch reads as a
// whole-cache miss.
const SchemaVersion = 1

// Key layout:
//
//	insight:file:{fingerprint}:{contentHash} -> gzip(JSON(envelope))
//	insight:path:{fingerprint}:{relPath}     -> contentHash
//
// The fingerprint is part of the key, so a config change shifts the
// entire key space and every lookup misses without any explicit flush.
const (
	filePrefix = "insight:file:"
	pathPrefix = "insight:path:"
)

// ErrClosed indicates an operation on a closed store.
var ErrClosed = errors.New("cache store is closed")

// envelope wraps a record with its schema version.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Record        *ast.FileRecord `json:"record"`
}

// Stats reports cache effectiveness counters for one store lifetime.
type Stats struct {
	Hits    int64
	Misses  int64
	Puts    int64
	Corrupt int64
}

// Store is a BadgerDB-backed record cache.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// isolation and counters are atomic.
type Store struct {
	db     *badger.DB
	closed atomic.Bool

	hits    atomic.Int64
	misses  atomic.Int64
	puts    atomic.Int64
	corrupt atomic.Int64
}

// Open opens (or creates) a cache store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening cache at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, used by tests and cache-off runs.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Get looks up a record by content hash under the given fingerprint.
//
// Outputs:
//
//	*ast.FileRecord - The cached record, or nil on miss.
//	bool - True on a hit. Corruption and schema drift count as misses.
func (s *Store) Get(fingerprint, contentHash string) (*ast.FileRecord, bool) {
	if s.closed.Load() {
		return nil, false
	}

	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(fingerprint, contentHash))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("cache read failed", slog.String("hash", contentHash), slog.Any("error", err))
		}
		s.misses.Add(1)
		return nil, false
	}

	record, err := decodeRecord(payload)
	if err != nil {
		// Corrupt or stale entry: drop it and miss.
		slog.Warn("cache entry corrupt, discarding",
			slog.String("hash", contentHash),
			slog.Any("error", err))
		s.corrupt.Add(1)
		s.misses.Add(1)
		s.deleteKey(fileKey(fingerprint, contentHash))
		return nil, false
	}

	s.hits.Add(1)
	return record, true
}

// Put stores a record under its content hash and path. Last writer wins.
func (s *Store) Put(fingerprint string, record *ast.FileRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if record == nil || record.ContentHash == "" {
		return fmt.Errorf("cannot cache record without content hash")
	}

	payload, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", record.FilePath, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(fileKey(fingerprint, record.ContentHash), payload); err != nil {
			return err
		}
		return txn.Set(pathKey(fingerprint, record.FilePath), []byte(record.ContentHash))
	})
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", record.FilePath, err)
	}
	s.puts.Add(1)
	return nil
}

// Invalidate removes the entry recorded for a path. Unknown paths are a
// no-op: invalidation is advisory.
func (s *Store) Invalidate(fingerprint, relPath string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pathKey(fingerprint, relPath))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		hash, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(fileKey(fingerprint, string(hash))); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(pathKey(fingerprint, relPath))
	})
}

// PruneStale drops every entry written under a different fingerprint.
// Entries under other fingerprints are unreachable anyway; pruning just
// reclaims the space.
func (s *Store) PruneStale(keepFingerprint string) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for _, prefix := range []string{filePrefix, pathPrefix} {
			keep := []byte(prefix + keepFingerprint + ":")
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				key := it.Item().KeyCopy(nil)
				if !bytes.HasPrefix(key, keep) {
					stale = append(stale, key)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning stale cache entries: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("pruning cache: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	if len(stale) > 0 {
		slog.Info("pruned stale cache entries", slog.Int("count", len(stale)))
	}
	return len(stale), nil
}

// Stats returns a snapshot of the hit/miss counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Puts:    s.puts.Load(),
		Corrupt: s.corrupt.Load(),
	}
}

func (s *Store) deleteKey(key []byte) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		slog.Warn("cache delete failed", slog.Any("error", err))
	}
}

func fileKey(fingerprint, contentHash string) []byte {
	return []byte(filePrefix + fingerprint + ":" + contentHash)
}

func pathKey(fingerprint, relPath string) []byte {
	return []byte(pathPrefix + fingerprint + ":" + relPath)
}

// encodeRecord serializes a record as gzip(JSON(envelope)).
func encodeRecord(record *ast.FileRecord) ([]byte, error) {
	return encodeRecordWithVersion(record, SchemaVersion)
}

func encodeRecordWithVersion(record *ast.FileRecord, version int) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(envelope{
		SchemaVersion: version,
		Record:        record,
	}); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord reverses encodeRecord, rejecting schema drift.
func decodeRecord(payload []byte) (*ast.FileRecord, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("schema version %d (want %d)", env.SchemaVersion, SchemaVersion)
	}
	if env.Record == nil {
		return nil, fmt.Errorf("decode: empty record")
	}
	if err := env.Record.Validate(); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return env.Record, nil
}

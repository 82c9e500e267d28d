// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan is the parallel map phase: it fans file parsing out over
// a bounded worker pool and merges the results deterministically. Each
// worker writes into a slot fixed by the sorted path order, so the
// merged output is identical for any worker count.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/cache"
)

// ErrFailureBudgetExceeded indicates too many files failed to parse for
// the run to be trustworthy.
var ErrFailureBudgetExceeded = errors.New("parse failure budget exceeded")

// FileFailure records one isolated per-file failure.
type FileFailure struct {
	// Path is relative to the source root.
	Path string

	// Err is always a *ast.ParseError wrapping the read or parse
	// failure, so callers can classify it with ast.IsParseError or
	// unwrap the cause with errors.As.
	Err error
}

// asParseError normalizes a per-file failure to *ast.ParseError.
func asParseError(rel string, err error) *ast.ParseError {
	var pe *ast.ParseError
	if errors.As(err, &pe) {
		return pe
	}
	return ast.NewParseError(rel, err.Error(), err)
}

// Result is the merged output of one dispatch run.
type Result struct {
	// Records holds the successfully parsed files, in sorted path order.
	Records []*ast.FileRecord

	// Failures lists excluded files, in sorted path order.
	Failures []FileFailure

	// CacheHits counts records served from the cache.
	CacheHits int

	// Elapsed is the wall-clock duration of the dispatch.
	Elapsed time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	// Workers bounds parse parallelism. Zero or negative selects
	// runtime.NumCPU().
	Workers int

	// FailureBudget is the tolerated fraction of failed files (0..1).
	FailureBudget float64

	// Fingerprint is the config fingerprint keying the cache.
	Fingerprint string

	// Store is the record cache. Nil disables caching.
	Store *cache.Store
}

// Dispatcher runs the map phase over a set of discovered files.
//
// Thread Safety: a Dispatcher is immutable after construction and safe
// for concurrent Run calls.
type Dispatcher struct {
	parser   *ast.PythonParser
	opts     Options
	inflight singleflight.Group
}

// NewDispatcher creates a Dispatcher around a parser.
func NewDispatcher(parser *ast.PythonParser, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.FailureBudget <= 0 || opts.FailureBudget >= 1 {
		opts.FailureBudget = 0.2
	}
	return &Dispatcher{parser: parser, opts: opts}
}

// Run parses every file and merges the results deterministically.
//
// Description:
//
//	Paths are sorted, then parsed concurrently with each result written
//	into the slot fixed by its sorted position. Workers share no mutable
//	state beyond their own slots. Identical content parsed concurrently
//	is deduplicated through singleflight on the content hash. Per-file
//	failures are isolated; the run fails only when the failed fraction
//	exceeds the failure budget, or when every file failed.
//
// Inputs:
//
//	ctx - Cancels outstanding parses.
//	sourceRoot - Directory the relative paths resolve against.
//	relPaths - Files to parse, relative to sourceRoot (forward slashes).
//	moduleOf - Maps a relative path to its dotted module path; files it
//	rejects are skipped silently (not importable under the layout).
//
// Outputs:
//
//	*Result - Merged records and failures in sorted path order.
//	error - ErrFailureBudgetExceeded or a context error.
func (d *Dispatcher) Run(ctx context.Context, sourceRoot string, relPaths []string, moduleOf func(string) (string, bool)) (*Result, error) {
	start := time.Now()

	paths := append([]string(nil), relPaths...)
	sort.Strings(paths)

	type slot struct {
		record  *ast.FileRecord
		failure *FileFailure
	}
	slots := make([]slot, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	// Per-slot hit markers, summed after the merge.
	cacheHits := make([]int, len(paths))

	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			module, ok := moduleOf(rel)
			if !ok {
				return nil
			}

			record, hit, err := d.parseOne(gctx, sourceRoot, rel)
			if err != nil {
				slog.Warn("file excluded from analysis",
					slog.String("path", rel),
					slog.Any("error", err))
				slots[i].failure = &FileFailure{Path: rel, Err: asParseError(rel, err)}
				return nil
			}
			record.Module = module
			slots[i].record = record
			if hit {
				cacheHits[i] = 1
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Elapsed: time.Since(start)}
	attempted := 0
	for i := range slots {
		if slots[i].record != nil {
			result.Records = append(result.Records, slots[i].record)
			attempted++
		} else if slots[i].failure != nil {
			result.Failures = append(result.Failures, *slots[i].failure)
			attempted++
		}
		result.CacheHits += cacheHits[i]
	}

	if attempted == 0 {
		return nil, fmt.Errorf("%w: no parseable files", ErrFailureBudgetExceeded)
	}
	failedFraction := float64(len(result.Failures)) / float64(attempted)
	if failedFraction > d.opts.FailureBudget {
		return nil, fmt.Errorf("%w: %d of %d files failed (budget %.0f%%)",
			ErrFailureBudgetExceeded, len(result.Failures), attempted, d.opts.FailureBudget*100)
	}

	slog.Info("dispatch complete",
		slog.Int("files", attempted),
		slog.Int("failures", len(result.Failures)),
		slog.Int("cache_hits", result.CacheHits),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

// parseOne reads, cache-checks, and parses a single file. The returned
// bool reports a cache hit.
func (d *Dispatcher) parseOne(ctx context.Context, sourceRoot, rel string) (*ast.FileRecord, bool, error) {
	abs := filepath.Join(sourceRoot, filepath.FromSlash(rel))
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, false, fmt.Errorf("reading file: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, false, fmt.Errorf("reading file: %w", err)
	}

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	if d.opts.Store != nil {
		if cached, ok := d.opts.Store.Get(d.opts.Fingerprint, contentHash); ok {
			clone := *cached
			clone.FilePath = rel
			clone.ModTimeMilli = info.ModTime().UnixMilli()
			return &clone, true, nil
		}
	}

	// Identical content appearing under several paths parses once.
	value, err, _ := d.inflight.Do(contentHash, func() (any, error) {
		return d.parser.Parse(ctx, content, rel)
	})
	if err != nil {
		return nil, false, err
	}
	shared := value.(*ast.FileRecord)

	record := *shared
	record.FilePath = rel
	record.ModTimeMilli = info.ModTime().UnixMilli()

	if d.opts.Store != nil {
		if err := d.opts.Store.Put(d.opts.Fingerprint, &record); err != nil {
			slog.Warn("cache write failed", slog.String("path", rel), slog.Any("error", err))
		}
	}
	return &record, false, nil
}

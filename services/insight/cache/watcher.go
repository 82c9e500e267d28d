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
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates cache entries as source files change on disk,
// keeping a long-lived store honest between runs.
//
// Thread Safety: Run is single-goroutine; Close may be called from any
// goroutine.
type Watcher struct {
	store       *Store
	fingerprint string
	sourceRoot  string
	fsw         *fsnotify.Watcher
}

// NewWatcher creates a watcher over sourceRoot. Subdirectories present
// at creation time are watched recursively; directories created later
// are added as their create events arrive.
func NewWatcher(store *Store, fingerprint, sourceRoot string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		store:       store,
		fingerprint: fingerprint,
		sourceRoot:  sourceRoot,
		fsw:         fsw,
	}

	err = filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				slog.Warn("watch registration failed", slog.String("dir", path), slog.Any("error", err))
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("registering watch tree: %w", err)
	}
	return w, nil
}

// Run processes filesystem events until ctx is canceled or the watcher
// is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", slog.Any("error", err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		// New directories need explicit registration.
		if err := w.fsw.Add(event.Name); err == nil {
			slog.Debug("watching new path", slog.String("path", event.Name))
		}
	}

	if !strings.HasSuffix(event.Name, ".py") {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Create) {
		return
	}

	rel, err := filepath.Rel(w.sourceRoot, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if err := w.store.Invalidate(w.fingerprint, rel); err != nil {
		slog.Warn("cache invalidation failed", slog.String("path", rel), slog.Any("error", err))
		return
	}
	slog.Debug("cache entry invalidated", slog.String("path", rel), slog.String("op", event.Op.String()))
}

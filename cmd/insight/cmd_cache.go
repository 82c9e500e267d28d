// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ProjectInsight/services/insight/cache"
	"github.com/AleutianAI/ProjectInsight/services/insight/layout"
)

// openCache opens the store for the resolved project and returns it
// with the active config fingerprint.
func openCache(root string) (*cache.Store, string) {
	cfg := loadConfig()
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		log.Fatalf("Error computing config fingerprint: %v", err)
	}

	dir := cfg.Cache.Dir
	if dir == "" {
		dir = filepath.Join(root, ".insight", "cache")
	}
	store, err := cache.Open(dir)
	if err != nil {
		log.Fatalf("Error opening cache at %s: %v", dir, err)
	}
	return store, fingerprint
}

func runCachePrune(_ *cobra.Command, args []string) {
	root := resolveProject(args)
	store, fingerprint := openCache(root)
	defer store.Close()

	pruned, err := store.PruneStale(fingerprint)
	if err != nil {
		log.Fatalf("Prune failed: %v", err)
	}
	fmt.Printf("Pruned %d stale cache entries.\n", pruned)
}

func runCacheWatch(_ *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	root := resolveProject(args)
	cfg := loadConfig()

	var override *layout.Override
	if cfg.SourceRootOverride != "" {
		override = &layout.Override{SourceRoot: cfg.SourceRootOverride}
	}
	lay, err := layout.Detect(root, override)
	if err != nil {
		log.Fatalf("Layout detection failed: %v", err)
	}

	store, fingerprint := openCache(root)
	defer store.Close()

	watcher, err := cache.NewWatcher(store, fingerprint, lay.SourceRoot)
	if err != nil {
		log.Fatalf("Error starting watcher: %v", err)
	}
	defer watcher.Close()

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", lay.SourceRoot)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Watcher stopped: %v", err)
	}
}

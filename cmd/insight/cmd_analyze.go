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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ProjectInsight/services/insight/config"
	"github.com/AleutianAI/ProjectInsight/services/insight/session"
)

// loadConfig builds the effective configuration from the config file
// and command-line overrides.
func loadConfig() *config.Analysis {
	var cfg *config.Analysis
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if workers > 0 {
		cfg.Workers = workers
	}
	if rootPackage != "" {
		cfg.RootPackage = rootPackage
	}
	if sourceRoot != "" {
		cfg.SourceRootOverride = sourceRoot
	}
	if cacheDir != "" {
		cfg.Cache.Dir = cacheDir
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	return cfg
}

// resolveProject normalizes the project path, preferring a positional
// argument over the --project flag.
func resolveProject(args []string) string {
	root := projectPath
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		log.Fatalf("Error resolving project path %q: %v", root, err)
	}
	return abs
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runAnalysis runs the full pipeline and fails the process on error.
func runAnalysis(ctx context.Context, root string) (*session.Session, *session.Result) {
	s := session.New(root, loadConfig())
	result, err := s.Run(ctx)
	if err != nil {
		s.Close()
		log.Fatalf("Analysis failed: %v", err)
	}
	return s, result
}

func runAnalyze(_ *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	root := resolveProject(args)
	s, result := runAnalysis(ctx, root)
	defer s.Close()

	top := result.Ranking
	if topN > 0 && len(top) > topN {
		top = top[:topN]
	}

	if jsonOutput {
		out := struct {
			RunID    string            `json:"run_id"`
			Stats    session.Stats     `json:"stats"`
			Warnings []session.Warning `json:"warnings,omitempty"`
			Top      []entryPointJSON  `json:"top_entry_points"`
		}{RunID: result.RunID, Stats: result.Stats, Warnings: result.Warnings}
		for _, rn := range top {
			out.Top = append(out.Top, entryPointJSON{
				Rank:  rn.Rank,
				ID:    rn.Node.ID,
				Kind:  string(rn.Node.Kind),
				Score: rn.Score,
			})
		}
		printJSON(out)
		return
	}

	fmt.Printf("Analyzed %s\n", root)
	fmt.Printf("  files: %d parsed, %d failed, %d cache hits\n",
		result.Stats.FilesParsed, result.Stats.FilesFailed, result.Stats.CacheHits)
	fmt.Printf("  graph: %d nodes, %d edges (%s)\n",
		result.Stats.Nodes, result.Stats.Edges, result.Stats.Elapsed.Round(time.Millisecond))
	if len(result.Warnings) > 0 {
		fmt.Printf("  warnings: %d (rerun with --log-level debug for details)\n", len(result.Warnings))
	}

	fmt.Println("\nWhere to start reading:")
	for _, rn := range top {
		summary := rn.Node.Summary
		if summary != "" {
			summary = "  " + summary
		}
		fmt.Printf("%3d. %-40s %.4f%s\n", rn.Rank, rn.Node.ID, rn.Score, summary)
	}
}

type entryPointJSON struct {
	Rank  int     `json:"rank"`
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Error encoding output: %v", err)
	}
}

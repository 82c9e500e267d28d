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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	logLevel    string
	quietFlag   bool
	configPath  string
	projectPath string
	cacheDir    string
	noCache     bool
	workers     int
	rootPackage string
	sourceRoot  string
	topN        int
	focusDepth  int
	outputPath  string
	jsonOutput  bool

	rootCmd = &cobra.Command{
		Use:   "insight",
		Short: "A cli to map the architecture of a Python codebase",
		Long: `Insight parses a Python project with tree-sitter, resolves its
imports and aliases into an architecture graph, links framework-mediated
relationships, and recommends where to start reading.`,
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze [project path]",
		Short: "Analyze a project and print its top entry points",
		Run:   runAnalyze, // Defined in cmd_analyze.go
	}

	focusCmd = &cobra.Command{
		Use:   "focus [node id...]",
		Short: "Extract the neighborhood subgraph around one or more nodes",
		Run:   runFocus, // Defined in cmd_focus.go
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Analyze a project and write the graph as JSON",
		Run:   runExport, // Defined in cmd_export.go
	}

	// --- Cache Management ---
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent parse cache",
	}
	cachePruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete cache entries left behind by older configurations",
		Run:   runCachePrune, // Defined in cmd_cache.go
	}
	cacheWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch the project and invalidate cache entries as files change",
		Run:   runCacheWatch, // Defined in cmd_cache.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an insight.yaml configuration file")
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", ".", "Project root to analyze")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: <project>/.insight/cache)")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Disable the parse cache for this run")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Parse parallelism (0 = all CPUs)")
	rootCmd.PersistentFlags().StringVar(&rootPackage, "root-package", "", "Restrict analysis to one top-level package")
	rootCmd.PersistentFlags().StringVar(&sourceRoot, "source-root", "", "Force the source root instead of probing the layout")

	analyzeCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of entry points to print")
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	focusCmd.Flags().IntVarP(&focusDepth, "depth", "d", 0, "Expansion depth (0 = configured default)")
	focusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: stdout)")

	cacheCmd.AddCommand(cachePruneCmd, cacheWatchCmd)
	rootCmd.AddCommand(analyzeCmd, focusCmd, exportCmd, cacheCmd)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout discovers how a Python project arranges its source tree
// before any file is parsed: whether packages live under src/, flat at
// the repository root, or as multiple sibling top-level packages. The
// resulting Context fixes the mapping from file paths to dotted module
// paths for the rest of the pipeline.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind classifies the detected project layout.
type Kind string

const (
	// KindSrc is the src/ nested layout (packages under <root>/src).
	KindSrc Kind = "src"

	// KindFlat is a flat layout with packages at the repository root.
	KindFlat Kind = "flat"
)

// MinViableFraction is the smallest fraction of files that must map to a
// recognized module path for a layout interpretation to be considered
// viable. Below this under every interpretation, detection fails.
const MinViableFraction = 0.5

// Directories never descended into during discovery.
var skipDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".tox":          true,
	".venv":         true,
	"venv":          true,
	"env":           true,
	"node_modules":  true,
	"__pycache__":   true,
	".mypy_cache":   true,
	".ruff_cache":   true,
	".pytest_cache": true,
	"build":         true,
	"dist":          true,
	".eggs":         true,
}

// ErrLayoutAmbiguous indicates the project structure could not be
// determined. Fatal unless the caller supplies an explicit override.
var ErrLayoutAmbiguous = errors.New("project layout is ambiguous")

// Context is the detected shape of one project.
type Context struct {
	// ProjectRoot is the absolute path handed to Detect.
	ProjectRoot string

	// SourceRoot is the directory module paths are computed from. Equal
	// to ProjectRoot for flat layouts, ProjectRoot/src for src layouts.
	SourceRoot string

	// RootPackages are the top-level importable package names, sorted.
	RootPackages []string

	// Kind is the detected layout kind.
	Kind Kind

	// Files are the discovered Python file paths, relative to SourceRoot
	// with forward slashes, sorted.
	Files []string

	// EntryPoints are console-script targets declared in pyproject.toml,
	// as dotted "module.attr" references, sorted.
	EntryPoints []string
}

// Override forces detection decisions instead of probing.
type Override struct {
	// SourceRoot, when set, is used verbatim (relative to project root
	// or absolute) and suppresses ErrLayoutAmbiguous.
	SourceRoot string
}

// Detect probes a project root and returns its layout context.
//
// Description:
//
//	Prefers <root>/src when it exists and contains at least one package
//	or module; otherwise treats the root as flat. Top-level packages are
//	directories containing __init__.py plus root-level single-file
//	modules. Detection fails with ErrLayoutAmbiguous only when no
//	interpretation maps at least MinViableFraction of discovered files
//	to a module path; an Override bypasses probing entirely.
//
// Inputs:
//
//	root - Project root directory.
//	override - Optional forced decisions. May be nil.
//
// Outputs:
//
//	*Context - The detected layout. Never nil on success.
//	error - ErrLayoutAmbiguous, or an I/O error from walking the tree.
func Detect(root string, override *Override) (*Context, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("reading project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", absRoot)
	}

	if override != nil && override.SourceRoot != "" {
		srcRoot := override.SourceRoot
		if !filepath.IsAbs(srcRoot) {
			srcRoot = filepath.Join(absRoot, srcRoot)
		}
		ctx, err := buildContext(absRoot, srcRoot)
		if err != nil {
			return nil, err
		}
		ctx.Kind = KindFlat
		if filepath.Base(srcRoot) == "src" {
			ctx.Kind = KindSrc
		}
		slog.Info("layout override in effect",
			slog.String("source_root", srcRoot),
			slog.Int("files", len(ctx.Files)))
		return ctx, nil
	}

	// Probe src/ first; a populated src layout wins over flat.
	srcDir := filepath.Join(absRoot, "src")
	if dirHasPython(srcDir) {
		ctx, err := buildContext(absRoot, srcDir)
		if err == nil && viable(ctx) {
			ctx.Kind = KindSrc
			logDetected(ctx)
			return ctx, nil
		}
	}

	ctx, err := buildContext(absRoot, absRoot)
	if err != nil {
		return nil, err
	}
	if !viable(ctx) {
		return nil, fmt.Errorf("%w: %d files found under %s but no interpretation maps %.0f%% of them to modules",
			ErrLayoutAmbiguous, len(ctx.Files), absRoot, MinViableFraction*100)
	}
	ctx.Kind = KindFlat
	logDetected(ctx)
	return ctx, nil
}

func logDetected(ctx *Context) {
	slog.Info("project layout detected",
		slog.String("kind", string(ctx.Kind)),
		slog.String("source_root", ctx.SourceRoot),
		slog.Int("files", len(ctx.Files)),
		slog.Int("root_packages", len(ctx.RootPackages)))
}

// buildContext walks sourceRoot collecting files and top-level packages.
func buildContext(projectRoot, sourceRoot string) (*Context, error) {
	info, err := os.Stat(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("reading source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", sourceRoot)
	}

	ctx := &Context{
		ProjectRoot: projectRoot,
		SourceRoot:  sourceRoot,
	}

	packages := make(map[string]bool)

	err = filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable subtrees are skipped, not fatal.
			slog.Warn("skipping unreadable path", slog.String("path", path), slog.Any("error", walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != sourceRoot && (skipDirs[name] || strings.HasSuffix(name, ".egg-info")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".py") {
			return nil
		}
		rel, relErr := filepath.Rel(sourceRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		ctx.Files = append(ctx.Files, rel)

		segments := strings.Split(rel, "/")
		if len(segments) == 1 {
			// Root-level single-file module.
			if name != "__init__.py" && name != "setup.py" && name != "conftest.py" {
				packages[strings.TrimSuffix(name, ".py")] = true
			}
			return nil
		}
		// A directory is a package when it holds __init__.py.
		if _, statErr := os.Stat(filepath.Join(sourceRoot, segments[0], "__init__.py")); statErr == nil {
			packages[segments[0]] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking source root: %w", err)
	}

	sort.Strings(ctx.Files)
	for pkg := range packages {
		ctx.RootPackages = append(ctx.RootPackages, pkg)
	}
	sort.Strings(ctx.RootPackages)

	if eps, err := readEntryPoints(projectRoot); err != nil {
		slog.Warn("pyproject.toml not readable", slog.Any("error", err))
	} else {
		ctx.EntryPoints = eps
	}

	return ctx, nil
}

// viable reports whether enough files map to module paths under this
// interpretation.
func viable(ctx *Context) bool {
	if len(ctx.Files) == 0 {
		return false
	}
	mapped := 0
	for _, f := range ctx.Files {
		if _, ok := ctx.ModulePath(f); ok {
			mapped++
		}
	}
	return float64(mapped)/float64(len(ctx.Files)) >= MinViableFraction
}

// ModulePath converts a source-root-relative file path to its dotted
// module path. pkg/sub/__init__.py maps to "pkg.sub". Returns false for
// files that are not importable under the detected layout (for example
// scripts in directories without __init__.py when packages exist).
func (c *Context) ModulePath(relPath string) (string, bool) {
	if !strings.HasSuffix(relPath, ".py") {
		return "", false
	}
	trimmed := strings.TrimSuffix(relPath, ".py")
	segments := strings.Split(trimmed, "/")

	if segments[len(segments)-1] == "__init__" {
		segments = segments[:len(segments)-1]
		if len(segments) == 0 {
			return "", false
		}
	}

	// Files inside a recognized root package, or bare root-level modules,
	// are importable. Everything else (loose scripts in plain dirs) is not.
	if len(segments) > 1 {
		found := false
		for _, pkg := range c.RootPackages {
			if segments[0] == pkg {
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}
	return strings.Join(segments, "."), true
}

// dirHasPython reports whether dir directly contains a .py file or a
// package directory.
func dirHasPython(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".py") {
			return true
		}
		if e.IsDir() && !skipDirs[e.Name()] {
			if _, err := os.Stat(filepath.Join(dir, e.Name(), "__init__.py")); err == nil {
				return true
			}
		}
	}
	return false
}

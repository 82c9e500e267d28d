// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session orchestrates one complete analysis run: layout
// detection, the parallel parse, symbol resolution, semantic linking,
// and ranking, producing a frozen graph and its derived views.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/cache"
	"github.com/AleutianAI/ProjectInsight/services/insight/config"
	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
	"github.com/AleutianAI/ProjectInsight/services/insight/index"
	"github.com/AleutianAI/ProjectInsight/services/insight/layout"
	"github.com/AleutianAI/ProjectInsight/services/insight/recommend"
	"github.com/AleutianAI/ProjectInsight/services/insight/scan"
	"github.com/AleutianAI/ProjectInsight/services/insight/semantics"
)

var tracer = otel.Tracer("insight.session")

// Warning is a non-fatal condition surfaced to the caller instead of
// being buried in logs.
type Warning struct {
	// Stage names the pipeline phase that produced the warning.
	Stage string

	// Path is the file involved, when one applies.
	Path string

	// Message describes the condition.
	Message string
}

// Stats summarizes one run.
type Stats struct {
	FilesDiscovered int
	FilesParsed     int
	FilesFailed     int
	CacheHits       int
	Nodes           int
	Edges           int
	GraphHash       string
	Elapsed         time.Duration
}

// Result is the output of a completed run.
type Result struct {
	// RunID identifies this run in logs and traces.
	RunID string

	// Layout is the detected project shape.
	Layout *layout.Context

	// Graph is the frozen architecture graph.
	Graph *graph.Graph

	// Index is the symbol lookup built over the graph.
	Index *index.SymbolIndex

	// Ranking lists candidate nodes by importance, best first.
	Ranking []recommend.RankedNode

	// Warnings collects non-fatal conditions, in pipeline order.
	Warnings []Warning

	// Stats summarizes the run.
	Stats Stats
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithCacheStore supplies an externally managed cache store. The
// session will not close it.
func WithCacheStore(store *cache.Store) Option {
	return func(s *Session) {
		s.store = store
		s.ownsStore = false
	}
}

// Session runs the analysis pipeline over one project.
//
// Thread Safety: NOT safe for concurrent Run calls; create one Session
// per run.
type Session struct {
	id          string
	projectRoot string
	cfg         *config.Analysis
	logger      *slog.Logger

	store     *cache.Store
	ownsStore bool
}

// New creates a Session for a project root.
//
// Description:
//
//	Normalizes the configuration and, when caching is enabled and no
//	store was supplied, opens the BadgerDB store under the configured
//	directory (default: <root>/.insight/cache). A cache that fails to
//	open degrades to a warning at Run time rather than failing the
//	session.
//
// Inputs:
//
//	projectRoot - Directory of the project to analyze.
//	cfg - Analysis configuration. Nil selects config.Default().
//	opts - Optional overrides.
func New(projectRoot string, cfg *config.Analysis, opts ...Option) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Normalize()

	s := &Session{
		id:          uuid.NewString(),
		projectRoot: projectRoot,
		cfg:         cfg,
		logger:      slog.Default(),
		ownsStore:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID returns the unique identifier of this session.
func (s *Session) RunID() string {
	return s.id
}

// Close releases the cache store when the session owns it.
func (s *Session) Close() error {
	if s.store == nil || !s.ownsStore {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

// Run executes the full pipeline.
//
// Description:
//
//	Phases run in order: detect layout, parse files in parallel,
//	resolve symbols into a graph, apply semantic link passes, freeze,
//	then rank. Per-file parse failures and resolution conflicts become
//	Warnings; the run fails only on ambiguous layout, an exceeded
//	failure budget, or cancellation.
//
// Outputs:
//
//	*Result - The frozen graph and derived views.
//	error - layout.ErrLayoutAmbiguous, scan.ErrFailureBudgetExceeded,
//	or a context error.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Session.Run",
		trace.WithAttributes(
			attribute.String("run_id", s.id),
			attribute.String("project_root", s.projectRoot),
		),
	)
	defer span.End()

	logger := s.logger.With(slog.String("run_id", s.id))
	result := &Result{RunID: s.id}

	lay, err := s.detect(ctx, logger)
	if err != nil {
		return nil, err
	}
	result.Layout = lay
	result.Stats.FilesDiscovered = len(lay.Files)

	scanned, err := s.dispatch(ctx, logger, lay, result)
	if err != nil {
		return nil, err
	}
	result.Stats.FilesParsed = len(scanned.Records)
	result.Stats.FilesFailed = len(scanned.Failures)
	result.Stats.CacheHits = scanned.CacheHits

	g, res, err := s.resolve(ctx, logger, lay, scanned.Records, result)
	if err != nil {
		return nil, err
	}

	if err := s.link(ctx, res, scanned.Records); err != nil {
		return nil, err
	}

	g.Freeze()
	result.Graph = g
	result.Index = index.Build(g)
	result.Stats.Nodes = g.NodeCount()
	result.Stats.Edges = g.EdgeCount()
	result.Stats.GraphHash = g.Hash()

	engine := recommend.NewEngine(g, s.cfg.Recommend, lay.EntryPoints)
	result.Ranking = engine.Rank(ctx)

	result.Stats.Elapsed = time.Since(start)
	logger.Info("analysis complete",
		slog.Int("nodes", result.Stats.Nodes),
		slog.Int("edges", result.Stats.Edges),
		slog.Int("warnings", len(result.Warnings)),
		slog.Duration("elapsed", result.Stats.Elapsed))
	span.SetAttributes(
		attribute.Int("nodes", result.Stats.Nodes),
		attribute.Int("edges", result.Stats.Edges),
	)
	return result, nil
}

// Propose returns an exploration subgraph for a completed run.
func (s *Session) Propose(ctx context.Context, result *Result) (*recommend.Subgraph, error) {
	if result == nil || result.Graph == nil {
		return nil, fmt.Errorf("propose requires a completed run")
	}
	engine := recommend.NewEngine(result.Graph, s.cfg.Recommend, result.Layout.EntryPoints)
	return engine.Propose(ctx)
}

// detect runs layout detection with the configured override.
func (s *Session) detect(ctx context.Context, logger *slog.Logger) (*layout.Context, error) {
	_, span := tracer.Start(ctx, "Session.detect")
	defer span.End()

	var override *layout.Override
	if s.cfg.SourceRootOverride != "" {
		override = &layout.Override{SourceRoot: s.cfg.SourceRootOverride}
	}
	lay, err := layout.Detect(s.projectRoot, override)
	if err != nil {
		return nil, err
	}
	logger.Info("layout detected",
		slog.String("kind", string(lay.Kind)),
		slog.Int("files", len(lay.Files)),
		slog.Any("root_packages", lay.RootPackages))
	return lay, nil
}

// dispatch runs the parallel parse phase.
func (s *Session) dispatch(ctx context.Context, logger *slog.Logger, lay *layout.Context, result *Result) (*scan.Result, error) {
	ctx, span := tracer.Start(ctx, "Session.dispatch")
	defer span.End()

	fingerprint, err := s.cfg.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("config fingerprint: %w", err)
	}

	store := s.store
	if store == nil && s.cfg.Cache.Enabled {
		store, err = cache.Open(s.cacheDir())
		if err != nil {
			result.Warnings = append(result.Warnings, Warning{
				Stage:   "cache",
				Message: fmt.Sprintf("cache disabled for this run: %v", err),
			})
			logger.Warn("cache open failed", slog.Any("error", err))
		} else {
			s.store = store
		}
	}

	dispatcher := scan.NewDispatcher(ast.NewPythonParser(), scan.Options{
		Workers:       s.cfg.Workers,
		FailureBudget: s.cfg.FailureBudget,
		Fingerprint:   fingerprint,
		Store:         store,
	})

	scanned, err := dispatcher.Run(ctx, lay.SourceRoot, lay.Files, s.moduleFilter(lay))
	if err != nil {
		return nil, err
	}
	for _, failure := range scanned.Failures {
		result.Warnings = append(result.Warnings, Warning{
			Stage:   "parse",
			Path:    failure.Path,
			Message: failure.Err.Error(),
		})
	}
	return scanned, nil
}

// moduleFilter maps relative paths to module paths, restricted to the
// configured root package when one is set.
func (s *Session) moduleFilter(lay *layout.Context) func(string) (string, bool) {
	root := s.cfg.RootPackage
	return func(rel string) (string, bool) {
		module, ok := lay.ModulePath(rel)
		if !ok {
			return "", false
		}
		if root != "" && module != root && !strings.HasPrefix(module, root+".") {
			return "", false
		}
		return module, true
	}
}

// resolve runs the reduce phase and converts conflicts to warnings.
func (s *Session) resolve(ctx context.Context, logger *slog.Logger, lay *layout.Context, records []*ast.FileRecord, result *Result) (*graph.Graph, *graph.Resolution, error) {
	_, span := tracer.Start(ctx, "Session.resolve")
	defer span.End()

	g, res, conflicts := graph.NewResolver(lay).Resolve(records, s.projectRoot)
	for _, conflict := range conflicts {
		result.Warnings = append(result.Warnings, Warning{
			Stage:   "resolve",
			Path:    conflict.LoserPath,
			Message: conflict.Error(),
		})
		logger.Warn("duplicate qualified name",
			slog.String("name", conflict.QualifiedName),
			slog.String("winner", conflict.WinnerPath),
			slog.String("loser", conflict.LoserPath))
	}
	return g, res, nil
}

// link runs the semantic passes.
func (s *Session) link(ctx context.Context, res *graph.Resolution, records []*ast.FileRecord) error {
	ctx, span := tracer.Start(ctx, "Session.link")
	defer span.End()
	return semantics.NewEngine(s.cfg, res).Run(ctx, records)
}

// cacheDir resolves the cache directory for this project.
func (s *Session) cacheDir() string {
	if s.cfg.Cache.Dir != "" {
		return s.cfg.Cache.Dir
	}
	return filepath.Join(s.projectRoot, ".insight", "cache")
}

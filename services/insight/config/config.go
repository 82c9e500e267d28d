// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the analysis configuration: IoC link rules,
// concept-flow seeds, dynamic-behavior rules, ranking parameters, and
// the cache fingerprint derived from all of it.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/hashstructure/v2"
	"gopkg.in/yaml.v3"
)

// Defaults for analysis parameters.
const (
	// DefaultFailureBudget is the tolerated fraction of per-file parse
	// failures before a run aborts.
	DefaultFailureBudget = 0.2

	// DefaultConceptFlowMaxDepth bounds the concept-flow fixed point.
	DefaultConceptFlowMaxDepth = 10

	// DefaultDamping is the PageRank damping factor.
	DefaultDamping = 0.85

	// DefaultEpsilon is the PageRank convergence threshold.
	DefaultEpsilon = 1e-6

	// DefaultMaxIterations caps PageRank power iterations.
	DefaultMaxIterations = 100

	// DefaultNodeCeiling is the focus-subgraph size ceiling.
	DefaultNodeCeiling = 500

	// DefaultFocusDepth is the initial bidirectional expansion depth.
	DefaultFocusDepth = 2

	// DefaultMinFocusNodes is the smallest useful focus subgraph.
	DefaultMinFocusNodes = 10

	// DefaultMaxSearchDepth caps focus expansion when growing a
	// too-small subgraph.
	DefaultMaxSearchDepth = 7
)

// MatchTarget selects what a dynamic-behavior rule side matches on.
type MatchTarget string

const (
	// MatchTargetCall matches call sites by callee pattern.
	MatchTargetCall MatchTarget = "call"

	// MatchTargetFunctionEntry matches function definitions by decorator
	// pattern.
	MatchTargetFunctionEntry MatchTarget = "function_entry"
)

// LinkRule configures one IoC pattern pass.
type LinkRule struct {
	// Name identifies the rule in warnings and edge labels.
	Name string `yaml:"name"`

	// Kind selects the pass: inherits, decorates, proxies, registers,
	// injects, or uses.
	Kind string `yaml:"kind"`

	// Patterns are path.Match-style globs applied to the dotted name the
	// pass inspects (decorator name, callee, base class).
	Patterns []string `yaml:"patterns,omitempty"`
}

// ConceptFlow configures concept-instance tracking.
type ConceptFlow struct {
	// Seeds are explicit "module.attr" concept origins.
	Seeds []string `yaml:"seeds,omitempty"`

	// AutoDiscover also seeds module-level names bound to a direct
	// instantiation.
	AutoDiscover bool `yaml:"auto_discover"`

	// ExcludePatterns filters auto-discovered seeds by glob on the
	// qualified name.
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`

	// MaxDepth bounds the propagation fixed point.
	MaxDepth int `yaml:"max_depth"`
}

// MatchSpec is one side of a dynamic-behavior rule.
type MatchSpec struct {
	// Target selects call sites or decorated function entries.
	Target MatchTarget `yaml:"target"`

	// Pattern is a glob matched against the callee or decorator name.
	Pattern string `yaml:"pattern"`

	// KeyArg selects where the correlation key comes from: a keyword
	// argument name, or empty for the first positional string.
	KeyArg string `yaml:"key_arg,omitempty"`
}

// DynamicRule joins producers and consumers sharing a correlation key.
type DynamicRule struct {
	// Name labels the resulting edges.
	Name string `yaml:"name"`

	// Producer matches the emitting side (send_task, signal.send, ...).
	Producer MatchSpec `yaml:"producer"`

	// Consumer matches the handling side (shared_task, signal.connect, ...).
	Consumer MatchSpec `yaml:"consumer"`
}

// Recommend configures ranking and subgraph extraction.
type Recommend struct {
	Damping       float64 `yaml:"damping"`
	Epsilon       float64 `yaml:"epsilon"`
	MaxIterations int     `yaml:"max_iterations"`

	// TestPatterns are globs on module paths excluded from ranking.
	TestPatterns []string `yaml:"test_patterns,omitempty"`

	// EntryPointPatterns are module-path globs granted a heuristic bonus.
	EntryPointPatterns []string `yaml:"entry_point_patterns,omitempty"`

	NodeCeiling    int `yaml:"node_ceiling"`
	FocusDepth     int `yaml:"focus_depth"`
	MinFocusNodes  int `yaml:"min_focus_nodes"`
	MaxSearchDepth int `yaml:"max_search_depth"`
}

// Cache configures the persistent record cache.
type Cache struct {
	// Enabled toggles the cache entirely.
	Enabled bool `yaml:"enabled"`

	// Dir is the BadgerDB directory. Empty selects a per-project default.
	Dir string `yaml:"dir,omitempty"`
}

// Analysis is the complete validated configuration for one run.
type Analysis struct {
	// RootPackage restricts analysis to one top-level package. Empty
	// analyzes everything the layout detector finds.
	RootPackage string `yaml:"root_package,omitempty"`

	// SourceRootOverride forces the source root instead of probing.
	SourceRootOverride string `yaml:"source_root,omitempty"`

	// Workers is the parse parallelism. Zero means runtime.NumCPU().
	Workers int `yaml:"workers"`

	// FailureBudget is the tolerated fraction of per-file failures.
	FailureBudget float64 `yaml:"failure_budget"`

	// ProxyFactories are callee names treated as lazy proxy constructors.
	ProxyFactories []string `yaml:"proxy_factories,omitempty"`

	Rules        []LinkRule    `yaml:"rules,omitempty"`
	ConceptFlow  ConceptFlow   `yaml:"concept_flow"`
	DynamicRules []DynamicRule `yaml:"dynamic_rules,omitempty"`
	Recommend    Recommend     `yaml:"recommend"`
	Cache        Cache         `yaml:"cache"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Analysis {
	cfg := &Analysis{
		FailureBudget:  DefaultFailureBudget,
		ProxyFactories: []string{"LocalProxy", "LocalStack", "werkzeug.local.LocalProxy", "werkzeug.local.LocalStack"},
		ConceptFlow: ConceptFlow{
			AutoDiscover:    true,
			ExcludePatterns: []string{"*.test_*", "*.tests.*", "*.conftest"},
			MaxDepth:        DefaultConceptFlowMaxDepth,
		},
		DynamicRules: []DynamicRule{
			{
				Name:     "task-queue",
				Producer: MatchSpec{Target: MatchTargetCall, Pattern: "*send_task"},
				Consumer: MatchSpec{Target: MatchTargetFunctionEntry, Pattern: "*shared_task", KeyArg: "name"},
			},
			{
				Name:     "signal",
				Producer: MatchSpec{Target: MatchTargetCall, Pattern: "*.send"},
				Consumer: MatchSpec{Target: MatchTargetCall, Pattern: "*.connect"},
			},
		},
		Recommend: Recommend{
			Damping:            DefaultDamping,
			Epsilon:            DefaultEpsilon,
			MaxIterations:      DefaultMaxIterations,
			TestPatterns:       []string{"*test*", "conftest*"},
			EntryPointPatterns: []string{"*.main", "*.cli", "*.app", "*.__main__", "manage", "*.wsgi", "*.asgi"},
			NodeCeiling:        DefaultNodeCeiling,
			FocusDepth:         DefaultFocusDepth,
			MinFocusNodes:      DefaultMinFocusNodes,
			MaxSearchDepth:     DefaultMaxSearchDepth,
		},
		Cache: Cache{Enabled: true},
	}
	return cfg
}

// Load reads a YAML configuration file and normalizes it. Unset numeric
// fields fall back to defaults.
func Load(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Analysis{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills zero-valued fields with defaults and validates ranges.
func (c *Analysis) Normalize() {
	def := Default()
	if c.FailureBudget <= 0 || c.FailureBudget >= 1 {
		c.FailureBudget = def.FailureBudget
	}
	if len(c.ProxyFactories) == 0 {
		c.ProxyFactories = def.ProxyFactories
	}
	if c.ConceptFlow.MaxDepth <= 0 {
		c.ConceptFlow.MaxDepth = def.ConceptFlow.MaxDepth
	}
	if len(c.ConceptFlow.ExcludePatterns) == 0 {
		c.ConceptFlow.ExcludePatterns = def.ConceptFlow.ExcludePatterns
	}
	if c.Recommend.Damping <= 0 || c.Recommend.Damping >= 1 {
		c.Recommend.Damping = def.Recommend.Damping
	}
	if c.Recommend.Epsilon <= 0 {
		c.Recommend.Epsilon = def.Recommend.Epsilon
	}
	if c.Recommend.MaxIterations <= 0 {
		c.Recommend.MaxIterations = def.Recommend.MaxIterations
	}
	if len(c.Recommend.TestPatterns) == 0 {
		c.Recommend.TestPatterns = def.Recommend.TestPatterns
	}
	if len(c.Recommend.EntryPointPatterns) == 0 {
		c.Recommend.EntryPointPatterns = def.Recommend.EntryPointPatterns
	}
	if c.Recommend.NodeCeiling <= 0 {
		c.Recommend.NodeCeiling = def.Recommend.NodeCeiling
	}
	if c.Recommend.FocusDepth <= 0 {
		c.Recommend.FocusDepth = def.Recommend.FocusDepth
	}
	if c.Recommend.MinFocusNodes <= 0 {
		c.Recommend.MinFocusNodes = def.Recommend.MinFocusNodes
	}
	if c.Recommend.MaxSearchDepth <= 0 {
		c.Recommend.MaxSearchDepth = def.Recommend.MaxSearchDepth
	}
	if len(c.DynamicRules) == 0 {
		c.DynamicRules = def.DynamicRules
	}
}

// Fingerprint returns a stable hex digest of every setting that affects
// parse or analysis output. Two configs with the same fingerprint
// produce interchangeable cached records; a changed fingerprint
// invalidates the whole cache key space.
//
// Workers and Cache settings are excluded: they change how fast the run
// goes, not what it produces.
func (c *Analysis) Fingerprint() (string, error) {
	fingerprinted := struct {
		RootPackage    string
		SourceRoot     string
		FailureBudget  float64
		ProxyFactories []string
		Rules          []LinkRule
		ConceptFlow    ConceptFlow
		DynamicRules   []DynamicRule
		Recommend      Recommend
	}{
		RootPackage:    c.RootPackage,
		SourceRoot:     c.SourceRootOverride,
		FailureBudget:  c.FailureBudget,
		ProxyFactories: c.ProxyFactories,
		Rules:          c.Rules,
		ConceptFlow:    c.ConceptFlow,
		DynamicRules:   c.DynamicRules,
		Recommend:      c.Recommend,
	}
	sum, err := hashstructure.Hash(fingerprinted, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("fingerprinting config: %w", err)
	}
	return fmt.Sprintf("%016x", sum), nil
}

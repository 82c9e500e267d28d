// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recommend

import (
	"context"
	"path"

	"github.com/AleutianAI/ProjectInsight/services/insight/config"
	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

// Heuristic bonuses layered on top of PageRank. Scores are relative;
// the bonuses are scaled to the uniform initial score so they matter
// on small graphs without drowning link structure on large ones.
const (
	bonusEntryPattern = 0.5
	bonusMainBlock    = 0.75
	bonusDeclaredEP   = 1.0
)

// Engine ranks a frozen graph and proposes entry points.
//
// Thread Safety: safe for concurrent use after construction.
type Engine struct {
	g   *graph.Graph
	cfg config.Recommend

	// declaredEntryPoints are pyproject-declared "module.attr" targets.
	declaredEntryPoints map[string]bool
}

// NewEngine creates an Engine over a frozen graph.
func NewEngine(g *graph.Graph, cfg config.Recommend, declaredEntryPoints []string) *Engine {
	declared := make(map[string]bool, len(declaredEntryPoints))
	for _, ep := range declaredEntryPoints {
		declared[ep] = true
	}
	return &Engine{g: g, cfg: cfg, declaredEntryPoints: declared}
}

// Rank scores every candidate node.
//
// Description:
//
//	PageRank provides the base score; heuristic bonuses reward nodes
//	whose module path matches an entry-point pattern, modules carrying a
//	__main__ guard, and pyproject-declared entry points. External nodes,
//	private definitions, and test modules are not candidates. Ties
//	break by out-degree then lexical ID, so the ranking is total.
func (e *Engine) Rank(ctx context.Context) []RankedNode {
	result := PageRank(ctx, e.g, &PageRankOptions{
		DampingFactor: e.cfg.Damping,
		MaxIterations: e.cfg.MaxIterations,
		Convergence:   e.cfg.Epsilon,
	})

	nodes := e.g.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	unit := 1.0 / float64(len(nodes))

	ranked := make([]RankedNode, 0, len(nodes))
	for _, node := range nodes {
		if !e.candidate(node) {
			continue
		}
		score := result.Scores[node.ID]
		if matchAnyGlob(e.cfg.EntryPointPatterns, node.ID) {
			score += bonusEntryPattern * unit
		}
		if node.HasMain {
			score += bonusMainBlock * unit
		}
		if e.declaredEntryPoints[node.ID] || e.declaredModule(node) {
			score += bonusDeclaredEP * unit
		}
		ranked = append(ranked, RankedNode{Node: node, Score: score})
	}
	sortRanked(ranked)
	return ranked
}

// TopEntryPoints returns the k best starting nodes.
func (e *Engine) TopEntryPoints(ctx context.Context, k int) []RankedNode {
	ranked := e.Rank(ctx)
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// candidate reports whether a node participates in ranking.
func (e *Engine) candidate(node *graph.Node) bool {
	if node.External || node.Private {
		return false
	}
	if matchAnyGlob(e.cfg.TestPatterns, node.Module) || matchAnyGlob(e.cfg.TestPatterns, node.ID) {
		return false
	}
	return true
}

// declaredModule reports whether a module node hosts a declared entry
// point ("pkg.cli" hosts "pkg.cli.main").
func (e *Engine) declaredModule(node *graph.Node) bool {
	if node.Kind != graph.NodeKindModule {
		return false
	}
	for ep := range e.declaredEntryPoints {
		if len(ep) > len(node.ID) && ep[:len(node.ID)] == node.ID && ep[len(node.ID)] == '.' {
			return true
		}
	}
	return false
}

// matchAnyGlob applies path.Match globs against a dotted name.
func matchAnyGlob(patterns []string, name string) bool {
	if name == "" {
		return false
	}
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

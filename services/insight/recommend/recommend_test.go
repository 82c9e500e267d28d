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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/config"
	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

func addNode(t *testing.T, g *graph.Graph, node *graph.Node) {
	t.Helper()
	_, err := g.AddNode(node)
	require.NoError(t, err)
}

func addEdge(t *testing.T, g *graph.Graph, from, to string) {
	t.Helper()
	_, err := g.AddEdge(from, to, graph.EdgeTypeUses, "", ast.Location{})
	require.NoError(t, err)
}

// hubGraph builds a small graph where "hub" receives edges from every
// leaf and therefore dominates PageRank.
func hubGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph("/project")
	addNode(t, g, &graph.Node{ID: "pkg.hub", Kind: graph.NodeKindModule, Module: "pkg.hub"})
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("pkg.leaf%d", i)
		addNode(t, g, &graph.Node{ID: id, Kind: graph.NodeKindModule, Module: id})
		addEdge(t, g, id, "pkg.hub")
	}
	g.Freeze()
	return g
}

func testEngine(g *graph.Graph) *Engine {
	cfg := config.Default().Recommend
	return NewEngine(g, cfg, nil)
}

func TestPageRank_HubDominates(t *testing.T) {
	g := hubGraph(t)
	result := PageRank(context.Background(), g, nil)

	require.True(t, result.Converged)
	for i := 0; i < 4; i++ {
		leaf := fmt.Sprintf("pkg.leaf%d", i)
		assert.Greater(t, result.Scores["pkg.hub"], result.Scores[leaf])
	}

	total := 0.0
	for _, s := range result.Scores {
		total += s
	}
	assert.InDelta(t, 1.0, total, 0.01, "scores sum to ~1")
}

func TestPageRank_EmptyGraph(t *testing.T) {
	g := graph.NewGraph("/project")
	g.Freeze()
	result := PageRank(context.Background(), g, nil)
	assert.True(t, result.Converged)
	assert.Empty(t, result.Scores)
}

func TestPageRank_Deterministic(t *testing.T) {
	a := PageRank(context.Background(), hubGraph(t), nil)
	b := PageRank(context.Background(), hubGraph(t), nil)
	assert.Equal(t, a.Scores, b.Scores)
	assert.Equal(t, a.Iterations, b.Iterations)
}

func TestRank_ExcludesExternalPrivateAndTests(t *testing.T) {
	g := graph.NewGraph("/project")
	addNode(t, g, &graph.Node{ID: "pkg.app", Kind: graph.NodeKindModule, Module: "pkg.app"})
	addNode(t, g, &graph.Node{ID: "flask", Kind: graph.NodeKindModule, External: true})
	addNode(t, g, &graph.Node{ID: "pkg.app._Helper", Kind: graph.NodeKindClass, Module: "pkg.app", Private: true})
	addNode(t, g, &graph.Node{ID: "pkg.test_app", Kind: graph.NodeKindModule, Module: "pkg.test_app"})
	g.Freeze()

	ranked := testEngine(g).Rank(context.Background())
	require.Len(t, ranked, 1)
	assert.Equal(t, "pkg.app", ranked[0].Node.ID)
}

func TestRank_LexicalTieBreak(t *testing.T) {
	g := graph.NewGraph("/project")
	for _, id := range []string{"pkg.zeta", "pkg.beta", "pkg.alpha"} {
		addNode(t, g, &graph.Node{ID: id, Kind: graph.NodeKindModule, Module: id})
	}
	g.Freeze()

	ranked := testEngine(g).Rank(context.Background())
	require.Len(t, ranked, 3)
	assert.Equal(t, "pkg.alpha", ranked[0].Node.ID)
	assert.Equal(t, "pkg.beta", ranked[1].Node.ID)
	assert.Equal(t, "pkg.zeta", ranked[2].Node.ID)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 3, ranked[2].Rank)
}

func TestRank_HeuristicBonuses(t *testing.T) {
	g := graph.NewGraph("/project")
	addNode(t, g, &graph.Node{ID: "pkg.util", Kind: graph.NodeKindModule, Module: "pkg.util"})
	addNode(t, g, &graph.Node{ID: "pkg.cli", Kind: graph.NodeKindModule, Module: "pkg.cli", HasMain: true})
	g.Freeze()

	engine := NewEngine(g, config.Default().Recommend, []string{"pkg.cli.main"})
	ranked := engine.Rank(context.Background())
	require.Len(t, ranked, 2)
	assert.Equal(t, "pkg.cli", ranked[0].Node.ID,
		"entry-point pattern + __main__ + declared entry point outrank a plain module")
}

func TestTopEntryPoints_Limit(t *testing.T) {
	ranked := testEngine(hubGraph(t)).TopEntryPoints(context.Background(), 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "pkg.hub", ranked[0].Node.ID)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recommend ranks graph nodes by transitive importance and
// proposes entry points and focus subgraphs for exploring a codebase
// too large to read whole.
package recommend

import (
	"context"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

var tracer = otel.Tracer("insight.recommend")

// PageRank configuration constants.
const (
	// DefaultDampingFactor is the probability of following a link (vs
	// random jump). Standard value from the original PageRank paper.
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations is the maximum iterations before stopping.
	DefaultMaxIterations = 100

	// DefaultConvergence is the threshold for convergence detection.
	// Power iteration stops when max score change < this value.
	DefaultConvergence = 1e-6
)

// PageRankOptions configures the PageRank computation.
type PageRankOptions struct {
	// DampingFactor must be in [0, 1]. Default: 0.85
	DampingFactor float64

	// MaxIterations must be > 0. Default: 100
	MaxIterations int

	// Convergence must be > 0. Default: 1e-6
	Convergence float64
}

// Validate applies defaults for invalid values.
func (o *PageRankOptions) Validate() {
	if o.DampingFactor <= 0 || o.DampingFactor >= 1 {
		o.DampingFactor = DefaultDampingFactor
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Convergence <= 0 {
		o.Convergence = DefaultConvergence
	}
}

// DefaultPageRankOptions returns sensible defaults.
func DefaultPageRankOptions() *PageRankOptions {
	return &PageRankOptions{
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Convergence:   DefaultConvergence,
	}
}

// PageRankResult contains the output of one PageRank computation.
type PageRankResult struct {
	// Scores maps node ID to score. Scores sum to approximately 1.0.
	Scores map[string]float64

	// Iterations is the number of power iterations performed.
	Iterations int

	// Converged indicates convergence before MaxIterations.
	Converged bool

	// MaxDiff is the final maximum score difference.
	MaxDiff float64
}

// PageRank computes scores for every node in a frozen graph.
//
// Description:
//
//	Power iteration with sink redistribution: nodes with no outgoing
//	edges spread their score evenly so rank does not leak. The node
//	iteration order is the graph's sorted order, so identical graphs
//	produce bitwise-identical scores.
//
// Thread Safety: safe for concurrent use on a frozen graph.
//
// Complexity: O(k × E) where k = iterations to converge (~20 typical).
func PageRank(ctx context.Context, g *graph.Graph, opts *PageRankOptions) *PageRankResult {
	ctx, span := tracer.Start(ctx, "PageRank",
		trace.WithAttributes(
			attribute.Int("node_count", g.NodeCount()),
			attribute.Int("edge_count", g.EdgeCount()),
		),
	)
	defer span.End()

	n := float64(g.NodeCount())
	if n == 0 {
		span.AddEvent("empty_graph")
		return &PageRankResult{Scores: make(map[string]float64), Converged: true}
	}

	if opts == nil {
		opts = DefaultPageRankOptions()
	} else {
		opts.Validate()
	}
	d := opts.DampingFactor

	nodes := g.Nodes()
	scores := make(map[string]float64, len(nodes))
	next := make(map[string]float64, len(nodes))

	initial := 1.0 / n
	outDegree := make(map[string]int, len(nodes))
	var sinks []string
	for _, node := range nodes {
		scores[node.ID] = initial
		outDegree[node.ID] = len(node.Outgoing)
		if len(node.Outgoing) == 0 {
			sinks = append(sinks, node.ID)
		}
	}

	var iterations int
	var converged bool
	var maxDiff float64

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(attribute.Int("iterations_completed", iter)))
			return &PageRankResult{Scores: scores, Iterations: iter, MaxDiff: maxDiff}
		}

		maxDiff = 0.0

		sinkContribution := 0.0
		for _, id := range sinks {
			sinkContribution += scores[id]
		}
		sinkContribution = d * sinkContribution / n

		for _, node := range nodes {
			newScore := (1-d)/n + sinkContribution
			for _, edge := range node.Incoming {
				if deg := outDegree[edge.FromID]; deg > 0 {
					newScore += d * scores[edge.FromID] / float64(deg)
				}
			}
			next[node.ID] = newScore
			if diff := math.Abs(newScore - scores[node.ID]); diff > maxDiff {
				maxDiff = diff
			}
		}

		scores, next = next, scores
		iterations = iter + 1

		if maxDiff < opts.Convergence {
			converged = true
			break
		}
	}

	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", converged),
	)
	return &PageRankResult{
		Scores:     scores,
		Iterations: iterations,
		Converged:  converged,
		MaxDiff:    maxDiff,
	}
}

// RankedNode pairs a node with its score for ordered output.
type RankedNode struct {
	// Node is the ranked graph node.
	Node *graph.Node

	// Score is the combined ranking score.
	Score float64

	// Rank is the 1-indexed position.
	Rank int
}

// sortRanked orders by score descending, ties broken by out-degree
// descending, then lexically by ID so ranking is total and stable.
func sortRanked(ranked []RankedNode) {
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		di, dj := len(ranked[i].Node.Outgoing), len(ranked[j].Node.Outgoing)
		if di != dj {
			return di > dj
		}
		return ranked[i].Node.ID < ranked[j].Node.ID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
}

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
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

// ErrSubgraphTooLarge indicates no depth produced a subgraph under the
// node ceiling. Callers should treat it as a structured condition and
// offer narrower entry points, not as a crash.
var ErrSubgraphTooLarge = errors.New("focus subgraph exceeds node ceiling")

// Subgraph is an extracted neighborhood of the graph.
type Subgraph struct {
	// Entries are the seed node IDs, sorted.
	Entries []string

	// NodeIDs are the member node IDs, sorted.
	NodeIDs []string

	// Edges are the member-to-member edges, in graph order.
	Edges []*graph.Edge

	// Depth is the expansion depth actually used.
	Depth int

	// Degraded is true when the requested depth was reduced to honor
	// the node ceiling.
	Degraded bool
}

// FocusSubgraph extracts the neighborhood of the entry nodes.
//
// Description:
//
//	Bidirectional breadth-first expansion from the entries: both
//	incoming and outgoing edges extend the frontier, because callers
//	exploring a component care about dependents as much as
//	dependencies. If the result at the requested depth exceeds the
//	configured node ceiling the depth is decremented and the expansion
//	retried; reaching depth zero without fitting yields
//	ErrSubgraphTooLarge.
//
// Inputs:
//
//	entries - Seed node IDs. Unknown IDs are ignored; at least one must
//	exist.
//	depth - Requested expansion depth. Non-positive selects the
//	configured default.
//
// Outputs:
//
//	*Subgraph - The extracted neighborhood.
//	error - ErrSubgraphTooLarge, or an error for unusable entries.
func (e *Engine) FocusSubgraph(entries []string, depth int) (*Subgraph, error) {
	seeds := make([]string, 0, len(entries))
	for _, id := range entries {
		if _, ok := e.g.GetNode(id); ok {
			seeds = append(seeds, id)
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no usable entry nodes among %d given", len(entries))
	}
	sort.Strings(seeds)

	if depth <= 0 {
		depth = e.cfg.FocusDepth
	}

	requested := depth
	for d := depth; d >= 0; d-- {
		members := e.expand(seeds, d)
		if len(members) > e.cfg.NodeCeiling {
			continue
		}
		if d < requested {
			slog.Info("focus depth degraded to honor node ceiling",
				slog.Int("requested", requested),
				slog.Int("used", d),
				slog.Int("nodes", len(members)))
		}
		return e.assemble(seeds, members, d, d < requested), nil
	}
	return nil, fmt.Errorf("%w: %d entries still exceed %d nodes at depth 0",
		ErrSubgraphTooLarge, len(seeds), e.cfg.NodeCeiling)
}

// Propose returns a subgraph sized for a first look at the project.
//
// Description:
//
//	When the whole graph fits under the ceiling it is returned as-is.
//	Otherwise the top-ranked entry point seeds a focus subgraph at the
//	default depth; a too-small result grows the depth up to the search
//	limit until it reaches the minimum useful size.
func (e *Engine) Propose(ctx context.Context) (*Subgraph, error) {
	all := e.g.Nodes()
	if len(all) <= e.cfg.NodeCeiling {
		ids := make([]string, len(all))
		for i, n := range all {
			ids[i] = n.ID
		}
		return e.assemble(nil, toSet(ids), 0, false), nil
	}

	top := e.TopEntryPoints(ctx, 1)
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: no ranked entry point to focus on", ErrSubgraphTooLarge)
	}
	seed := top[0].Node.ID

	sub, err := e.FocusSubgraph([]string{seed}, e.cfg.FocusDepth)
	if err != nil {
		return nil, err
	}

	// Grow a too-small neighborhood before giving up on usefulness.
	for depth := sub.Depth + 1; len(sub.NodeIDs) < e.cfg.MinFocusNodes && depth <= e.cfg.MaxSearchDepth; depth++ {
		grown, err := e.FocusSubgraph([]string{seed}, depth)
		if err != nil {
			break
		}
		if len(grown.NodeIDs) <= len(sub.NodeIDs) {
			break
		}
		sub = grown
	}
	return sub, nil
}

// expand runs the bounded bidirectional BFS.
func (e *Engine) expand(seeds []string, depth int) map[string]bool {
	members := toSet(seeds)
	frontier := append([]string(nil), seeds...)

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			node, ok := e.g.GetNode(id)
			if !ok {
				continue
			}
			for _, edge := range node.Outgoing {
				if !members[edge.ToID] {
					members[edge.ToID] = true
					next = append(next, edge.ToID)
				}
			}
			for _, edge := range node.Incoming {
				if !members[edge.FromID] {
					members[edge.FromID] = true
					next = append(next, edge.FromID)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return members
}

// assemble builds the Subgraph value from a member set.
func (e *Engine) assemble(seeds []string, members map[string]bool, depth int, degraded bool) *Subgraph {
	sub := &Subgraph{
		Entries:  seeds,
		Depth:    depth,
		Degraded: degraded,
	}
	for id := range members {
		sub.NodeIDs = append(sub.NodeIDs, id)
	}
	sort.Strings(sub.NodeIDs)
	for _, edge := range e.g.Edges() {
		if members[edge.FromID] && members[edge.ToID] {
			sub.Edges = append(sub.Edges, edge)
		}
	}
	return sub
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

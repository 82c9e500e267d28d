// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides fast lookup over a frozen architecture graph:
// exact qualified names, bare names, and nearest-enclosing public
// component resolution.
package index

import (
	"sort"
	"strings"

	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

// SymbolIndex is a read-only lookup table over a frozen graph.
//
// Thread Safety: safe for concurrent reads after construction.
type SymbolIndex struct {
	byID   map[string]*graph.Node
	byName map[string][]*graph.Node
}

// Build constructs a SymbolIndex from a frozen graph.
func Build(g *graph.Graph) *SymbolIndex {
	idx := &SymbolIndex{
		byID:   make(map[string]*graph.Node),
		byName: make(map[string][]*graph.Node),
	}
	for _, node := range g.Nodes() {
		idx.byID[node.ID] = node
		name := node.ID
		if dot := strings.LastIndex(name, "."); dot >= 0 {
			name = name[dot+1:]
		}
		idx.byName[name] = append(idx.byName[name], node)
	}
	// Nodes() is sorted, so each name bucket is already in ID order;
	// keep that explicit for readers.
	for name := range idx.byName {
		bucket := idx.byName[name]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].ID < bucket[j].ID })
	}
	return idx
}

// Lookup returns the node with the exact qualified name.
func (idx *SymbolIndex) Lookup(id string) (*graph.Node, bool) {
	node, ok := idx.byID[id]
	return node, ok
}

// LookupName returns all nodes whose bare name matches, sorted by ID.
func (idx *SymbolIndex) LookupName(name string) []*graph.Node {
	return idx.byName[name]
}

// ComponentOf resolves a qualified name to its nearest enclosing public
// component: the name itself when it is a public class or module, else
// the closest prefix that is. Private helpers collapse onto the public
// surface above them.
func (idx *SymbolIndex) ComponentOf(id string) (*graph.Node, bool) {
	current := id
	for {
		if node, ok := idx.byID[current]; ok {
			if !node.Private && (node.Kind == graph.NodeKindClass || node.Kind == graph.NodeKindModule) {
				return node, true
			}
		}
		dot := strings.LastIndex(current, ".")
		if dot < 0 {
			return nil, false
		}
		current = current[:dot]
	}
}

// Size returns the number of indexed nodes.
func (idx *SymbolIndex) Size() int {
	return len(idx.byID)
}

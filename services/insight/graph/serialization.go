// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
)

// SerializationVersion identifies the serialized graph format.
const SerializationVersion = 1

// SerializableNode is the wire form of a Node (no adjacency pointers).
type SerializableNode struct {
	ID       string       `json:"id"`
	Kind     NodeKind     `json:"kind"`
	Module   string       `json:"module,omitempty"`
	Layer    string       `json:"layer,omitempty"`
	Summary  string       `json:"summary,omitempty"`
	Private  bool         `json:"private,omitempty"`
	External bool         `json:"external,omitempty"`
	HasMain  bool         `json:"has_main,omitempty"`
	Location ast.Location `json:"location,omitempty"`
}

// SerializableEdge is the wire form of an Edge.
type SerializableEdge struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	Type     string       `json:"type"`
	Label    string       `json:"label,omitempty"`
	Location ast.Location `json:"location,omitempty"`
}

// SerializableGraph is the canonical wire form of a Graph. Nodes are
// sorted by ID and edges by (from, to, type), so serializing the same
// graph twice yields identical bytes.
type SerializableGraph struct {
	Version     int                `json:"version"`
	ProjectRoot string             `json:"project_root"`
	Nodes       []SerializableNode `json:"nodes"`
	Edges       []SerializableEdge `json:"edges"`
}

// ToSerializable converts the graph to its canonical wire form.
func (g *Graph) ToSerializable() *SerializableGraph {
	sg := &SerializableGraph{
		Version:     SerializationVersion,
		ProjectRoot: g.ProjectRoot,
		Nodes:       make([]SerializableNode, 0, len(g.nodes)),
		Edges:       make([]SerializableEdge, 0, len(g.edges)),
	}
	for _, node := range g.Nodes() {
		sg.Nodes = append(sg.Nodes, SerializableNode{
			ID:       node.ID,
			Kind:     node.Kind,
			Module:   node.Module,
			Layer:    node.Layer,
			Summary:  node.Summary,
			Private:  node.Private,
			External: node.External,
			HasMain:  node.HasMain,
			Location: node.Location,
		})
	}
	for _, edge := range g.Edges() {
		sg.Edges = append(sg.Edges, SerializableEdge{
			From:     edge.FromID,
			To:       edge.ToID,
			Type:     edge.Type.String(),
			Label:    edge.Label,
			Location: edge.Location,
		})
	}
	return sg
}

// FromSerializable reconstructs a frozen graph from its wire form.
func FromSerializable(sg *SerializableGraph) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("nil serializable graph")
	}
	if sg.Version != SerializationVersion {
		return nil, fmt.Errorf("unsupported graph version %d (want %d)", sg.Version, SerializationVersion)
	}

	g := NewGraph(sg.ProjectRoot)
	for i := range sg.Nodes {
		n := &sg.Nodes[i]
		if _, err := g.AddNode(&Node{
			ID:       n.ID,
			Kind:     n.Kind,
			Module:   n.Module,
			Layer:    n.Layer,
			Summary:  n.Summary,
			Private:  n.Private,
			External: n.External,
			HasMain:  n.HasMain,
			Location: n.Location,
		}); err != nil {
			return nil, fmt.Errorf("restoring node %s: %w", n.ID, err)
		}
	}
	for i := range sg.Edges {
		e := &sg.Edges[i]
		if _, err := g.AddEdge(e.From, e.To, EdgeTypeFromString(e.Type), e.Label, e.Location); err != nil {
			return nil, fmt.Errorf("restoring edge %s->%s: %w", e.From, e.To, err)
		}
	}
	g.Freeze()
	return g, nil
}

// Hash returns the SHA-256 hex digest of the graph's canonical
// structure: one line per node and per edge, in deterministic order.
// Two runs over identical input produce identical hashes; locations
// participate so a moved definition changes the hash.
func (g *Graph) Hash() string {
	h := sha256.New()
	var sb strings.Builder
	for _, node := range g.Nodes() {
		sb.Reset()
		fmt.Fprintf(&sb, "n\t%s\t%s\t%s\t%t\t%t\t%s:%d\n",
			node.ID, node.Kind, node.Layer, node.Private, node.External,
			node.Location.FilePath, node.Location.StartLine)
		h.Write([]byte(sb.String()))
	}
	for _, edge := range g.Edges() {
		sb.Reset()
		fmt.Fprintf(&sb, "e\t%s\t%s\t%s\t%s\n",
			edge.FromID, edge.ToID, edge.Type, edge.Label)
		h.Write([]byte(sb.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

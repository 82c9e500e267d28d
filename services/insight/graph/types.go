// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the architecture graph: modules, classes, and
// functions as nodes, structural and semantic relationships as edges.
// The graph is built single-writer by the resolver and the semantic
// engine, then frozen for concurrent read-only querying.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
)

// Default graph capacity limits.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxEdges is the default maximum number of edges a graph can hold.
	DefaultMaxEdges = 10_000_000
)

// State represents the lifecycle state of the graph.
type State int

const (
	// StateBuilding indicates the graph is accepting AddNode/AddEdge calls.
	StateBuilding State = iota

	// StateReadOnly indicates the graph is frozen and read-only.
	StateReadOnly
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// NodeKind classifies a graph node.
type NodeKind string

const (
	// NodeKindModule is a Python module or package.
	NodeKindModule NodeKind = "module"

	// NodeKindClass is a class definition.
	NodeKindClass NodeKind = "class"

	// NodeKindFunction is a function or method definition.
	NodeKindFunction NodeKind = "function"
)

// EdgeType defines the type of relationship between nodes.
type EdgeType int

const (
	// EdgeTypeUnknown indicates an unrecognized relationship type.
	EdgeTypeUnknown EdgeType = iota

	// EdgeTypeImports indicates a module imports another module or name.
	EdgeTypeImports

	// EdgeTypeInherits indicates a class inherits from another class.
	EdgeTypeInherits

	// EdgeTypeDecorates indicates a decorator wraps a definition.
	EdgeTypeDecorates

	// EdgeTypeProxies indicates a lazy indirection object standing in for
	// a component.
	EdgeTypeProxies

	// EdgeTypeRegisters indicates a component enrolled in a registry
	// collection.
	EdgeTypeRegisters

	// EdgeTypeInjects indicates a dependency handed to a constructor.
	EdgeTypeInjects

	// EdgeTypeUses indicates a direct instantiation or call relationship.
	EdgeTypeUses

	// EdgeTypeConceptFlow indicates a tracked concept instance reaching a
	// component through assignments.
	EdgeTypeConceptFlow

	// EdgeTypeDynamicBehavior indicates a producer/consumer pair joined by
	// a correlation key (task queues, signals, string-keyed dispatch).
	EdgeTypeDynamicBehavior

	// NumEdgeTypes is the total number of edge types (for array sizing).
	NumEdgeTypes
)

// edgeTypeNames maps EdgeType values to their string representations.
var edgeTypeNames = map[EdgeType]string{
	EdgeTypeUnknown:         "unknown",
	EdgeTypeImports:         "imports",
	EdgeTypeInherits:        "inherits",
	EdgeTypeDecorates:       "decorates",
	EdgeTypeProxies:         "proxies",
	EdgeTypeRegisters:       "registers",
	EdgeTypeInjects:         "injects",
	EdgeTypeUses:            "uses",
	EdgeTypeConceptFlow:     "concept-flow",
	EdgeTypeDynamicBehavior: "dynamic-behavior",
}

// String returns the string representation of the EdgeType.
func (t EdgeType) String() string {
	if name, ok := edgeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// EdgeTypeFromString parses the string form of an EdgeType.
func EdgeTypeFromString(s string) EdgeType {
	for t, name := range edgeTypeNames {
		if name == s {
			return t
		}
	}
	return EdgeTypeUnknown
}

// Edge represents a directed relationship between two nodes.
//
// At most one edge exists per (FromID, ToID, Type) triple. Re-adding the
// same triple returns the existing edge so a later pass can refine its
// Label.
type Edge struct {
	// FromID is the qualified name of the source node.
	FromID string

	// ToID is the qualified name of the target node.
	ToID string

	// Type is the relationship type.
	Type EdgeType

	// Label carries the rule name or correlation key for semantic edges.
	// Empty for structural edges.
	Label string

	// Location is where the relationship is expressed in code.
	Location ast.Location
}

// Node represents one module, class, or function in the graph.
type Node struct {
	// ID is the fully qualified dotted name, unique across the graph.
	ID string

	// Kind classifies the node.
	Kind NodeKind

	// Module is the dotted module path owning this node. Equal to ID for
	// module nodes; empty for external nodes of unknown origin.
	Module string

	// Layer is the top-level package segment of the module path.
	Layer string

	// Summary is the first line of the docstring, or empty.
	Summary string

	// Private reports the leading-underscore naming convention.
	Private bool

	// External marks a node referenced by the project but defined outside
	// it (third-party or stdlib).
	External bool

	// HasMain reports a module-level __main__ guard (module nodes only).
	HasMain bool

	// Location is the definition site. Zero for external nodes.
	Location ast.Location

	// Outgoing contains edges where this node is the source.
	Outgoing []*Edge

	// Incoming contains edges where this node is the target.
	Incoming []*Edge
}

// Graph is the architecture graph for one analyzed project.
//
// Thread Safety:
//
//	Graph is NOT safe for concurrent use during building. It is designed
//	for single-writer access during build, then read-only after Freeze().
//	After Freeze() the graph can be read from multiple goroutines.
//
// Lifecycle:
//
//  1. Create with NewGraph(projectRoot)
//  2. Build with AddNode() and AddEdge() calls
//  3. Call Freeze() to finalize
//  4. Query with GetNode(), Nodes(), Edges()
type Graph struct {
	// ProjectRoot is the absolute path to the analyzed project.
	ProjectRoot string

	nodes map[string]*Node
	edges []*Edge

	// edgeIndex deduplicates edges on (from, to, type).
	edgeIndex map[edgeKey]*Edge

	// nodesByName maps bare names to node IDs sharing that name.
	nodesByName map[string][]string

	state   State
	maxNode int
	maxEdge int

	// BuiltAtMilli is the Unix timestamp in milliseconds when Freeze()
	// was called. Zero if the graph has not been frozen.
	BuiltAtMilli int64
}

type edgeKey struct {
	from string
	to   string
	typ  EdgeType
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) GraphOption {
	return func(g *Graph) {
		if n > 0 {
			g.maxNode = n
		}
	}
}

// WithMaxEdges sets the maximum number of edges the graph can hold.
func WithMaxEdges(n int) GraphOption {
	return func(g *Graph) {
		if n > 0 {
			g.maxEdge = n
		}
	}
}

// NewGraph creates an empty graph in the Building state.
func NewGraph(projectRoot string, opts ...GraphOption) *Graph {
	g := &Graph{
		ProjectRoot: projectRoot,
		nodes:       make(map[string]*Node),
		edges:       make([]*Edge, 0),
		edgeIndex:   make(map[edgeKey]*Edge),
		nodesByName: make(map[string][]string),
		state:       StateBuilding,
		maxNode:     DefaultMaxNodes,
		maxEdge:     DefaultMaxEdges,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current lifecycle state of the graph.
func (g *Graph) State() State {
	return g.state
}

// IsFrozen returns true if the graph is in read-only mode.
func (g *Graph) IsFrozen() bool {
	return g.state == StateReadOnly
}

// Freeze transitions the graph to read-only mode. Irreversible.
func (g *Graph) Freeze() {
	g.state = StateReadOnly
	g.BuiltAtMilli = time.Now().UnixMilli()
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// AddNode adds a node to the graph.
//
// Outputs:
//
//	*Node - The stored node. If a node with the same ID already exists,
//	the existing node is returned unchanged and no error is raised; the
//	resolver handles duplicate qualified names before this point.
//	error - ErrGraphFrozen, ErrGraphFull, or ErrInvalidNode.
func (g *Graph) AddNode(node *Node) (*Node, error) {
	if g.state != StateBuilding {
		return nil, ErrGraphFrozen
	}
	if node == nil || node.ID == "" {
		return nil, ErrInvalidNode
	}
	if existing, ok := g.nodes[node.ID]; ok {
		return existing, nil
	}
	if len(g.nodes) >= g.maxNode {
		return nil, fmt.Errorf("%w: node limit %d reached", ErrGraphFull, g.maxNode)
	}

	g.nodes[node.ID] = node
	if name := bareName(node.ID); name != "" {
		g.nodesByName[name] = append(g.nodesByName[name], node.ID)
	}
	return node, nil
}

// AddEdge adds a directed edge between two existing nodes.
//
// Description:
//
//	Idempotent on the (from, to, type) triple: re-adding returns the
//	existing edge so a later pass can relabel it. Both endpoints must
//	already exist.
//
// Outputs:
//
//	*Edge - The stored (or pre-existing) edge.
//	error - ErrGraphFrozen, ErrGraphFull, or ErrUnknownNode.
func (g *Graph) AddEdge(fromID, toID string, typ EdgeType, label string, loc ast.Location) (*Edge, error) {
	if g.state != StateBuilding {
		return nil, ErrGraphFrozen
	}
	from, ok := g.nodes[fromID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, toID)
	}

	key := edgeKey{from: fromID, to: toID, typ: typ}
	if existing, ok := g.edgeIndex[key]; ok {
		return existing, nil
	}
	if len(g.edges) >= g.maxEdge {
		return nil, fmt.Errorf("%w: edge limit %d reached", ErrGraphFull, g.maxEdge)
	}

	edge := &Edge{FromID: fromID, ToID: toID, Type: typ, Label: label, Location: loc}
	g.edges = append(g.edges, edge)
	g.edgeIndex[key] = edge
	from.Outgoing = append(from.Outgoing, edge)
	to.Incoming = append(to.Incoming, edge)
	return edge, nil
}

// GetNode returns the node with the given qualified name.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// GetEdge returns the edge for the given (from, to, type) triple.
func (g *Graph) GetEdge(fromID, toID string, typ EdgeType) (*Edge, bool) {
	edge, ok := g.edgeIndex[edgeKey{from: fromID, to: toID, typ: typ}]
	return edge, ok
}

// NodesByName returns the IDs of nodes whose bare name matches, sorted.
func (g *Graph) NodesByName(name string) []string {
	ids := append([]string(nil), g.nodesByName[name]...)
	sort.Strings(ids)
	return ids
}

// Nodes returns all nodes sorted by ID. The order is deterministic for
// identical graphs.
func (g *Graph) Nodes() []*Node {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// Edges returns all edges sorted by (from, to, type). The order is
// deterministic for identical graphs.
func (g *Graph) Edges() []*Edge {
	edges := append([]*Edge(nil), g.edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromID != edges[j].FromID {
			return edges[i].FromID < edges[j].FromID
		}
		if edges[i].ToID != edges[j].ToID {
			return edges[i].ToID < edges[j].ToID
		}
		return edges[i].Type < edges[j].Type
	})
	return edges
}

// bareName returns the last dotted segment of a qualified name.
func bareName(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '.' {
			return id[i+1:]
		}
	}
	return id
}

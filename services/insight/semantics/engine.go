// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semantics turns per-file facts into the relationship edges a
// dynamically typed, decorator-heavy codebase hides from the import
// graph: inheritance, decoration, registries, lazy proxies, injected
// dependencies, tracked concept flow, and string-correlated dynamic
// dispatch. The engine only adds edges; the resolver owns all nodes.
package semantics

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/config"
	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

var tracer = otel.Tracer("insight.semantics")

// Decorators that restate Python semantics rather than wire components.
var builtinDecorators = map[string]bool{
	"property":        true,
	"staticmethod":    true,
	"classmethod":     true,
	"functools.wraps": true,
	"wraps":           true,
	"overload":        true,
	"typing.overload": true,
}

// Engine runs the ordered semantic passes over a record set.
//
// Thread Safety: NOT safe for concurrent use; run once per analysis
// between resolve and freeze.
type Engine struct {
	cfg *config.Analysis
	res *graph.Resolution

	// holders maps a module-level binding ("pkg.mod.app") to the project
	// component it holds, discovered from direct instantiations. Shared
	// by the proxy pass and concept flow.
	holders map[string]string
}

// NewEngine creates an Engine over a resolved record set.
func NewEngine(cfg *config.Analysis, res *graph.Resolution) *Engine {
	return &Engine{
		cfg:     cfg,
		res:     res,
		holders: make(map[string]string),
	}
}

// Run executes every pass in deterministic order. Records must be the
// same slice the resolver consumed; Run sorts its own copy by path so
// edge discovery order is stable.
func (e *Engine) Run(ctx context.Context, records []*ast.FileRecord) error {
	ctx, span := tracer.Start(ctx, "Engine.Run",
		trace.WithAttributes(attribute.Int("files", len(records))))
	defer span.End()

	sorted := append([]*ast.FileRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FilePath < sorted[j].FilePath })

	e.collectHolders(sorted)

	passes := []struct {
		name string
		run  func([]*ast.FileRecord)
	}{
		{"inheritance", e.passInheritance},
		{"decoration", e.passDecoration},
		{"registration", e.passRegistration},
		{"proxies", e.passProxies},
		{"injection", e.passInjection},
		{"rules", e.passRules},
		{"concept-flow", e.passConceptFlow},
		{"dynamic-behavior", e.passDynamic},
	}
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return err
		}
		before := e.res.Graph().EdgeCount()
		pass.run(sorted)
		slog.Debug("semantic pass complete",
			slog.String("pass", pass.name),
			slog.Int("edges_added", e.res.Graph().EdgeCount()-before))
	}
	return nil
}

// collectHolders records which component each module-level name holds.
func (e *Engine) collectHolders(records []*ast.FileRecord) {
	for _, rec := range records {
		for i := range rec.Assignments {
			a := &rec.Assignments[i]
			if a.Scope != "" {
				continue
			}
			var component string
			switch a.Value.Kind {
			case ast.ValueKindCall:
				if id, ok := e.res.ResolveName(rec.Module, a.Value.Callee); ok {
					component = id
				}
			case ast.ValueKindName:
				if len(a.Value.Names) == 1 {
					if id, ok := e.res.ResolveName(rec.Module, a.Value.Names[0]); ok {
						component = id
					} else if held, ok := e.holders[rec.Module+"."+a.Value.Names[0]]; ok {
						component = held
					}
				}
			}
			if component != "" {
				e.holders[rec.Module+"."+a.Target] = component
			}
		}
	}
}

// passInheritance links classes to their resolved bases.
func (e *Engine) passInheritance(records []*ast.FileRecord) {
	for _, rec := range records {
		for i := range rec.Definitions {
			def := &rec.Definitions[i]
			if def.Kind != ast.DefinitionKindClass {
				continue
			}
			from := rec.Module + "." + def.QualifiedName
			for _, base := range def.Bases {
				if base == "object" {
					continue
				}
				to, internal := e.res.ExpandName(rec.Module, base)
				if !internal {
					to = e.res.Materialize(to)
				}
				e.addEdge(from, to, graph.EdgeTypeInherits, "", def.Location)
			}
		}
	}
}

// passDecoration links decorators to the definitions they wrap.
func (e *Engine) passDecoration(records []*ast.FileRecord) {
	for _, rec := range records {
		for i := range rec.Definitions {
			def := &rec.Definitions[i]
			to := rec.Module + "." + def.QualifiedName
			for _, dec := range def.Decorators {
				if builtinDecorators[dec] {
					continue
				}
				from, internal := e.res.ExpandName(rec.Module, dec)
				if !internal {
					from = e.res.Materialize(from)
				}
				e.addEdge(from, to, graph.EdgeTypeDecorates, "", def.Location)
			}
		}
	}
}

// passRegistration links registry collections to their members:
// class-scope list/tuple literals, plus module-level collections whose
// target matches a configured registers rule.
func (e *Engine) passRegistration(records []*ast.FileRecord) {
	for _, rec := range records {
		for i := range rec.Assignments {
			a := &rec.Assignments[i]
			if a.Value.Kind != ast.ValueKindCollection {
				continue
			}

			var from string
			switch {
			case a.Scope != "":
				owner := e.res.ScopeNode(rec.Module, a.Scope)
				node, ok := e.res.Graph().GetNode(owner)
				if !ok || node.Kind != graph.NodeKindClass {
					continue
				}
				from = owner
			case e.matchesRule("registers", a.Target):
				from = rec.Module
			default:
				continue
			}

			for _, name := range a.Value.Names {
				member, ok := e.res.ResolveName(rec.Module, name)
				if !ok {
					continue
				}
				e.addEdge(from, member, graph.EdgeTypeRegisters, a.Target, a.Location)
			}
		}
	}
}

// passProxies links lazy proxy objects to the components they stand for.
func (e *Engine) passProxies(records []*ast.FileRecord) {
	for _, rec := range records {
		for i := range rec.Assignments {
			a := &rec.Assignments[i]
			if a.Value.Kind != ast.ValueKindCall || !e.isProxyFactory(rec.Module, a.Value.Callee) {
				continue
			}

			from := e.res.ScopeNode(rec.Module, a.Scope)
			for _, name := range a.Value.Names {
				target, ok := e.res.ResolveName(rec.Module, name)
				if !ok {
					// Proxied name is usually a module-level holder, not
					// a definition.
					held, found := e.holders[rec.Module+"."+name]
					if !found {
						if expanded, isInternal := e.res.ExpandName(rec.Module, name); isInternal {
							held = expanded
							found = true
						}
					}
					if !found {
						continue
					}
					target = held
				}
				e.addEdge(from, target, graph.EdgeTypeProxies, a.Target, a.Location)
				e.holders[rec.Module+"."+a.Target] = target
			}
		}
	}
}

// passInjection links classes to dependencies instantiated in their
// constructors.
func (e *Engine) passInjection(records []*ast.FileRecord) {
	for _, rec := range records {
		for i := range rec.Assignments {
			a := &rec.Assignments[i]
			if a.Value.Kind != ast.ValueKindCall {
				continue
			}
			if !strings.HasSuffix(a.Scope, "__init__") {
				continue
			}
			ownerScope := strings.TrimSuffix(a.Scope, ".__init__")
			if ownerScope == a.Scope {
				continue
			}
			owner := e.res.ScopeNode(rec.Module, ownerScope)
			node, ok := e.res.Graph().GetNode(owner)
			if !ok || node.Kind != graph.NodeKindClass {
				continue
			}
			dep, ok := e.res.ResolveName(rec.Module, a.Value.Callee)
			if !ok || dep == owner {
				continue
			}
			e.addEdge(owner, dep, graph.EdgeTypeInjects, a.Target, a.Location)
		}
	}
}

// passRules applies configured uses-style rules: factory calls matched
// by callee glob, with the component named by the first string argument
// or the callee itself.
func (e *Engine) passRules(records []*ast.FileRecord) {
	var rules []config.LinkRule
	for _, rule := range e.cfg.Rules {
		if rule.Kind == "uses" {
			rules = append(rules, rule)
		}
	}
	if len(rules) == 0 {
		return
	}

	for _, rec := range records {
		for i := range rec.Calls {
			call := &rec.Calls[i]
			for _, rule := range rules {
				if !matchAny(rule.Patterns, call.Callee) {
					continue
				}
				from := e.res.ScopeNode(rec.Module, call.Scope)

				target := ""
				if len(call.StringArgs) > 0 {
					target = e.resolveStringRef(rec.Module, call.StringArgs[0])
				}
				if target == "" {
					if id, ok := e.res.ResolveName(rec.Module, call.Callee); ok {
						target = id
					}
				}
				if target == "" || target == from {
					continue
				}
				e.addEdge(from, target, graph.EdgeTypeUses, rule.Name, call.Location)
			}
		}
	}
}

// resolveStringRef resolves a string literal naming a component, either
// as a dotted path or as a unique bare class name.
func (e *Engine) resolveStringRef(module, ref string) string {
	if ref == "" {
		return ""
	}
	if id, ok := e.res.ResolveName(module, ref); ok {
		return id
	}
	matches := e.res.Graph().NodesByName(ref)
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// isProxyFactory reports whether a callee names a configured proxy
// constructor, matching either the bare or the alias-expanded form.
func (e *Engine) isProxyFactory(module, callee string) bool {
	expanded, _ := e.res.ExpandName(module, callee)
	for _, factory := range e.cfg.ProxyFactories {
		if callee == factory || expanded == factory {
			return true
		}
		// "LocalProxy" also matches "werkzeug.local.LocalProxy".
		if strings.HasSuffix(expanded, "."+factory) || strings.HasSuffix(callee, "."+factory) {
			return true
		}
	}
	return false
}

// matchesRule reports whether any configured rule of the given kind
// matches the name.
func (e *Engine) matchesRule(kind, name string) bool {
	for _, rule := range e.cfg.Rules {
		if rule.Kind == kind && matchAny(rule.Patterns, name) {
			return true
		}
	}
	return false
}

// matchAny applies path.Match globs to a dotted name.
func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// addEdge adds an edge, logging instead of failing on rejection. The
// returned edge of a duplicate triple keeps its first label unless the
// new one is non-empty.
func (e *Engine) addEdge(from, to string, typ graph.EdgeType, label string, loc ast.Location) {
	edge, err := e.res.Graph().AddEdge(from, to, typ, label, loc)
	if err != nil {
		slog.Debug("semantic edge skipped",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("type", typ.String()),
			slog.Any("error", err))
		return
	}
	if label != "" && edge.Label == "" {
		edge.Label = label
	}
}

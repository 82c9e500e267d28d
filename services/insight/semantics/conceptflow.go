// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantics

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

// conceptHolder is one binding known to carry a tracked concept
// instance: "pkg.mod.app" holding "pkg.factory.create_app".
type conceptHolder struct {
	fqn     string
	concept string
	depth   int
}

// assignmentFact is one assignment with its referenced names expanded
// through the owning module's aliases, precomputed for the fixed point.
type assignmentFact struct {
	module   string
	scope    string
	target   string
	expanded []string
	location ast.Location
}

// passConceptFlow tracks concept instances through assignments.
//
// Seeds are explicit configured bindings plus, when enabled,
// auto-discovered module-level names bound to a direct instantiation of
// a project component. Each tracked concept also enters the worklist as
// a holder of itself, so the instantiation assignment is a flow site in
// its own right: `svc = SubService()` links the instantiating scope to
// SubService directly, not only through later re-bindings. Each
// worklist round finds assignments whose value references a known
// holder, records the new binding as a holder itself, and links the
// receiving scope to the concept. The fixed point is bounded by the
// configured depth, so assignment cycles terminate.
func (e *Engine) passConceptFlow(records []*ast.FileRecord) {
	seeds := e.conceptSeeds()
	if len(seeds) == 0 {
		return
	}

	facts := collectAssignmentFacts(e.res, records)

	known := make(map[string]string, len(seeds))
	queue := make([]conceptHolder, 0, len(seeds)*2)
	for _, seed := range seeds {
		if _, dup := known[seed.fqn]; !dup {
			known[seed.fqn] = seed.concept
			queue = append(queue, seed)
		}
		if _, dup := known[seed.concept]; !dup {
			known[seed.concept] = seed.concept
			queue = append(queue, conceptHolder{fqn: seed.concept, concept: seed.concept})
		}
	}

	for len(queue) > 0 {
		holder := queue[0]
		queue = queue[1:]
		if holder.depth >= e.cfg.ConceptFlow.MaxDepth {
			slog.Debug("concept flow depth bound hit", slog.String("holder", holder.fqn))
			continue
		}

		for i := range facts {
			fact := &facts[i]
			if !fact.references(holder.fqn) {
				continue
			}

			newBinding := fact.bindingFQN()
			if newBinding == holder.fqn {
				continue
			}

			receiver := e.res.ScopeNode(fact.module, fact.scope)
			if receiver != holder.concept {
				e.addEdge(receiver, holder.concept, graph.EdgeTypeConceptFlow, conceptLabel(holder.fqn), fact.location)
			}

			if _, seen := known[newBinding]; seen {
				continue
			}
			known[newBinding] = holder.concept
			queue = append(queue, conceptHolder{
				fqn:     newBinding,
				concept: holder.concept,
				depth:   holder.depth + 1,
			})
		}
	}
}

// conceptSeeds returns the initial holders, sorted for determinism.
func (e *Engine) conceptSeeds() []conceptHolder {
	var seeds []conceptHolder

	for _, fqn := range e.cfg.ConceptFlow.Seeds {
		concept, ok := e.holders[fqn]
		if !ok {
			// An explicit seed the holder scan missed still tracks as
			// itself when it names a project node.
			if _, exists := e.res.Graph().GetNode(fqn); !exists {
				slog.Warn("concept seed not found", slog.String("seed", fqn))
				continue
			}
			concept = fqn
		}
		seeds = append(seeds, conceptHolder{fqn: fqn, concept: concept})
	}

	if e.cfg.ConceptFlow.AutoDiscover {
		fqns := make([]string, 0, len(e.holders))
		for fqn := range e.holders {
			fqns = append(fqns, fqn)
		}
		sort.Strings(fqns)
		for _, fqn := range fqns {
			if matchAny(e.cfg.ConceptFlow.ExcludePatterns, fqn) {
				continue
			}
			seeds = append(seeds, conceptHolder{fqn: fqn, concept: e.holders[fqn]})
		}
	}

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].fqn < seeds[j].fqn })
	return seeds
}

// collectAssignmentFacts expands every assignment's referenced names
// once, up front.
func collectAssignmentFacts(res *graph.Resolution, records []*ast.FileRecord) []assignmentFact {
	var facts []assignmentFact
	for _, rec := range records {
		if rec.Module == "" {
			continue
		}
		for i := range rec.Assignments {
			a := &rec.Assignments[i]
			names := referencedNames(&a.Value)
			if len(names) == 0 {
				continue
			}
			expanded := make([]string, 0, len(names))
			for _, name := range names {
				full, internal := res.ExpandName(rec.Module, name)
				if !internal && full == name {
					// No alias matched: a bare name here is a
					// module-level binding of this module.
					full = rec.Module + "." + name
				}
				expanded = append(expanded, full)
			}
			facts = append(facts, assignmentFact{
				module:   rec.Module,
				scope:    a.Scope,
				target:   a.Target,
				expanded: expanded,
				location: a.Location,
			})
		}
	}
	return facts
}

// referencedNames lists the dotted names an assignment value reads. A
// call value reads its callee too: instantiating a tracked class is
// itself a flow of that concept.
func referencedNames(v *ast.AssignmentValue) []string {
	switch v.Kind {
	case ast.ValueKindName, ast.ValueKindCollection:
		return v.Names
	case ast.ValueKindCall:
		names := append([]string(nil), v.Names...)
		if v.Callee != "" {
			names = append(names, v.Callee)
		}
		return names
	default:
		return nil
	}
}

// references reports whether the fact reads the given holder binding.
func (f *assignmentFact) references(holderFQN string) bool {
	for _, name := range f.expanded {
		if name == holderFQN {
			return true
		}
	}
	return false
}

// bindingFQN is the fully qualified name this fact binds: the target
// qualified by module and enclosing scope.
func (f *assignmentFact) bindingFQN() string {
	if f.scope == "" {
		return f.module + "." + f.target
	}
	// self.attr inside a class scope binds on the class.
	target := strings.TrimPrefix(f.target, "self.")
	owner := f.scope
	if idx := strings.LastIndex(owner, "."); idx >= 0 && strings.HasPrefix(f.target, "self.") {
		// Strip the method segment: Class.__init__ binds on Class.
		owner = owner[:idx]
	}
	return f.module + "." + owner + "." + target
}

// conceptLabel derives the edge label from the seed holder name.
func conceptLabel(holderFQN string) string {
	if idx := strings.LastIndex(holderFQN, "."); idx >= 0 {
		return holderFQN[idx+1:]
	}
	return holderFQN
}

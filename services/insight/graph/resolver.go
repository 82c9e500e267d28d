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
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/layout"
)

// Resolver is the single-threaded reduce phase: it merges per-file
// records into one graph, resolving aliases and relative imports to
// fully qualified names.
//
// Description:
//
//	The Resolver is the only component that creates nodes. It processes
//	records in sorted file-path order, which fixes the winner of any
//	duplicate qualified name deterministically. The Resolution it
//	returns carries the per-module alias tables so later passes can
//	resolve names exactly the way the import graph was resolved.
//
// Thread Safety: NOT safe for concurrent use. Run once per analysis.
type Resolver struct {
	layout *layout.Context
}

// NewResolver creates a Resolver bound to a detected layout.
func NewResolver(lay *layout.Context) *Resolver {
	return &Resolver{layout: lay}
}

// Resolution is the name-resolution state produced by Resolve. The
// semantic engine uses it to resolve names the same way imports were
// resolved, and to materialize external nodes for unknown targets.
type Resolution struct {
	graph *Graph

	// modules is the set of project module paths.
	modules map[string]bool

	// definitions maps project FQNs to the defining file path.
	definitions map[string]string

	// aliases maps module path -> local name -> target FQN.
	aliases map[string]map[string]string

	// publicNames maps module path -> sorted public top-level definition
	// names, used to expand wildcard imports.
	publicNames map[string][]string

	// isPackage marks modules backed by an __init__.py file.
	isPackage map[string]bool
}

// Resolve merges file records into a fresh building-state graph.
//
// Inputs:
//
//	records - Parsed file records. Resolve sorts them by file path.
//	projectRoot - Recorded on the graph for provenance.
//
// Outputs:
//
//	*Graph - In Building state; the caller freezes it after the
//	semantic passes run.
//	*Resolution - Name-resolution state for later passes.
//	[]*ResolutionConflict - Duplicate-name warnings, in discovery order.
func (r *Resolver) Resolve(records []*ast.FileRecord, projectRoot string) (*Graph, *Resolution, []*ResolutionConflict) {
	sorted := append([]*ast.FileRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FilePath < sorted[j].FilePath })

	res := &Resolution{
		graph:       NewGraph(projectRoot),
		modules:     make(map[string]bool),
		definitions: make(map[string]string),
		aliases:     make(map[string]map[string]string),
		publicNames: make(map[string][]string),
		isPackage:   make(map[string]bool),
	}
	var conflicts []*ResolutionConflict

	// Pass 1: nodes. First file in sorted order wins a contested name.
	for _, rec := range sorted {
		conflicts = append(conflicts, r.collectNodes(res, rec)...)
	}
	for module := range res.publicNames {
		sort.Strings(res.publicNames[module])
	}

	// Pass 2: alias tables. Needs the full module/definition sets from
	// pass 1, so wildcard imports can expand and targets can resolve.
	for _, rec := range sorted {
		r.collectAliases(res, rec)
	}

	// Pass 3: imports and uses edges.
	for _, rec := range sorted {
		r.linkRecord(res, rec)
	}

	return res.graph, res, conflicts
}

// collectNodes creates the module node and definition nodes for one record.
func (r *Resolver) collectNodes(res *Resolution, rec *ast.FileRecord) []*ResolutionConflict {
	var conflicts []*ResolutionConflict

	if rec.Module == "" {
		return nil
	}

	if prior, ok := res.definitions[rec.Module]; ok {
		// Two files mapping to one module path (should not happen under a
		// consistent layout, but a stray duplicate is survivable).
		conflicts = append(conflicts, &ResolutionConflict{
			QualifiedName: rec.Module,
			WinnerPath:    prior,
			LoserPath:     rec.FilePath,
		})
		return conflicts
	}

	res.modules[rec.Module] = true
	res.definitions[rec.Module] = rec.FilePath
	res.isPackage[rec.Module] = strings.HasSuffix(rec.FilePath, "__init__.py")

	_, err := res.graph.AddNode(&Node{
		ID:      rec.Module,
		Kind:    NodeKindModule,
		Module:  rec.Module,
		Layer:   layerOf(rec.Module),
		Summary: firstLine(rec.Docstring),
		HasMain: rec.HasMainBlock,
		Location: ast.Location{
			FilePath:  rec.FilePath,
			StartLine: 1,
			EndLine:   1,
		},
	})
	if err != nil {
		slog.Warn("module node rejected", slog.String("module", rec.Module), slog.Any("error", err))
		return conflicts
	}

	for i := range rec.Definitions {
		def := &rec.Definitions[i]
		fqn := rec.Module + "." + def.QualifiedName

		if prior, ok := res.definitions[fqn]; ok {
			conflicts = append(conflicts, &ResolutionConflict{
				QualifiedName: fqn,
				WinnerPath:    prior,
				LoserPath:     rec.FilePath,
			})
			continue
		}
		res.definitions[fqn] = rec.FilePath

		kind := NodeKindFunction
		if def.Kind == ast.DefinitionKindClass {
			kind = NodeKindClass
		}
		if _, err := res.graph.AddNode(&Node{
			ID:       fqn,
			Kind:     kind,
			Module:   rec.Module,
			Layer:    layerOf(rec.Module),
			Summary:  firstLine(def.Docstring),
			Private:  def.Private,
			Location: def.Location,
		}); err != nil {
			slog.Warn("definition node rejected", slog.String("fqn", fqn), slog.Any("error", err))
			continue
		}

		// Top-level public names are the wildcard-import surface.
		if !strings.Contains(def.QualifiedName, ".") && !def.Private {
			res.publicNames[rec.Module] = append(res.publicNames[rec.Module], def.Name)
		}
	}

	return conflicts
}

// collectAliases builds the local-name table for one module.
func (r *Resolver) collectAliases(res *Resolution, rec *ast.FileRecord) {
	if rec.Module == "" {
		return
	}
	table := res.aliases[rec.Module]
	if table == nil {
		table = make(map[string]string)
		res.aliases[rec.Module] = table
	}

	for i := range rec.Imports {
		imp := &rec.Imports[i]
		base := r.importBase(res, rec.Module, imp)

		switch {
		case imp.IsWildcard:
			// Wildcards expand to the target module's public names. An
			// external wildcard contributes nothing resolvable.
			for _, name := range res.publicNames[base] {
				if _, taken := table[name]; !taken {
					table[name] = base + "." + name
				}
			}
		case len(imp.Names) > 0:
			for _, entry := range imp.Names {
				local := entry.Alias
				if local == "" {
					local = entry.Name
				}
				target := entry.Name
				if base != "" {
					target = base + "." + entry.Name
				}
				table[local] = target
			}
		default:
			if imp.Alias != "" {
				table[imp.Alias] = base
			} else if base != "" {
				// "import a.b" binds the top name "a"; references then
				// spell the full dotted path, so alias both forms.
				top := strings.SplitN(base, ".", 2)[0]
				if _, taken := table[top]; !taken {
					table[top] = top
				}
				table[base] = base
			}
		}
	}
}

// importBase resolves the module an import statement refers to,
// applying relative-dot semantics against the owning module.
func (r *Resolver) importBase(res *Resolution, module string, imp *ast.Import) string {
	if imp.RelativeDots == 0 {
		return imp.Path
	}

	// One dot means the current package: the module itself for a package
	// __init__, its parent otherwise. Each extra dot strips one segment.
	segments := strings.Split(module, ".")
	strip := imp.RelativeDots
	if res.isPackage[module] {
		strip--
	}
	if strip >= len(segments) {
		return imp.Path
	}
	base := strings.Join(segments[:len(segments)-strip], ".")
	if imp.Path == "" {
		return base
	}
	if base == "" {
		return imp.Path
	}
	return base + "." + imp.Path
}

// linkRecord emits imports edges and uses edges for one record.
func (r *Resolver) linkRecord(res *Resolution, rec *ast.FileRecord) {
	if rec.Module == "" {
		return
	}

	for i := range rec.Imports {
		imp := &rec.Imports[i]
		base := r.importBase(res, rec.Module, imp)
		targets := make([]string, 0, 1+len(imp.Names))
		if base != "" {
			targets = append(targets, base)
		}
		for _, entry := range imp.Names {
			if base != "" {
				targets = append(targets, base+"."+entry.Name)
			} else {
				targets = append(targets, entry.Name)
			}
		}
		for _, target := range targets {
			id := res.internalTarget(target)
			if id == "" {
				// Importing the whole module resolves to its nearest
				// project prefix; otherwise an external node.
				if prefix := res.modulePrefix(target); prefix != "" {
					id = prefix
				} else {
					id = res.Materialize(target)
				}
			}
			if id == rec.Module {
				continue
			}
			if _, err := res.graph.AddEdge(rec.Module, id, EdgeTypeImports, "", imp.Location); err != nil {
				slog.Debug("import edge skipped", slog.String("from", rec.Module), slog.String("to", id), slog.Any("error", err))
			}
		}
	}

	for i := range rec.Calls {
		call := &rec.Calls[i]
		target, internal := res.ResolveName(rec.Module, call.Callee)
		if !internal {
			continue
		}
		from := res.scopeNode(rec.Module, call.Scope)
		if from == target {
			continue
		}
		if _, err := res.graph.AddEdge(from, target, EdgeTypeUses, "", call.Location); err != nil {
			slog.Debug("uses edge skipped", slog.String("from", from), slog.String("to", target), slog.Any("error", err))
		}
	}
}

// scopeNode maps a module-relative scope to the innermost existing node.
func (res *Resolution) scopeNode(module, scope string) string {
	if scope == "" {
		return module
	}
	fqn := module + "." + scope
	for {
		if _, ok := res.graph.GetNode(fqn); ok {
			return fqn
		}
		idx := strings.LastIndex(fqn, ".")
		if idx < 0 || fqn == module {
			return module
		}
		fqn = fqn[:idx]
	}
}

// ScopeNode exposes scope mapping to the semantic engine.
func (res *Resolution) ScopeNode(module, scope string) string {
	return res.scopeNode(module, scope)
}

// ResolveName resolves a dotted name as written in the given module to
// a project node ID.
//
// Description:
//
//	Resolution order mirrors Python binding: local definitions first,
//	then the module's import aliases (longest dotted prefix wins), then
//	absolute references to project packages. Attribute tails beyond a
//	known definition collapse to the definition (obj.method resolves to
//	the class when the method itself is not a node).
//
// Outputs:
//
//	string - The resolved project node ID, or "" when external.
//	bool - True when the name resolved to a project node.
func (res *Resolution) ResolveName(module, dotted string) (string, bool) {
	full, internal := res.ExpandName(module, dotted)
	if !internal {
		return "", false
	}
	return full, true
}

// ExpandName substitutes the module's aliases into a dotted name.
//
// Outputs:
//
//	string - The project node ID when internal; otherwise the fully
//	expanded external name (alias replaced by its import target), which
//	is what Materialize should be called with.
//	bool - True when the name resolved to a project node.
func (res *Resolution) ExpandName(module, dotted string) (string, bool) {
	if dotted == "" {
		return "", false
	}

	// Local definition in the same module.
	if id := res.internalTarget(module + "." + dotted); id != "" {
		return id, true
	}

	// Alias table, longest dotted prefix first.
	if table := res.aliases[module]; table != nil {
		parts := strings.Split(dotted, ".")
		for n := len(parts); n >= 1; n-- {
			prefix := strings.Join(parts[:n], ".")
			target, ok := table[prefix]
			if !ok {
				continue
			}
			full := target
			if n < len(parts) {
				full = target + "." + strings.Join(parts[n:], ".")
			}
			if id := res.internalTarget(full); id != "" {
				return id, true
			}
			return full, false
		}
	}

	// Absolute reference (import a.b; a.b.Thing).
	if id := res.internalTarget(dotted); id != "" {
		return id, true
	}
	return dotted, false
}

// internalTarget maps a fully qualified name to an existing project
// node, collapsing attribute tails onto their nearest defined prefix.
func (res *Resolution) internalTarget(fqn string) string {
	if res.modules[fqn] {
		return fqn
	}
	current := fqn
	for {
		if _, ok := res.definitions[current]; ok {
			if _, exists := res.graph.GetNode(current); exists {
				return current
			}
		}
		idx := strings.LastIndex(current, ".")
		if idx < 0 {
			return ""
		}
		current = current[:idx]
		if res.modules[current] {
			// Reached the module boundary without hitting a definition:
			// the tail is not a project symbol (imported re-export or
			// runtime attribute).
			return ""
		}
	}
}

// modulePrefix returns the longest project module that prefixes fqn.
func (res *Resolution) modulePrefix(fqn string) string {
	current := fqn
	for {
		if res.modules[current] {
			return current
		}
		idx := strings.LastIndex(current, ".")
		if idx < 0 {
			return ""
		}
		current = current[:idx]
	}
}

// Materialize returns the node ID for a name, creating an external node
// if the project does not define it. The semantic engine uses this for
// edge endpoints discovered by rules.
func (res *Resolution) Materialize(fqn string) string {
	if _, ok := res.graph.GetNode(fqn); ok {
		return fqn
	}
	node := &Node{
		ID:       fqn,
		Kind:     NodeKindModule,
		External: true,
	}
	// A capitalized last segment reads as a class; keeps external
	// decorator and base-class nodes sensibly typed.
	if name := bareName(fqn); name != "" && name[0] >= 'A' && name[0] <= 'Z' {
		node.Kind = NodeKindClass
	}
	if _, err := res.graph.AddNode(node); err != nil {
		slog.Warn("external node rejected", slog.String("fqn", fqn), slog.Any("error", err))
	}
	return fqn
}

// Graph returns the graph under construction.
func (res *Resolution) Graph() *Graph {
	return res.graph
}

// IsProjectModule reports whether fqn is a module of the project.
func (res *Resolution) IsProjectModule(fqn string) bool {
	return res.modules[fqn]
}

// layerOf returns the top-level package segment of a module path.
func layerOf(module string) string {
	if idx := strings.Index(module, "."); idx >= 0 {
		return module[:idx]
	}
	return module
}

// firstLine returns the first non-empty line of a docstring, trimmed.
func firstLine(doc string) string {
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/config"
	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
	"github.com/AleutianAI/ProjectInsight/services/insight/layout"
)

func record(path, module string) *ast.FileRecord {
	return &ast.FileRecord{FilePath: path, Module: module, ContentHash: "hash-" + path}
}

func classDef(name string, bases ...string) ast.Definition {
	return ast.Definition{
		Name:          name,
		QualifiedName: name,
		Kind:          ast.DefinitionKindClass,
		Bases:         bases,
	}
}

func funcDef(name string, decorators ...string) ast.Definition {
	return ast.Definition{
		Name:          name,
		QualifiedName: name,
		Kind:          ast.DefinitionKindFunction,
		Decorators:    decorators,
	}
}

// runEngine resolves the records and runs every semantic pass.
func runEngine(t *testing.T, cfg *config.Analysis, records ...*ast.FileRecord) (*graph.Graph, *graph.Resolution) {
	t.Helper()
	lay := &layout.Context{RootPackages: []string{"a", "b", "c", "jobs"}}
	g, res, _ := graph.NewResolver(lay).Resolve(records, "/project")
	engine := NewEngine(cfg, res)
	require.NoError(t, engine.Run(context.Background(), records))
	return g, res
}

func TestEngine_Inheritance(t *testing.T) {
	sub := record("b/sub.py", "b.sub")
	sub.Definitions = []ast.Definition{classDef("SubService")}

	app := record("a/app.py", "a.app")
	app.Imports = []ast.Import{{Path: "b.sub", Names: []ast.ImportedName{{Name: "SubService"}}}}
	app.Definitions = []ast.Definition{classDef("Service", "SubService", "abc.ABC")}

	g, _ := runEngine(t, config.Default(), sub, app)

	_, ok := g.GetEdge("a.app.Service", "b.sub.SubService", graph.EdgeTypeInherits)
	assert.True(t, ok, "internal base links to the defining class")

	ext, ok := g.GetNode("abc.ABC")
	require.True(t, ok, "unknown base materializes as an external node")
	assert.True(t, ext.External)
	_, ok = g.GetEdge("a.app.Service", "abc.ABC", graph.EdgeTypeInherits)
	assert.True(t, ok)
}

func TestEngine_Decoration(t *testing.T) {
	reg := record("a/registry.py", "a.registry")
	reg.Definitions = []ast.Definition{funcDef("register")}

	app := record("a/app.py", "a.app")
	app.Imports = []ast.Import{{Path: "a.registry", Names: []ast.ImportedName{{Name: "register"}}}}
	app.Definitions = []ast.Definition{
		{
			Name:          "Service",
			QualifiedName: "Service",
			Kind:          ast.DefinitionKindClass,
			Decorators:    []string{"register", "staticmethod"},
		},
	}

	g, _ := runEngine(t, config.Default(), reg, app)

	_, ok := g.GetEdge("a.registry.register", "a.app.Service", graph.EdgeTypeDecorates)
	assert.True(t, ok, "decorator points at the definition it wraps")

	_, ok = g.GetNode("staticmethod")
	assert.False(t, ok, "builtin decorators are not materialized")
}

func TestEngine_Registration(t *testing.T) {
	app := record("a/app.py", "a.app")
	app.Definitions = []ast.Definition{
		classDef("Registry"),
		classDef("AuditHandler"),
		classDef("BillingHandler"),
	}
	app.Assignments = []ast.Assignment{
		{
			Target: "HANDLERS",
			Scope:  "Registry",
			Value: ast.AssignmentValue{
				Kind:  ast.ValueKindCollection,
				Names: []string{"AuditHandler", "BillingHandler"},
			},
		},
	}

	g, _ := runEngine(t, config.Default(), app)

	edge, ok := g.GetEdge("a.app.Registry", "a.app.AuditHandler", graph.EdgeTypeRegisters)
	require.True(t, ok)
	assert.Equal(t, "HANDLERS", edge.Label)
	_, ok = g.GetEdge("a.app.Registry", "a.app.BillingHandler", graph.EdgeTypeRegisters)
	assert.True(t, ok)
}

func TestEngine_ModuleLevelRegistryRule(t *testing.T) {
	cfg := config.Default()
	cfg.Rules = []config.LinkRule{{Name: "plugin-registry", Kind: "registers", Patterns: []string{"*_REGISTRY"}}}

	app := record("a/plugins.py", "a.plugins")
	app.Definitions = []ast.Definition{classDef("AuditPlugin")}
	app.Assignments = []ast.Assignment{
		{
			Target: "PLUGIN_REGISTRY",
			Value: ast.AssignmentValue{
				Kind:  ast.ValueKindCollection,
				Names: []string{"AuditPlugin"},
			},
		},
	}

	g, _ := runEngine(t, cfg, app)
	_, ok := g.GetEdge("a.plugins", "a.plugins.AuditPlugin", graph.EdgeTypeRegisters)
	assert.True(t, ok)
}

func TestEngine_Proxies(t *testing.T) {
	factory := record("a/factory.py", "a.factory")
	factory.Definitions = []ast.Definition{funcDef("create_app")}

	// globals.py: app = create_app(); current_app = LocalProxy(lambda: app)
	globals := record("a/globals.py", "a.globals")
	globals.Imports = []ast.Import{{Path: "a.factory", Names: []ast.ImportedName{{Name: "create_app"}}}}
	globals.Assignments = []ast.Assignment{
		{
			Target: "app",
			Value:  ast.AssignmentValue{Kind: ast.ValueKindCall, Callee: "create_app"},
		},
		{
			Target: "current_app",
			Value: ast.AssignmentValue{
				Kind:   ast.ValueKindCall,
				Callee: "LocalProxy",
				Names:  []string{"app"},
			},
		},
	}

	g, _ := runEngine(t, config.Default(), factory, globals)

	edge, ok := g.GetEdge("a.globals", "a.factory.create_app", graph.EdgeTypeProxies)
	require.True(t, ok, "proxy resolves through the holder to the real component")
	assert.Equal(t, "current_app", edge.Label)
}

func TestEngine_Injection(t *testing.T) {
	audit := record("b/audit.py", "b.audit")
	audit.Definitions = []ast.Definition{classDef("AuditService")}

	app := record("a/app.py", "a.app")
	app.Imports = []ast.Import{{Path: "b.audit", Names: []ast.ImportedName{{Name: "AuditService"}}}}
	app.Definitions = []ast.Definition{
		classDef("Service"),
		{Name: "__init__", QualifiedName: "Service.__init__", Kind: ast.DefinitionKindFunction},
	}
	app.Assignments = []ast.Assignment{
		{
			Target: "self.audit",
			Scope:  "Service.__init__",
			Value:  ast.AssignmentValue{Kind: ast.ValueKindCall, Callee: "AuditService"},
		},
	}

	g, _ := runEngine(t, config.Default(), audit, app)

	edge, ok := g.GetEdge("a.app.Service", "b.audit.AuditService", graph.EdgeTypeInjects)
	require.True(t, ok)
	assert.Equal(t, "self.audit", edge.Label)
}

func TestEngine_UsesRuleWithStringRef(t *testing.T) {
	cfg := config.Default()
	cfg.Rules = []config.LinkRule{{Name: "strategy", Kind: "uses", Patterns: []string{"*build_handler"}}}

	handlers := record("b/handlers.py", "b.handlers")
	handlers.Definitions = []ast.Definition{classDef("ExportHandler")}

	app := record("a/app.py", "a.app")
	app.Definitions = []ast.Definition{funcDef("dispatch")}
	app.Calls = []ast.CallSite{
		{Callee: "build_handler", Scope: "dispatch", StringArgs: []string{"ExportHandler"}},
	}

	g, _ := runEngine(t, cfg, handlers, app)

	edge, ok := g.GetEdge("a.app.dispatch", "b.handlers.ExportHandler", graph.EdgeTypeUses)
	require.True(t, ok, "string argument resolves by unique bare name")
	assert.Equal(t, "strategy", edge.Label)
}

func TestEngine_ConceptFlow(t *testing.T) {
	// b/sub.py defines SubService; b/holder.py binds svc = SubService();
	// c/top.py imports the holder and rebinds it at module level.
	sub := record("b/sub.py", "b.sub")
	sub.Definitions = []ast.Definition{classDef("SubService")}

	holder := record("b/holder.py", "b.holder")
	holder.Imports = []ast.Import{{Path: "b.sub", Names: []ast.ImportedName{{Name: "SubService"}}}}
	holder.Assignments = []ast.Assignment{
		{Target: "svc", Value: ast.AssignmentValue{Kind: ast.ValueKindCall, Callee: "SubService"}},
	}

	top := record("c/top.py", "c.top")
	top.Imports = []ast.Import{{Path: "b.holder", Names: []ast.ImportedName{{Name: "svc"}}}}
	top.Assignments = []ast.Assignment{
		{Target: "service", Value: ast.AssignmentValue{Kind: ast.ValueKindName, Names: []string{"svc"}}},
	}

	g, _ := runEngine(t, config.Default(), sub, holder, top)

	edge, ok := g.GetEdge("c.top", "b.sub.SubService", graph.EdgeTypeConceptFlow)
	require.True(t, ok, "the concept reaches the re-binding module")
	assert.Equal(t, "svc", edge.Label)
}

func TestEngine_ConceptFlowInstantiationSite(t *testing.T) {
	// a.Service inherits b.SubService; c instantiates SubService at
	// module level. The instantiation assignment is itself a flow site:
	// c links to SubService without any later re-binding.
	sub := record("b/sub.py", "b.sub")
	sub.Definitions = []ast.Definition{classDef("SubService")}

	svc := record("a/service.py", "a.service")
	svc.Imports = []ast.Import{{Path: "b.sub", Names: []ast.ImportedName{{Name: "SubService"}}}}
	svc.Definitions = []ast.Definition{classDef("Service", "SubService")}

	top := record("c/top.py", "c.top")
	top.Imports = []ast.Import{{Path: "b.sub", Names: []ast.ImportedName{{Name: "SubService"}}}}
	top.Assignments = []ast.Assignment{
		{Target: "svc", Value: ast.AssignmentValue{Kind: ast.ValueKindCall, Callee: "SubService"}},
	}

	g, _ := runEngine(t, config.Default(), sub, svc, top)

	_, ok := g.GetEdge("a.service.Service", "b.sub.SubService", graph.EdgeTypeInherits)
	require.True(t, ok)

	edge, ok := g.GetEdge("c.top", "b.sub.SubService", graph.EdgeTypeConceptFlow)
	require.True(t, ok, "instantiating a tracked class links the instantiating module")
	assert.Equal(t, "SubService", edge.Label)
}

func TestEngine_ConceptFlowCycleTerminates(t *testing.T) {
	// x = Service(); y = x; x = y — a rebinding cycle must terminate.
	mod := record("a/mod.py", "a.mod")
	mod.Definitions = []ast.Definition{classDef("Service")}
	mod.Assignments = []ast.Assignment{
		{Target: "x", Value: ast.AssignmentValue{Kind: ast.ValueKindCall, Callee: "Service"}},
		{Target: "y", Value: ast.AssignmentValue{Kind: ast.ValueKindName, Names: []string{"x"}}},
		{Target: "x", Value: ast.AssignmentValue{Kind: ast.ValueKindName, Names: []string{"y"}}},
	}

	g, _ := runEngine(t, config.Default(), mod)
	assert.Greater(t, g.EdgeCount(), 0)
}

func TestEngine_ConceptFlowExcludePatterns(t *testing.T) {
	cfg := config.Default()
	cfg.ConceptFlow.ExcludePatterns = []string{"a.mod.*"}

	mod := record("a/mod.py", "a.mod")
	mod.Definitions = []ast.Definition{classDef("Service")}
	mod.Assignments = []ast.Assignment{
		{Target: "svc", Value: ast.AssignmentValue{Kind: ast.ValueKindCall, Callee: "Service"}},
	}
	other := record("c/other.py", "c.other")
	other.Imports = []ast.Import{{Path: "a.mod", Names: []ast.ImportedName{{Name: "svc"}}}}
	other.Assignments = []ast.Assignment{
		{Target: "local", Value: ast.AssignmentValue{Kind: ast.ValueKindName, Names: []string{"svc"}}},
	}

	g, _ := runEngine(t, cfg, mod, other)
	_, ok := g.GetEdge("c.other", "a.mod.Service", graph.EdgeTypeConceptFlow)
	assert.False(t, ok, "excluded seeds do not propagate")
}

func TestEngine_DynamicBehaviorTaskQueue(t *testing.T) {
	// Producer calls send_task("jobs.tasks.charge"); the consumer is the
	// decorated function jobs.tasks.charge (conventional task name).
	tasks := record("jobs/tasks.py", "jobs.tasks")
	tasks.Definitions = []ast.Definition{funcDef("charge", "shared_task")}

	web := record("a/web.py", "a.web")
	web.Definitions = []ast.Definition{funcDef("checkout")}
	web.Calls = []ast.CallSite{
		{Callee: "celery.send_task", Scope: "checkout", StringArgs: []string{"jobs.tasks.charge"}},
	}

	g, _ := runEngine(t, config.Default(), tasks, web)

	edge, ok := g.GetEdge("a.web.checkout", "jobs.tasks.charge", graph.EdgeTypeDynamicBehavior)
	require.True(t, ok)
	assert.Equal(t, "task-queue:jobs.tasks.charge", edge.Label)
}

func TestEngine_DynamicBehaviorUnmatchedKeysIgnored(t *testing.T) {
	web := record("a/web.py", "a.web")
	web.Definitions = []ast.Definition{funcDef("checkout")}
	web.Calls = []ast.CallSite{
		{Callee: "celery.send_task", Scope: "checkout", StringArgs: []string{"jobs.missing"}},
	}

	g, _ := runEngine(t, config.Default(), web)
	for _, e := range g.Edges() {
		assert.NotEqual(t, graph.EdgeTypeDynamicBehavior, e.Type)
	}
}

func TestEngine_DeterministicEdgeSet(t *testing.T) {
	build := func() string {
		sub := record("b/sub.py", "b.sub")
		sub.Definitions = []ast.Definition{classDef("SubService")}
		app := record("a/app.py", "a.app")
		app.Imports = []ast.Import{{Path: "b.sub", Names: []ast.ImportedName{{Name: "SubService"}}}}
		app.Definitions = []ast.Definition{classDef("Service", "SubService")}
		app.Assignments = []ast.Assignment{
			{Target: "svc", Value: ast.AssignmentValue{Kind: ast.ValueKindCall, Callee: "SubService"}},
		}
		g, _ := runEngine(t, config.Default(), app, sub)
		return g.Hash()
	}
	assert.Equal(t, build(), build())
}

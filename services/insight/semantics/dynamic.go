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

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/config"
	"github.com/AleutianAI/ProjectInsight/services/insight/graph"
)

// dynamicSite is one matched producer or consumer occurrence.
type dynamicSite struct {
	// nodeID is the graph node representing the site's scope.
	nodeID   string
	key      string
	location ast.Location
}

// passDynamic joins producer and consumer sites sharing a correlation
// key: task queues, signals, and other string-keyed dispatch.
//
// Rules run in configured order; a later rule matching a pair already
// linked relabels the existing edge rather than duplicating it.
// Unmatched keys on either side are silently ignored.
func (e *Engine) passDynamic(records []*ast.FileRecord) {
	for _, rule := range e.cfg.DynamicRules {
		producers := e.matchSites(records, &rule.Producer)
		consumers := e.matchSites(records, &rule.Consumer)
		if len(producers) == 0 || len(consumers) == 0 {
			continue
		}

		consumersByKey := make(map[string][]dynamicSite)
		for _, site := range consumers {
			consumersByKey[site.key] = append(consumersByKey[site.key], site)
		}

		linked := 0
		for _, producer := range producers {
			for _, consumer := range consumersByKey[producer.key] {
				if producer.nodeID == consumer.nodeID {
					continue
				}
				label := rule.Name + ":" + producer.key
				edge, err := e.res.Graph().AddEdge(
					producer.nodeID, consumer.nodeID,
					graph.EdgeTypeDynamicBehavior, label, producer.location)
				if err != nil {
					slog.Debug("dynamic edge skipped",
						slog.String("from", producer.nodeID),
						slog.String("to", consumer.nodeID),
						slog.Any("error", err))
					continue
				}
				// Later rules win the label on a shared pair.
				edge.Label = label
				linked++
			}
		}
		if linked > 0 {
			slog.Debug("dynamic rule linked sites",
				slog.String("rule", rule.Name),
				slog.Int("edges", linked))
		}
	}
}

// matchSites finds every occurrence matching one side of a rule, in
// deterministic order.
func (e *Engine) matchSites(records []*ast.FileRecord, spec *config.MatchSpec) []dynamicSite {
	var sites []dynamicSite
	for _, rec := range records {
		if rec.Module == "" {
			continue
		}
		switch spec.Target {
		case config.MatchTargetCall:
			for i := range rec.Calls {
				call := &rec.Calls[i]
				if !matchDotted(spec.Pattern, call.Callee) {
					continue
				}
				key := correlationKey(spec, call)
				if key == "" {
					continue
				}
				sites = append(sites, dynamicSite{
					nodeID:   e.res.ScopeNode(rec.Module, call.Scope),
					key:      key,
					location: call.Location,
				})
			}
		case config.MatchTargetFunctionEntry:
			for i := range rec.Definitions {
				def := &rec.Definitions[i]
				matched := false
				for _, dec := range def.Decorators {
					if matchDotted(spec.Pattern, dec) {
						matched = true
						break
					}
				}
				if !matched {
					continue
				}
				// Without an explicit key the conventional name is
				// module.function (Celery task naming).
				sites = append(sites, dynamicSite{
					nodeID:   rec.Module + "." + def.QualifiedName,
					key:      rec.Module + "." + def.QualifiedName,
					location: def.Location,
				})
			}
		}
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].nodeID != sites[j].nodeID {
			return sites[i].nodeID < sites[j].nodeID
		}
		return sites[i].key < sites[j].key
	})
	return sites
}

// correlationKey extracts the key from a call site: the named keyword
// argument when KeyArg is set, else the first positional string.
func correlationKey(spec *config.MatchSpec, call *ast.CallSite) string {
	if spec.KeyArg != "" {
		if value, ok := call.KeywordStringArgs[spec.KeyArg]; ok {
			return value
		}
	}
	if len(call.StringArgs) > 0 {
		return call.StringArgs[0]
	}
	return ""
}

// matchDotted globs a pattern against a dotted name. path.Match treats
// "/" specially but not "."; patterns here are written against the
// dotted form directly.
func matchDotted(pattern, name string) bool {
	return matchAny([]string{pattern}, name)
}

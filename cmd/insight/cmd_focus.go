// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ProjectInsight/services/insight/recommend"
)

func runFocus(_ *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	root := resolveProject(nil)
	s, result := runAnalysis(ctx, root)
	defer s.Close()

	var sub *recommend.Subgraph
	var err error
	if len(args) == 0 {
		// No seeds given: let the ranking pick a starting neighborhood.
		sub, err = s.Propose(ctx, result)
	} else {
		engine := recommend.NewEngine(result.Graph, loadConfig().Recommend, result.Layout.EntryPoints)
		sub, err = engine.FocusSubgraph(args, focusDepth)
	}
	if errors.Is(err, recommend.ErrSubgraphTooLarge) {
		log.Fatalf("Subgraph too large: %v\nNarrow the entry nodes or raise recommend.node_ceiling.", err)
	}
	if err != nil {
		log.Fatalf("Focus failed: %v", err)
	}

	if jsonOutput {
		printJSON(sub)
		return
	}

	if len(sub.Entries) > 0 {
		fmt.Printf("Focus on %v (depth %d", sub.Entries, sub.Depth)
		if sub.Degraded {
			fmt.Print(", reduced to fit")
		}
		fmt.Println(")")
	}
	fmt.Printf("%d nodes, %d edges\n\n", len(sub.NodeIDs), len(sub.Edges))
	for _, edge := range sub.Edges {
		label := ""
		if edge.Label != "" {
			label = " [" + edge.Label + "]"
		}
		fmt.Printf("  %s -(%s)-> %s%s\n", edge.FromID, edge.Type, edge.ToID, label)
	}
}

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
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

func runExport(_ *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	root := resolveProject(args)
	s, result := runAnalysis(ctx, root)
	defer s.Close()

	data, err := json.MarshalIndent(result.Graph.ToSerializable(), "", "  ")
	if err != nil {
		log.Fatalf("Error serializing graph: %v", err)
	}

	if outputPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Fatalf("Error writing %s: %v", outputPath, err)
	}
	fmt.Printf("Wrote %d nodes and %d edges to %s\n",
		result.Stats.Nodes, result.Stats.Edges, outputPath)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// pyprojectFile mirrors the subset of pyproject.toml we care about:
// declared console scripts and plugin entry points.
type pyprojectFile struct {
	Project struct {
		Scripts     map[string]string            `toml:"scripts"`
		GUIScripts  map[string]string            `toml:"gui-scripts"`
		EntryPoints map[string]map[string]string `toml:"entry-points"`
	} `toml:"project"`
}

// readEntryPoints extracts entry-point targets from pyproject.toml as
// dotted "module.attr" references. A missing file is not an error; the
// project simply declares no entry points.
func readEntryPoints(projectRoot string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(projectRoot, "pyproject.toml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file pyprojectFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing pyproject.toml: %w", err)
	}

	seen := make(map[string]bool)
	collect := func(targets map[string]string) {
		for _, target := range targets {
			if ref := normalizeEntryPoint(target); ref != "" {
				seen[ref] = true
			}
		}
	}
	collect(file.Project.Scripts)
	collect(file.Project.GUIScripts)
	for _, group := range file.Project.EntryPoints {
		collect(group)
	}

	if len(seen) == 0 {
		return nil, nil
	}
	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

// normalizeEntryPoint converts "pkg.mod:func" to "pkg.mod.func" and
// strips any extras suffix ("[extra]").
func normalizeEntryPoint(target string) string {
	if idx := strings.Index(target, "["); idx >= 0 {
		target = target[:idx]
	}
	target = strings.TrimSpace(target)
	target = strings.ReplaceAll(target, ":", ".")
	if target == "" || strings.HasPrefix(target, ".") || strings.HasSuffix(target, ".") {
		return ""
	}
	return target
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProjectInsight/services/insight/ast"
	"github.com/AleutianAI/ProjectInsight/services/insight/cache"
)

// moduleFromPath is the trivial layout used by these tests: every .py
// file is importable, pkg/mod.py -> pkg.mod.
func moduleFromPath(rel string) (string, bool) {
	trimmed := strings.TrimSuffix(rel, ".py")
	trimmed = strings.TrimSuffix(trimmed, "/__init__")
	return strings.ReplaceAll(trimmed, "/", "."), true
}

func writeProject(t *testing.T, files map[string]string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	var paths []string
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
		paths = append(paths, rel)
	}
	return root, paths
}

func validProject(t *testing.T, n int) (string, []string) {
	t.Helper()
	files := make(map[string]string, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("pkg/mod%02d.py", i)] = fmt.Sprintf("class Thing%02d:\n    pass\n", i)
	}
	return writeProject(t, files)
}

func TestDispatcher_DeterministicAcrossWorkerCounts(t *testing.T) {
	root, paths := validProject(t, 20)

	var baseline []*ast.FileRecord
	for _, workers := range []int{1, 2, 8} {
		d := NewDispatcher(ast.NewPythonParser(), Options{Workers: workers})
		result, err := d.Run(context.Background(), root, paths, moduleFromPath)
		require.NoError(t, err)
		require.Len(t, result.Records, 20)

		// Records arrive in sorted path order regardless of parallelism.
		for i := 1; i < len(result.Records); i++ {
			assert.Less(t, result.Records[i-1].FilePath, result.Records[i].FilePath)
		}

		if baseline == nil {
			baseline = result.Records
			continue
		}
		require.Len(t, result.Records, len(baseline))
		for i := range baseline {
			assert.Equal(t, baseline[i].FilePath, result.Records[i].FilePath)
			assert.Equal(t, baseline[i].ContentHash, result.Records[i].ContentHash)
		}
	}
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	root, paths := writeProject(t, map[string]string{
		"pkg/good1.py": "class A:\n    pass\n",
		"pkg/good2.py": "class B:\n    pass\n",
		"pkg/bad.py":   string([]byte{0xff, 0xfe, 0x00}),
	})

	d := NewDispatcher(ast.NewPythonParser(), Options{FailureBudget: 0.5})
	result, err := d.Run(context.Background(), root, paths, moduleFromPath)
	require.NoError(t, err)

	assert.Len(t, result.Records, 2)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "pkg/bad.py", result.Failures[0].Path)
	assert.ErrorIs(t, result.Failures[0].Err, ast.ErrInvalidContent)

	// Failures carry the typed per-file error unit.
	assert.True(t, ast.IsParseError(result.Failures[0].Err))
	var pe *ast.ParseError
	require.ErrorAs(t, result.Failures[0].Err, &pe)
	assert.Equal(t, "pkg/bad.py", pe.FilePath)
}

func TestDispatcher_FailureBudgetBreach(t *testing.T) {
	files := map[string]string{"pkg/good.py": "x = 1\n"}
	for i := 0; i < 4; i++ {
		files[fmt.Sprintf("pkg/bad%d.py", i)] = string([]byte{0xff, 0xfe})
	}
	root, paths := writeProject(t, files)

	d := NewDispatcher(ast.NewPythonParser(), Options{FailureBudget: 0.2})
	_, err := d.Run(context.Background(), root, paths, moduleFromPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailureBudgetExceeded)
}

func TestDispatcher_NoFiles(t *testing.T) {
	d := NewDispatcher(ast.NewPythonParser(), Options{})
	_, err := d.Run(context.Background(), t.TempDir(), nil, moduleFromPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailureBudgetExceeded)
}

func TestDispatcher_SkipsUnmappedFiles(t *testing.T) {
	root, paths := writeProject(t, map[string]string{
		"pkg/mod.py":      "x = 1\n",
		"scripts/tool.py": "y = 2\n",
	})

	onlyPkg := func(rel string) (string, bool) {
		if strings.HasPrefix(rel, "pkg/") {
			return moduleFromPath(rel)
		}
		return "", false
	}

	d := NewDispatcher(ast.NewPythonParser(), Options{})
	result, err := d.Run(context.Background(), root, paths, onlyPkg)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "pkg/mod.py", result.Records[0].FilePath)
}

func TestDispatcher_CacheHitSkipsReparse(t *testing.T) {
	root, paths := validProject(t, 5)
	store, err := cache.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	opts := Options{Store: store, Fingerprint: "fp1"}
	d := NewDispatcher(ast.NewPythonParser(), opts)

	first, err := d.Run(context.Background(), root, paths, moduleFromPath)
	require.NoError(t, err)
	assert.Equal(t, 0, first.CacheHits)

	second, err := NewDispatcher(ast.NewPythonParser(), opts).Run(context.Background(), root, paths, moduleFromPath)
	require.NoError(t, err)
	assert.Equal(t, 5, second.CacheHits)

	// Touch one file: exactly one reparse.
	abs := filepath.Join(root, "pkg", "mod00.py")
	require.NoError(t, os.WriteFile(abs, []byte("class Changed:\n    pass\n"), 0o644))

	third, err := NewDispatcher(ast.NewPythonParser(), opts).Run(context.Background(), root, paths, moduleFromPath)
	require.NoError(t, err)
	assert.Equal(t, 4, third.CacheHits)
}

func TestDispatcher_FingerprintChangeForcesReparse(t *testing.T) {
	root, paths := validProject(t, 3)
	store, err := cache.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	warm, err := NewDispatcher(ast.NewPythonParser(), Options{Store: store, Fingerprint: "fp1"}).
		Run(context.Background(), root, paths, moduleFromPath)
	require.NoError(t, err)
	assert.Equal(t, 0, warm.CacheHits)

	// Same content, new fingerprint: the whole cache misses.
	cold, err := NewDispatcher(ast.NewPythonParser(), Options{Store: store, Fingerprint: "fp2"}).
		Run(context.Background(), root, paths, moduleFromPath)
	require.NoError(t, err)
	assert.Equal(t, 0, cold.CacheHits)
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	root, paths := validProject(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(ast.NewPythonParser(), Options{})
	_, err := d.Run(ctx, root, paths, moduleFromPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFiles creates a tree of files under root. Keys use forward
// slashes; parent directories are created as needed.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestDetect_SrcLayout(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/myapp/__init__.py":     "",
		"src/myapp/core.py":         "x = 1\n",
		"src/myapp/sub/__init__.py": "",
		"src/myapp/sub/util.py":     "y = 2\n",
		"README.md":                 "readme",
	})

	ctx, err := Detect(root, nil)
	require.NoError(t, err)
	assert.Equal(t, KindSrc, ctx.Kind)
	assert.Equal(t, filepath.Join(root, "src"), ctx.SourceRoot)
	assert.Equal(t, []string{"myapp"}, ctx.RootPackages)
	assert.Equal(t, []string{
		"myapp/__init__.py",
		"myapp/core.py",
		"myapp/sub/__init__.py",
		"myapp/sub/util.py",
	}, ctx.Files)
}

func TestDetect_FlatLayoutMultiplePackages(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"alpha/__init__.py": "",
		"alpha/a.py":        "a = 1\n",
		"beta/__init__.py":  "",
		"beta/b.py":         "b = 2\n",
		"manage.py":         "print('hi')\n",
	})

	ctx, err := Detect(root, nil)
	require.NoError(t, err)
	assert.Equal(t, KindFlat, ctx.Kind)
	assert.Equal(t, root, ctx.SourceRoot)
	assert.Equal(t, []string{"alpha", "beta", "manage"}, ctx.RootPackages)
}

func TestDetect_SkipsVendorDirs(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pkg/__init__.py":          "",
		"pkg/mod.py":               "x = 1\n",
		".venv/lib/junk.py":        "ignored",
		"pkg/__pycache__/cache.py": "ignored",
	})

	ctx, err := Detect(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/__init__.py", "pkg/mod.py"}, ctx.Files)
}

func TestDetect_AmbiguousWithoutOverride(t *testing.T) {
	root := t.TempDir()
	// Loose scripts in plain directories: no packages, no root modules.
	writeFiles(t, root, map[string]string{
		"scripts/one.py":   "x = 1\n",
		"tools/two.py":     "y = 2\n",
		"tools/sub/buried": "not python",
	})

	_, err := Detect(root, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLayoutAmbiguous)
}

func TestDetect_OverrideSuppressesAmbiguity(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"scripts/one.py": "x = 1\n",
	})

	ctx, err := Detect(root, &Override{SourceRoot: "scripts"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "scripts"), ctx.SourceRoot)
	assert.Equal(t, []string{"one.py"}, ctx.Files)
}

func TestDetect_EmptyProject(t *testing.T) {
	_, err := Detect(t.TempDir(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLayoutAmbiguous)
}

func TestModulePath(t *testing.T) {
	ctx := &Context{RootPackages: []string{"myapp"}}

	tests := []struct {
		rel    string
		module string
		ok     bool
	}{
		{"myapp/core.py", "myapp.core", true},
		{"myapp/__init__.py", "myapp", true},
		{"myapp/sub/util.py", "myapp.sub.util", true},
		{"standalone.py", "standalone", true},
		{"other/loose.py", "", false},
		{"notpython.txt", "", false},
	}
	for _, tt := range tests {
		module, ok := ctx.ModulePath(tt.rel)
		assert.Equal(t, tt.ok, ok, tt.rel)
		assert.Equal(t, tt.module, module, tt.rel)
	}
}

func TestReadEntryPoints(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pyproject.toml": `
[project]
name = "myapp"

[project.scripts]
myapp = "myapp.cli:main"
myapp-admin = "myapp.admin:run"

[project.entry-points."myapp.plugins"]
audit = "myapp.plugins.audit:Plugin"
`,
	})

	eps, err := readEntryPoints(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"myapp.admin.run",
		"myapp.cli.main",
		"myapp.plugins.audit.Plugin",
	}, eps)
}

func TestReadEntryPoints_Missing(t *testing.T) {
	eps, err := readEntryPoints(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, eps)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonTestSource = `"""Service layer for the billing app."""

from typing import Optional
import os
import logging as log
from . import local_module
from ..utils import helper as h
from models import *

registry = []

@singleton
class BaseService:
    """Common service behavior."""

    HANDLERS = [AuditHandler, BillingHandler]

    def __init__(self):
        self.audit = AuditService()

    def start(self):
        """Start the service."""
        pass

class BillingService(BaseService, abc.ABC):
    """Charges accounts."""

    def charge(self, account):
        send_task("billing.charge", queue="billing")

app = create_app()

def _internal():
    pass

def main():
    """Entry point."""
    worker = BillingService()
    worker.charge(None)

if __name__ == "__main__":
    main()
`

func TestPythonParser_Parse_EmptyFile(t *testing.T) {
	parser := NewPythonParser()
	record, err := parser.Parse(context.Background(), []byte(""), "empty.py")
	require.NoError(t, err)
	assert.Equal(t, "empty.py", record.FilePath)
	assert.NotEmpty(t, record.ContentHash)
	assert.Empty(t, record.Definitions)
	assert.Empty(t, record.Imports)
	assert.False(t, record.HasSyntaxError)
}

func TestPythonParser_Parse_Imports(t *testing.T) {
	parser := NewPythonParser()
	record, err := parser.Parse(context.Background(), []byte(pythonTestSource), "svc.py")
	require.NoError(t, err)

	byPath := make(map[string]Import)
	for _, imp := range record.Imports {
		byPath[imp.Path] = imp
	}

	typing, ok := byPath["typing"]
	require.True(t, ok)
	require.Len(t, typing.Names, 1)
	assert.Equal(t, "Optional", typing.Names[0].Name)

	osImp, ok := byPath["os"]
	require.True(t, ok)
	assert.Empty(t, osImp.Alias)

	logging, ok := byPath["logging"]
	require.True(t, ok)
	assert.Equal(t, "log", logging.Alias)

	// "from . import local_module"
	var dotImport *Import
	for i := range record.Imports {
		if record.Imports[i].RelativeDots == 1 {
			dotImport = &record.Imports[i]
		}
	}
	require.NotNil(t, dotImport)
	assert.Empty(t, dotImport.Path)
	require.Len(t, dotImport.Names, 1)
	assert.Equal(t, "local_module", dotImport.Names[0].Name)

	utils, ok := byPath["utils"]
	require.True(t, ok)
	assert.Equal(t, 2, utils.RelativeDots)
	require.Len(t, utils.Names, 1)
	assert.Equal(t, "helper", utils.Names[0].Name)
	assert.Equal(t, "h", utils.Names[0].Alias)

	models, ok := byPath["models"]
	require.True(t, ok)
	assert.True(t, models.IsWildcard)
}

func TestPythonParser_Parse_Definitions(t *testing.T) {
	parser := NewPythonParser()
	record, err := parser.Parse(context.Background(), []byte(pythonTestSource), "svc.py")
	require.NoError(t, err)

	byQName := make(map[string]Definition)
	for _, def := range record.Definitions {
		byQName[def.QualifiedName] = def
	}

	base, ok := byQName["BaseService"]
	require.True(t, ok)
	assert.Equal(t, DefinitionKindClass, base.Kind)
	assert.Equal(t, []string{"singleton"}, base.Decorators)
	assert.Equal(t, "Common service behavior.", base.Docstring)
	assert.False(t, base.Private)

	billing, ok := byQName["BillingService"]
	require.True(t, ok)
	assert.Equal(t, []string{"BaseService", "abc.ABC"}, billing.Bases)

	start, ok := byQName["BaseService.start"]
	require.True(t, ok)
	assert.Equal(t, DefinitionKindFunction, start.Kind)
	assert.Equal(t, "start", start.Name)

	init, ok := byQName["BaseService.__init__"]
	require.True(t, ok)
	assert.False(t, init.Private, "dunder names are not private")

	internal, ok := byQName["_internal"]
	require.True(t, ok)
	assert.True(t, internal.Private)
}

func TestPythonParser_Parse_AssignmentsAndCalls(t *testing.T) {
	parser := NewPythonParser()
	record, err := parser.Parse(context.Background(), []byte(pythonTestSource), "svc.py")
	require.NoError(t, err)

	byTarget := make(map[string]Assignment)
	for _, a := range record.Assignments {
		byTarget[a.Target] = a
	}

	app, ok := byTarget["app"]
	require.True(t, ok)
	assert.Empty(t, app.Scope)
	assert.Equal(t, ValueKindCall, app.Value.Kind)
	assert.Equal(t, "create_app", app.Value.Callee)

	audit, ok := byTarget["self.audit"]
	require.True(t, ok)
	assert.Equal(t, "BaseService.__init__", audit.Scope)
	assert.Equal(t, "AuditService", audit.Value.Callee)

	handlers, ok := byTarget["HANDLERS"]
	require.True(t, ok)
	assert.Equal(t, "BaseService", handlers.Scope)
	assert.Equal(t, ValueKindCollection, handlers.Value.Kind)
	assert.Equal(t, []string{"AuditHandler", "BillingHandler"}, handlers.Value.Names)

	registry, ok := byTarget["registry"]
	require.True(t, ok)
	assert.Equal(t, ValueKindCollection, registry.Value.Kind)

	var sendTask *CallSite
	for i := range record.Calls {
		if record.Calls[i].Callee == "send_task" {
			sendTask = &record.Calls[i]
		}
	}
	require.NotNil(t, sendTask)
	assert.Equal(t, "BillingService.charge", sendTask.Scope)
	assert.Equal(t, []string{"billing.charge"}, sendTask.StringArgs)
	assert.Equal(t, map[string]string{"queue": "billing"}, sendTask.KeywordStringArgs)
}

func TestPythonParser_Parse_MainBlockAndDocstring(t *testing.T) {
	parser := NewPythonParser()
	record, err := parser.Parse(context.Background(), []byte(pythonTestSource), "svc.py")
	require.NoError(t, err)

	assert.True(t, record.HasMainBlock)
	assert.Equal(t, "Service layer for the billing app.", record.Docstring)
}

func TestPythonParser_Parse_SyntaxErrorIsTolerated(t *testing.T) {
	source := "def broken(:\n    pass\n\nclass Survivor:\n    pass\n"
	parser := NewPythonParser()
	record, err := parser.Parse(context.Background(), []byte(source), "broken.py")
	require.NoError(t, err)
	assert.True(t, record.HasSyntaxError)

	var names []string
	for _, def := range record.Definitions {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "Survivor")
}

func TestPythonParser_Parse_FileTooLarge(t *testing.T) {
	parser := NewPythonParser(WithMaxFileSize(16))
	_, err := parser.Parse(context.Background(), []byte(strings.Repeat("x = 1\n", 10)), "big.py")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestPythonParser_Parse_InvalidUTF8(t *testing.T) {
	parser := NewPythonParser()
	_, err := parser.Parse(context.Background(), []byte{0xff, 0xfe, 0xfd}, "bad.py")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestPythonParser_Parse_Deterministic(t *testing.T) {
	parser := NewPythonParser()
	first, err := parser.Parse(context.Background(), []byte(pythonTestSource), "svc.py")
	require.NoError(t, err)
	second, err := parser.Parse(context.Background(), []byte(pythonTestSource), "svc.py")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPythonParser_Parse_ConcurrentUse(t *testing.T) {
	parser := NewPythonParser()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := parser.Parse(context.Background(), []byte(pythonTestSource), "svc.py")
			assert.NoError(t, err)
			assert.NotNil(t, record)
		}()
	}
	wg.Wait()
}

func TestIsPrivateName(t *testing.T) {
	tests := []struct {
		name    string
		private bool
	}{
		{"public", false},
		{"_hidden", true},
		{"__mangled", true},
		{"__init__", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.private, IsPrivateName(tt.name), tt.name)
	}
}

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
	"fmt"
	"strings"
)

// Size limits for the worker parser.
const (
	// DefaultMaxFileSize is the maximum file size accepted by the parser (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold above which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024

	// MaxWalkDepth bounds recursive AST walks so pathological nesting
	// cannot blow the stack.
	MaxWalkDepth = 200
)

// DefinitionKind classifies a top-level or nested definition.
type DefinitionKind string

const (
	// DefinitionKindClass is a class definition.
	DefinitionKindClass DefinitionKind = "class"

	// DefinitionKindFunction is a function or method definition.
	DefinitionKindFunction DefinitionKind = "function"
)

// ValueKind classifies the right-hand side of an assignment.
type ValueKind string

const (
	// ValueKindCall is a direct call expression (instantiation candidate).
	ValueKindCall ValueKind = "call"

	// ValueKindName is a bare name or attribute chain.
	ValueKindName ValueKind = "name"

	// ValueKindCollection is a list or tuple literal.
	ValueKindCollection ValueKind = "collection"

	// ValueKindOther is anything else (literals, comprehensions, ...).
	ValueKindOther ValueKind = "other"
)

// Location identifies a span of source code within a file.
type Location struct {
	// FilePath is relative to the source root, using forward slashes.
	FilePath string `json:"file_path"`

	// StartLine is 1-indexed.
	StartLine int `json:"start_line"`

	// EndLine is 1-indexed and inclusive.
	EndLine int `json:"end_line"`
}

// ImportedName is one name brought in by a from-import, with optional alias.
type ImportedName struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// Import is a normalized import statement.
//
// For "import a.b as c": Path="a.b", Alias="c".
// For "from ..pkg import x as y": Path="pkg", RelativeDots=2,
// Names=[{x, y}].
// For "from a import *": Path="a", IsWildcard=true.
type Import struct {
	// Path is the dotted module path with any leading relative dots removed.
	// Empty for "from . import x".
	Path string `json:"path"`

	// Alias is the binding name for "import X as Y" style imports.
	Alias string `json:"alias,omitempty"`

	// Names lists the imported names for from-imports.
	Names []ImportedName `json:"names,omitempty"`

	// IsWildcard is true for "from X import *".
	IsWildcard bool `json:"is_wildcard,omitempty"`

	// RelativeDots counts the leading dots of a relative import (0 = absolute).
	RelativeDots int `json:"relative_dots,omitempty"`

	Location Location `json:"location"`
}

// Definition is a class or function definition extracted from one file.
type Definition struct {
	// Name is the bare definition name.
	Name string `json:"name"`

	// QualifiedName is the module-relative dotted path, e.g. "Outer.method".
	QualifiedName string `json:"qualified_name"`

	Kind DefinitionKind `json:"kind"`

	// Docstring is the full docstring body, or empty.
	Docstring string `json:"docstring,omitempty"`

	// Decorators holds the dotted callee of each decorator, outermost first.
	Decorators []string `json:"decorators,omitempty"`

	// Bases holds the base class names of a class as written in source
	// (dotted names preserved, subscripts reduced to the base name).
	Bases []string `json:"bases,omitempty"`

	// Private reports the leading-underscore naming convention.
	Private bool `json:"private,omitempty"`

	Location Location `json:"location"`
}

// AssignmentValue describes the right-hand side of an assignment.
type AssignmentValue struct {
	Kind ValueKind `json:"kind"`

	// Callee is the dotted callee when Kind is ValueKindCall.
	Callee string `json:"callee,omitempty"`

	// Names lists dotted names referenced by the value: the RHS name
	// itself, call arguments that are names, or collection elements.
	Names []string `json:"names,omitempty"`

	// Strings lists string literals appearing directly in the value.
	Strings []string `json:"strings,omitempty"`
}

// Assignment is a recorded assignment site.
//
// Module-level assignments whose value is a direct call are the seed
// candidates for concept-flow tracking; class-level collection literals
// feed the registration pass.
type Assignment struct {
	// Target is the dotted assignment target, e.g. "app" or "self.svc".
	Target string `json:"target"`

	// Scope is the module-relative qualified name of the enclosing
	// definition, or empty for module scope.
	Scope string `json:"scope,omitempty"`

	Value AssignmentValue `json:"value"`

	Location Location `json:"location"`
}

// CallSite is a recorded call expression with its literal string arguments.
//
// Only the facts needed by downstream passes are kept: the dotted callee,
// the enclosing scope, and any string literal arguments (positional and
// keyword) used for dynamic-behavior correlation.
type CallSite struct {
	// Callee is the dotted call target as written, e.g. "queue.send_task".
	Callee string `json:"callee"`

	// Scope is the module-relative qualified name of the enclosing
	// definition, or empty for module scope.
	Scope string `json:"scope,omitempty"`

	// StringArgs lists positional string literal arguments in order.
	StringArgs []string `json:"string_args,omitempty"`

	// KeywordStringArgs maps keyword argument names to string literal values.
	KeywordStringArgs map[string]string `json:"keyword_string_args,omitempty"`

	Location Location `json:"location"`
}

// FileRecord is the complete per-file output of the worker parser.
//
// A FileRecord is a pure function of the file content and the parse
// options: two parses of identical bytes produce byte-identical records.
// That property is what makes records safe to store in the
// content-addressed cache. ModTimeMilli is bookkeeping set by the
// dispatcher and deliberately excluded from serialization.
type FileRecord struct {
	// FilePath is relative to the source root, using forward slashes.
	FilePath string `json:"file_path"`

	// Module is the dotted module path, set by the dispatcher from the
	// layout context (e.g. "pkg.sub.mod", "pkg" for pkg/__init__.py).
	Module string `json:"module"`

	// ContentHash is the SHA-256 hex digest of the file content.
	ContentHash string `json:"content_hash"`

	// ModTimeMilli is the file's last-modified marker (Unix milliseconds).
	// Not serialized: it is not a function of content.
	ModTimeMilli int64 `json:"-"`

	// Docstring is the module docstring, or empty.
	Docstring string `json:"docstring,omitempty"`

	// HasMainBlock reports a module-level `if __name__ == "__main__"` guard.
	HasMainBlock bool `json:"has_main_block,omitempty"`

	// HasSyntaxError reports that tree-sitter flagged errors; the record
	// still carries whatever could be extracted.
	HasSyntaxError bool `json:"has_syntax_error,omitempty"`

	Imports     []Import     `json:"imports"`
	Definitions []Definition `json:"definitions"`
	Assignments []Assignment `json:"assignments"`
	Calls       []CallSite   `json:"calls"`

	// Errors lists non-fatal extraction problems.
	Errors []string `json:"errors,omitempty"`
}

// Validate checks internal consistency of the record.
func (r *FileRecord) Validate() error {
	if r.FilePath == "" {
		return fmt.Errorf("file record has empty file path")
	}
	if r.ContentHash == "" {
		return fmt.Errorf("file record %s has empty content hash", r.FilePath)
	}
	for i := range r.Definitions {
		if r.Definitions[i].QualifiedName == "" {
			return fmt.Errorf("file record %s: definition %d has empty qualified name", r.FilePath, i)
		}
	}
	return nil
}

// IsPrivateName reports the Python leading-underscore convention.
// Dunder names ("__init__") are not considered private.
func IsPrivateName(name string) bool {
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return false
	}
	return strings.HasPrefix(name, "_")
}

// ParseOptions controls what the worker parser extracts.
type ParseOptions struct {
	// IncludePrivate includes leading-underscore definitions. Default true:
	// the resolver needs private definitions for conflict detection even
	// though the recommender filters them later.
	IncludePrivate bool
}

// DefaultParseOptions returns the defaults used by NewPythonParser.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{IncludePrivate: true}
}

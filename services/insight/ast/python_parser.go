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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonParserOption configures a PythonParser instance.
type PythonParserOption func(*PythonParser)

// WithMaxFileSize sets the maximum file size the parser will accept.
func WithMaxFileSize(bytes int64) PythonParserOption {
	return func(p *PythonParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithParseOptions applies the given ParseOptions to the parser.
func WithParseOptions(opts ParseOptions) PythonParserOption {
	return func(p *PythonParser) {
		p.parseOptions = opts
	}
}

// PythonParser extracts per-file facts from Python source code.
//
// Description:
//
//	PythonParser is the stateless worker unit of the map phase. It parses
//	one file with tree-sitter and extracts imports, class/function
//	definitions with docstrings and decorators, assignment sites, and
//	call sites with literal string arguments. It never touches shared
//	state, which is what makes parallel dispatch race-free by
//	construction.
//
// Thread Safety:
//
//	PythonParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser internally.
type PythonParser struct {
	maxFileSize  int64
	parseOptions ParseOptions
}

// NewPythonParser creates a PythonParser with the given options.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{
		maxFileSize:  DefaultMaxFileSize,
		parseOptions: DefaultParseOptions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language returns the canonical language name for this parser.
func (p *PythonParser) Language() string {
	return "python"
}

// Extensions returns the file extensions this parser handles.
func (p *PythonParser) Extensions() []string {
	return []string{".py", ".pyi"}
}

// Parse extracts per-file facts from Python source code.
//
// Description:
//
//	Parses the provided content and returns a FileRecord. The parser is
//	error-tolerant: syntactically invalid files yield a record with
//	HasSyntaxError set and whatever facts could still be extracted. Only
//	structural failures (oversized file, invalid UTF-8, tree-sitter
//	failure) return an error.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked before and after parsing.
//	content - Raw source bytes. Must be valid UTF-8.
//	filePath - Path relative to the source root, forward slashes.
//
// Outputs:
//
//	*FileRecord - Extracted facts. Never nil on success. A pure function
//	of (content, options): identical inputs produce identical records.
//	error - ErrFileTooLarge, ErrInvalidContent, ErrParseFailed, or a
//	context error.
//
// Thread Safety: safe for concurrent use.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*FileRecord, error) {
	ctx, span := startParseSpan(ctx, filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	hash := sha256.Sum256(content)

	// New tree-sitter parser per call for thread safety.
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	record := &FileRecord{
		FilePath:    filePath,
		ContentHash: hex.EncodeToString(hash[:]),
		Imports:     make([]Import, 0),
		Definitions: make([]Definition, 0),
		Assignments: make([]Assignment, 0),
		Calls:       make([]CallSite, 0),
	}

	root := tree.RootNode()
	if root == nil {
		record.Errors = append(record.Errors, "tree-sitter returned nil root node")
		return record, nil
	}
	if root.HasError() {
		record.HasSyntaxError = true
		record.Errors = append(record.Errors, "source contains syntax errors")
	}

	record.Docstring = p.extractLeadingDocstring(root, content)
	p.walk(root, content, record, nil, 0)

	if err := record.Validate(); err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	recordParseMetrics(ctx, time.Since(start), true)
	return record, nil
}

// walk visits one node, dispatching to the extraction handlers.
//
// scope is the stack of enclosing definition names (module scope = empty).
// Handlers that recurse into their own bodies return without falling
// through to the generic recursion, so no node is visited twice.
func (p *PythonParser) walk(node *sitter.Node, content []byte, record *FileRecord, scope []string, depth int) {
	if node == nil || depth > MaxWalkDepth {
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import_statement":
			p.processImportStatement(child, content, record)
		case "import_from_statement":
			p.processImportFromStatement(child, content, record)
		case "class_definition":
			p.processDefinition(child, content, record, scope, nil, depth)
		case "function_definition":
			p.processDefinition(child, content, record, scope, nil, depth)
		case "decorated_definition":
			p.processDecoratedDefinition(child, content, record, scope, depth)
		case "expression_statement":
			p.processExpressionStatement(child, content, record, scope, depth)
		case "if_statement":
			if len(scope) == 0 && isMainGuard(child, content) {
				record.HasMainBlock = true
			}
			p.walk(child, content, record, scope, depth+1)
		case "call":
			p.processCall(child, content, record, scope, depth)
		default:
			p.walk(child, content, record, scope, depth+1)
		}
	}
}

// processExpressionStatement handles assignments and bare expressions.
func (p *PythonParser) processExpressionStatement(node *sitter.Node, content []byte, record *FileRecord, scope []string, depth int) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "assignment", "augmented_assignment":
			p.processAssignment(child, content, record, scope, depth)
		case "call":
			p.processCall(child, content, record, scope, depth)
		default:
			p.walk(child, content, record, scope, depth+1)
		}
	}
}

// processImportStatement handles "import foo" and "import foo as bar".
func (p *PythonParser) processImportStatement(node *sitter.Node, content []byte, record *FileRecord) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			record.Imports = append(record.Imports, Import{
				Path:     nodeText(child, content),
				Location: nodeLocation(node, record.FilePath),
			})
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					path = nodeText(grandchild, content)
				case "identifier":
					alias = nodeText(grandchild, content)
				}
			}
			if path != "" {
				record.Imports = append(record.Imports, Import{
					Path:     path,
					Alias:    alias,
					Location: nodeLocation(node, record.FilePath),
				})
			}
		}
	}
}

// processImportFromStatement handles "from x import y" in all its forms:
// aliases, relative dots, and wildcards.
func (p *PythonParser) processImportFromStatement(node *sitter.Node, content []byte, record *FileRecord) {
	imp := Import{Location: nodeLocation(node, record.FilePath)}
	var names []ImportedName
	sawImport := false

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "import_prefix":
					imp.RelativeDots = len(nodeText(grandchild, content))
				case "dotted_name":
					imp.Path = nodeText(grandchild, content)
				}
			}
		case "dotted_name":
			text := nodeText(child, content)
			if !sawImport {
				imp.Path = text
			} else {
				names = append(names, ImportedName{Name: text})
			}
		case "wildcard_import":
			imp.IsWildcard = true
		case "aliased_import":
			var name, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name", "identifier":
					if name == "" {
						name = nodeText(grandchild, content)
					} else {
						alias = nodeText(grandchild, content)
					}
				}
			}
			if name != "" {
				names = append(names, ImportedName{Name: name, Alias: alias})
			}
		case "identifier":
			if sawImport {
				names = append(names, ImportedName{Name: nodeText(child, content)})
			}
		}
	}

	if imp.Path == "" && imp.RelativeDots == 0 && !imp.IsWildcard && len(names) == 0 {
		return
	}
	imp.Names = names
	record.Imports = append(record.Imports, imp)
}

// processDecoratedDefinition collects decorators and forwards to the
// inner class or function definition.
func (p *PythonParser) processDecoratedDefinition(node *sitter.Node, content []byte, record *FileRecord, scope []string, depth int) {
	var decorators []string
	var inner *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "decorator":
			if name := decoratorCallee(child, content); name != "" {
				decorators = append(decorators, name)
			}
		case "class_definition", "function_definition":
			inner = child
		}
	}

	if inner != nil {
		p.processDefinition(inner, content, record, scope, decorators, depth)
	}
}

// processDefinition extracts one class or function definition and
// recurses into its body with the extended scope.
func (p *PythonParser) processDefinition(node *sitter.Node, content []byte, record *FileRecord, scope []string, decorators []string, depth int) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, content)
	if name == "" {
		return
	}
	if !p.parseOptions.IncludePrivate && IsPrivateName(name) {
		return
	}

	qualified := name
	if len(scope) > 0 {
		qualified = strings.Join(scope, ".") + "." + name
	}

	def := Definition{
		Name:          name,
		QualifiedName: qualified,
		Kind:          DefinitionKindFunction,
		Decorators:    decorators,
		Private:       IsPrivateName(name),
		Location:      nodeLocation(node, record.FilePath),
	}

	if node.Type() == "class_definition" {
		def.Kind = DefinitionKindClass
		def.Bases = extractBases(node.ChildByFieldName("superclasses"), content)
	}

	body := node.ChildByFieldName("body")
	if body != nil {
		def.Docstring = p.extractLeadingDocstring(body, content)
	}

	record.Definitions = append(record.Definitions, def)

	if body != nil {
		p.walk(body, content, record, append(scope, name), depth+1)
	}
}

// processAssignment records one assignment site and recurses into the
// value for nested calls.
func (p *PythonParser) processAssignment(node *sitter.Node, content []byte, record *FileRecord, scope []string, depth int) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil {
		// Bare annotation ("x: int") has no right side; nothing to track.
		return
	}

	value := classifyValue(right, content)
	scopeName := strings.Join(scope, ".")
	loc := nodeLocation(node, record.FilePath)

	for _, target := range assignmentTargets(left, content) {
		record.Assignments = append(record.Assignments, Assignment{
			Target:   target,
			Scope:    scopeName,
			Value:    value,
			Location: loc,
		})
	}

	p.walk(right, content, record, scope, depth+1)
	if right.Type() == "call" {
		p.recordCall(right, content, record, scope)
	}
}

// processCall records one call site, then recurses into the arguments
// so nested calls are captured as their own sites.
func (p *PythonParser) processCall(node *sitter.Node, content []byte, record *FileRecord, scope []string, depth int) {
	p.recordCall(node, content, record, scope)
	if args := node.ChildByFieldName("arguments"); args != nil {
		p.walk(args, content, record, scope, depth+1)
	}
}

// recordCall appends a CallSite for the given call node.
func (p *PythonParser) recordCall(node *sitter.Node, content []byte, record *FileRecord, scope []string) {
	fn := node.ChildByFieldName("function")
	callee := dottedName(fn, content)
	if callee == "" {
		return
	}

	site := CallSite{
		Callee:   callee,
		Scope:    strings.Join(scope, "."),
		Location: nodeLocation(node, record.FilePath),
	}

	if args := node.ChildByFieldName("arguments"); args != nil {
		for i := 0; i < int(args.ChildCount()); i++ {
			arg := args.Child(i)
			switch arg.Type() {
			case "string":
				site.StringArgs = append(site.StringArgs, stringContent(arg, content))
			case "keyword_argument":
				key := arg.ChildByFieldName("name")
				val := arg.ChildByFieldName("value")
				if key != nil && val != nil && val.Type() == "string" {
					if site.KeywordStringArgs == nil {
						site.KeywordStringArgs = make(map[string]string)
					}
					site.KeywordStringArgs[nodeText(key, content)] = stringContent(val, content)
				}
			}
		}
	}

	record.Calls = append(record.Calls, site)
}

// extractLeadingDocstring returns the docstring if the first statement
// of the given block (or module root) is a string expression.
func (p *PythonParser) extractLeadingDocstring(block *sitter.Node, content []byte) string {
	for i := 0; i < int(block.ChildCount()); i++ {
		child := block.Child(i)
		if child.Type() == "comment" {
			continue
		}
		if child.Type() == "expression_statement" && child.ChildCount() > 0 {
			if str := child.Child(0); str.Type() == "string" {
				return stringContent(str, content)
			}
		}
		return ""
	}
	return ""
}

// =============================================================================
// Node helpers
// =============================================================================

// nodeText returns the raw source text of a node.
func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if int(end) > len(content) || start > end {
		return ""
	}
	return string(content[start:end])
}

// nodeLocation converts tree-sitter points to a 1-indexed Location.
func nodeLocation(node *sitter.Node, filePath string) Location {
	return Location{
		FilePath:  filePath,
		StartLine: int(node.StartPoint().Row + 1),
		EndLine:   int(node.EndPoint().Row + 1),
	}
}

// dottedName reduces an identifier, attribute chain, subscript, or call
// to its dotted name ("a.b.c"). Returns "" for anything else.
func dottedName(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "identifier":
		return nodeText(node, content)
	case "attribute":
		value := dottedName(node.ChildByFieldName("object"), content)
		attr := nodeText(node.ChildByFieldName("attribute"), content)
		if value == "" || attr == "" {
			return ""
		}
		return value + "." + attr
	case "subscript":
		return dottedName(node.ChildByFieldName("value"), content)
	case "call":
		return dottedName(node.ChildByFieldName("function"), content)
	default:
		return ""
	}
}

// decoratorCallee returns the dotted callee of a decorator node.
func decoratorCallee(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "@" {
			continue
		}
		if name := dottedName(child, content); name != "" {
			return name
		}
	}
	return ""
}

// extractBases extracts base class names from a superclasses argument list.
// Subscripted bases (Protocol[T]) reduce to their base name; keyword
// arguments (metaclass=ABCMeta) contribute their value.
func extractBases(args *sitter.Node, content []byte) []string {
	if args == nil {
		return nil
	}
	var bases []string
	for i := 0; i < int(args.ChildCount()); i++ {
		arg := args.Child(i)
		switch arg.Type() {
		case "identifier", "attribute", "subscript":
			if name := dottedName(arg, content); name != "" {
				bases = append(bases, name)
			}
		case "keyword_argument":
			if name := dottedName(arg.ChildByFieldName("value"), content); name != "" {
				bases = append(bases, name)
			}
		}
	}
	return bases
}

// assignmentTargets flattens an assignment left side into dotted targets.
// Tuple unpacking yields one target per element.
func assignmentTargets(left *sitter.Node, content []byte) []string {
	switch left.Type() {
	case "identifier", "attribute":
		if name := dottedName(left, content); name != "" {
			return []string{name}
		}
	case "pattern_list", "tuple_pattern", "list_pattern":
		var targets []string
		for i := 0; i < int(left.ChildCount()); i++ {
			child := left.Child(i)
			if name := dottedName(child, content); name != "" {
				targets = append(targets, name)
			}
		}
		return targets
	}
	return nil
}

// classifyValue describes an assignment right side for downstream passes.
func classifyValue(right *sitter.Node, content []byte) AssignmentValue {
	switch right.Type() {
	case "call":
		value := AssignmentValue{
			Kind:   ValueKindCall,
			Callee: dottedName(right.ChildByFieldName("function"), content),
		}
		if args := right.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.ChildCount()); i++ {
				arg := args.Child(i)
				switch arg.Type() {
				case "identifier", "attribute":
					value.Names = append(value.Names, dottedName(arg, content))
				case "string":
					value.Strings = append(value.Strings, stringContent(arg, content))
				case "lambda":
					// LocalProxy(lambda: obj) style: look through the lambda body.
					if body := arg.ChildByFieldName("body"); body != nil {
						if name := dottedName(body, content); name != "" {
							value.Names = append(value.Names, name)
						}
					}
				}
			}
		}
		return value
	case "identifier", "attribute":
		return AssignmentValue{
			Kind:  ValueKindName,
			Names: []string{dottedName(right, content)},
		}
	case "list", "tuple":
		value := AssignmentValue{Kind: ValueKindCollection}
		for i := 0; i < int(right.ChildCount()); i++ {
			child := right.Child(i)
			switch child.Type() {
			case "identifier", "attribute":
				value.Names = append(value.Names, dottedName(child, content))
			case "string":
				value.Strings = append(value.Strings, stringContent(child, content))
			}
		}
		return value
	case "string":
		return AssignmentValue{
			Kind:    ValueKindOther,
			Strings: []string{stringContent(right, content)},
		}
	default:
		return AssignmentValue{Kind: ValueKindOther}
	}
}

// stringContent strips prefixes and quotes from a string literal node.
func stringContent(node *sitter.Node, content []byte) string {
	text := nodeText(node, content)
	// Strip prefix characters (r, b, f, u in any case/combination).
	for len(text) > 0 {
		c := text[0]
		if c == '"' || c == '\'' {
			break
		}
		text = text[1:]
	}
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(text, quote) && strings.HasSuffix(text, quote) && len(text) >= 2*len(quote) {
			return text[len(quote) : len(text)-len(quote)]
		}
	}
	return text
}

// isMainGuard reports whether an if statement is a module main guard.
func isMainGuard(node *sitter.Node, content []byte) bool {
	cond := node.ChildByFieldName("condition")
	if cond == nil {
		return false
	}
	text := nodeText(cond, content)
	return strings.Contains(text, "__name__") && strings.Contains(text, "__main__")
}

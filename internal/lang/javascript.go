package lang

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/phobologic/docweave/internal/model"
)

// ScriptAdapter handles JavaScript and TypeScript through tree-sitter,
// selecting the grammar per file extension. Documentation blocks are JSDoc
// comments immediately preceding a declaration. Validation relies on
// tree-sitter ERROR and MISSING node detection since no external compiler is
// assumed.
type ScriptAdapter struct {
	js  *sitter.Language
	ts  *sitter.Language
	tsx *sitter.Language
}

// NewScript returns a JavaScript/TypeScript adapter.
func NewScript() *ScriptAdapter {
	return &ScriptAdapter{
		js:  javascript.GetLanguage(),
		ts:  typescript.GetLanguage(),
		tsx: tsx.GetLanguage(),
	}
}

func (a *ScriptAdapter) Name() string { return "javascript" }

func (a *ScriptAdapter) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx"}
}

func (a *ScriptAdapter) Discover(target string) ([]string, error) {
	return discoverByExt(target, a.Extensions())
}

func (a *ScriptAdapter) grammarFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return a.ts
	case ".tsx":
		return a.tsx
	default:
		return a.js
	}
}

// Parse extracts functions, classes, and imports.
func (a *ScriptAdapter) Parse(path string, source []byte) (*model.ParsedModule, error) {
	tree, err := parseTree(a.grammarFor(path), source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	lines := splitLines(source)

	mod := &model.ParsedModule{
		Path:     path,
		Language: a.Name(),
		Imports:  jsModuleImports(root, source),
	}

	a.walkScript(root, source, lines, "", mod)
	return mod, nil
}

// walkScript iterates named children so each node's preceding sibling is
// known, which is how JSDoc comments are associated with declarations.
func (a *ScriptAdapter) walkScript(node *sitter.Node, source []byte, lines []string, parent string, mod *model.ParsedModule) {
	var prev *sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		a.visitStatement(child, child, prev, source, lines, parent, mod)
		prev = child
	}
}

// visitStatement handles one statement. outer is the outermost statement
// node (an export_statement wrapper keeps its own start line and doc
// comment); prev is the preceding named sibling of outer.
func (a *ScriptAdapter) visitStatement(node, outer, prev *sitter.Node, source []byte, lines []string, parent string, mod *model.ParsedModule) {
	switch node.Type() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			a.visitStatement(decl, node, prev, source, lines, parent, mod)
		}

	case "function_declaration", "generator_function_declaration":
		mod.Functions = append(mod.Functions,
			a.parseScriptFunction(node, outer, prev, source, lines, parent, mod.Imports))

	case "class_declaration", "class":
		name := ""
		if n := node.ChildByFieldName("name"); n != nil {
			name = NodeText(n, source)
		}
		if name != "" {
			mod.Types = append(mod.Types, name)
		}
		if body := node.ChildByFieldName("body"); body != nil {
			a.walkClassBody(body, source, lines, name, mod)
		}

	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			declarator := node.NamedChild(i)
			if declarator.Type() != "variable_declarator" {
				continue
			}
			value := declarator.ChildByFieldName("value")
			if value == nil || !isFunctionValue(value.Type()) {
				continue
			}
			fn := a.parseScriptFunction(value, outer, prev, source, lines, parent, mod.Imports)
			if n := declarator.ChildByFieldName("name"); n != nil {
				fn.Name = NodeText(n, source)
				fn.IsPrivate = isScriptPrivate(fn.Name)
				fn.Signature = fn.Name + " = " + fn.Signature
			}
			mod.Functions = append(mod.Functions, fn)
		}

	case "interface_declaration", "type_alias_declaration", "enum_declaration":
		if n := node.ChildByFieldName("name"); n != nil {
			mod.Types = append(mod.Types, NodeText(n, source))
		}

	default:
		a.walkScript(node, source, lines, parent, mod)
	}
}

func (a *ScriptAdapter) walkClassBody(body *sitter.Node, source []byte, lines []string, className string, mod *model.ParsedModule) {
	var prev *sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() == "method_definition" {
			mod.Functions = append(mod.Functions,
				a.parseScriptFunction(member, member, prev, source, lines, className, mod.Imports))
		}
		prev = member
	}
}

func isFunctionValue(nodeType string) bool {
	switch nodeType {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

func isScriptPrivate(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, "#")
}

func (a *ScriptAdapter) parseScriptFunction(def, outer, prev *sitter.Node, source []byte, lines []string, parent string, moduleImports []string) model.ParsedFunction {
	name := ""
	if n := def.ChildByFieldName("name"); n != nil {
		name = NodeText(n, source)
	}

	start := startLine(outer)
	end := endLine(outer)
	if endLine(def) > end {
		end = endLine(def)
	}

	async := false
	generator := strings.Contains(def.Type(), "generator")
	for i := 0; i < int(def.ChildCount()); i++ {
		switch def.Child(i).Type() {
		case "async":
			async = true
		case "*":
			generator = true
		}
	}

	totalParams, typedParams := jsParamCounts(def)
	returnTyped := def.ChildByFieldName("return_type") != nil

	fn := model.ParsedFunction{
		Name:        name,
		Signature:   jsSignature(def, source, async),
		Body:        extractBody(lines, start, end),
		Doc:         jsPrecedingDoc(prev, outer, source),
		StartLine:   start,
		EndLine:     end,
		Decorators:  jsDecorators(outer, source),
		IsAsync:     async,
		IsMethod:    parent != "",
		IsPrivate:   isScriptPrivate(name),
		IsGenerator: generator,
		Parent:      parent,
		Calls:       jsCalls(def, source),
		Imports:     moduleImports,
		Raises:      jsThrows(def, source),
		Extra: map[string]string{
			"params_total": strconv.Itoa(totalParams),
			"params_typed": strconv.Itoa(typedParams),
			"return_typed": strconv.FormatBool(returnTyped),
		},
	}
	return fn
}

func jsSignature(def *sitter.Node, source []byte, async bool) string {
	var name, params, ret string
	if n := def.ChildByFieldName("name"); n != nil {
		name = NodeText(n, source)
	}
	if n := def.ChildByFieldName("parameters"); n != nil {
		params = CollapseWhitespace(NodeText(n, source))
	} else if n := def.ChildByFieldName("parameter"); n != nil {
		// Arrow function with a single bare parameter.
		params = "(" + NodeText(n, source) + ")"
	}
	if n := def.ChildByFieldName("return_type"); n != nil {
		ret = strings.TrimPrefix(NodeText(n, source), ":")
		ret = strings.TrimSpace(ret)
	}

	sig := name + params
	if def.Type() == "arrow_function" {
		sig = params + " =>"
	}
	if async {
		sig = "async " + sig
	}
	if ret != "" {
		sig += ": " + ret
	}
	return sig
}

func jsParamCounts(def *sitter.Node) (total, typed int) {
	params := def.ChildByFieldName("parameters")
	if params == nil {
		if def.ChildByFieldName("parameter") != nil {
			return 1, 0
		}
		return 0, 0
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier", "required_parameter", "optional_parameter",
			"rest_pattern", "object_pattern", "array_pattern", "assignment_pattern":
			total++
			for j := 0; j < int(p.NamedChildCount()); j++ {
				if p.NamedChild(j).Type() == "type_annotation" {
					typed++
					break
				}
			}
		}
	}
	return total, typed
}

// jsDecorators returns TypeScript decorator names attached to the node.
func jsDecorators(node *sitter.Node, source []byte) []string {
	var decorators []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "decorator" {
			continue
		}
		text := strings.TrimPrefix(NodeText(child, source), "@")
		if idx := strings.Index(text, "("); idx > 0 {
			text = text[:idx]
		}
		decorators = append(decorators, strings.TrimSpace(text))
	}
	return decorators
}

// jsPrecedingDoc returns the cleaned text of a comment block immediately
// above the declaration: either one block comment or a contiguous run of
// line comments ending on the previous line.
func jsPrecedingDoc(prev, decl *sitter.Node, source []byte) string {
	if prev == nil || prev.Type() != "comment" {
		return ""
	}
	if endLine(prev) != startLine(decl)-1 {
		return ""
	}
	return cleanScriptComment(NodeText(prev, source))
}

// cleanScriptComment strips comment delimiters and leading asterisks.
func cleanScriptComment(text string) string {
	if strings.HasPrefix(text, "/*") {
		text = strings.TrimPrefix(text, "/**")
		text = strings.TrimPrefix(text, "/*")
		text = strings.TrimSuffix(text, "*/")
		var out []string
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimPrefix(line, "*")
			line = strings.TrimPrefix(line, " ")
			out = append(out, line)
		}
		return strings.TrimSpace(strings.Join(out, "\n"))
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "//")
		out = append(out, strings.TrimPrefix(line, " "))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// jsCalls returns call targets within the function subtree, member paths
// intact. Slicing stays byte-aligned so multibyte text earlier in the file
// cannot shift extracted names.
func jsCalls(def *sitter.Node, source []byte) []string {
	var calls []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "call_expression" {
			if fn := n.ChildByFieldName("function"); fn != nil {
				switch fn.Type() {
				case "identifier", "member_expression":
					calls = append(calls, NodeText(fn, source))
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(def)
	return uniqueStrings(calls)
}

func jsThrows(def *sitter.Node, source []byte) []string {
	var throws []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "throw_statement" && n.NamedChildCount() > 0 {
			expr := n.NamedChild(0)
			if expr.Type() == "new_expression" {
				if ctor := expr.ChildByFieldName("constructor"); ctor != nil {
					throws = append(throws, NodeText(ctor, source))
				}
			} else {
				text := NodeText(expr, source)
				if idx := strings.Index(text, "("); idx > 0 {
					text = text[:idx]
				}
				throws = append(throws, strings.TrimSpace(text))
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(def)
	return uniqueStrings(throws)
}

// jsModuleImports extracts top-level import sources and require targets.
func jsModuleImports(root *sitter.Node, source []byte) []string {
	var imports []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Type() {
		case "import_statement":
			if src := stmt.ChildByFieldName("source"); src != nil {
				imports = append(imports, stripStringQuotes(NodeText(src, source)))
			}
		case "lexical_declaration", "variable_declaration", "expression_statement":
			if target := findRequireTarget(stmt, source); target != "" {
				imports = append(imports, target)
			}
		}
	}
	return uniqueStrings(imports)
}

func findRequireTarget(node *sitter.Node, source []byte) string {
	if node.Type() == "call_expression" {
		fn := node.ChildByFieldName("function")
		if fn != nil && NodeText(fn, source) == "require" {
			args := node.ChildByFieldName("arguments")
			if args != nil && args.NamedChildCount() > 0 {
				return stripStringQuotes(NodeText(args.NamedChild(0), source))
			}
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if target := findRequireTarget(node.NamedChild(i), source); target != "" {
			return target
		}
	}
	return ""
}

func stripStringQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, "'", "`"} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2 {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ExtractDoc returns the comment block of the declaration starting at line.
func (a *ScriptAdapter) ExtractDoc(path string, line int) (string, bool, error) {
	source, err := readSource(path)
	if err != nil {
		return "", false, err
	}
	mod, err := a.Parse(path, source)
	if err != nil {
		return "", false, err
	}
	if fn, ok := functionAtLine(mod, line); ok {
		return fn.Doc, fn.Doc != "", nil
	}
	return "", false, nil
}

// InsertDoc replaces the JSDoc block immediately above the declaration at
// line, or inserts a new one at the declaration's indentation.
func (a *ScriptAdapter) InsertDoc(path string, line int, text string) error {
	source, err := readSource(path)
	if err != nil {
		return err
	}

	mod, err := a.Parse(path, source)
	if err != nil {
		return err
	}
	if _, ok := functionAtLine(mod, line); !ok {
		return fmt.Errorf("%s:%d: no function declaration starts here", path, line)
	}

	lines := splitLines(source)
	if line < 1 || line > len(lines) {
		return fmt.Errorf("%s:%d: line out of range", path, line)
	}
	indent := leadingIndent(lines[line-1])
	block := jsDocLines(text, indent)

	if start, end, ok := a.precedingCommentSpan(path, source, line); ok {
		lines = spliceLines(lines, start, end, block)
	} else {
		lines = insertLines(lines, line, block)
	}

	return writeSource(path, []byte(strings.Join(lines, "\n")))
}

// precedingCommentSpan locates the comment block contiguous with line: a
// block comment ending on line-1, extended upward through any adjacent
// comment siblings.
func (a *ScriptAdapter) precedingCommentSpan(path string, source []byte, line int) (int, int, bool) {
	tree, err := parseTree(a.grammarFor(path), source)
	if err != nil {
		return 0, 0, false
	}
	defer tree.Close()

	var comments []*sitter.Node
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "comment" {
			comments = append(comments, n)
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(tree.RootNode())

	start, end := 0, 0
	wanted := line - 1
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		if endLine(c) != wanted {
			continue
		}
		start, end = startLine(c), maxInt(end, endLine(c))
		wanted = start - 1
	}
	if start == 0 {
		return 0, 0, false
	}
	return start, end, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// jsDocLines renders text as a JSDoc comment block at the given indent.
func jsDocLines(text, indent string) []string {
	text = strings.ReplaceAll(text, "*/", "*\\/")
	text = strings.TrimRight(text, "\n")
	parts := strings.Split(text, "\n")

	if len(parts) == 1 {
		return []string{indent + "/** " + parts[0] + " */"}
	}

	block := make([]string, 0, len(parts)+2)
	block = append(block, indent+"/**")
	for _, p := range parts {
		if p == "" {
			block = append(block, indent+" *")
		} else {
			block = append(block, indent+" * "+p)
		}
	}
	block = append(block, indent+" */")
	return block
}

// GatherFacts returns calls within the named function and module imports.
func (a *ScriptAdapter) GatherFacts(path string, functionName string) (model.Facts, error) {
	source, err := readSource(path)
	if err != nil {
		return model.Facts{}, err
	}
	mod, err := a.Parse(path, source)
	if err != nil {
		return model.Facts{}, err
	}
	return factsForFunction(mod, functionName)
}

// Validate re-parses and fails on ERROR or MISSING nodes.
func (a *ScriptAdapter) Validate(path string) error {
	source, err := readSource(path)
	if err != nil {
		return err
	}
	return a.ValidateSource(path, source)
}

func (a *ScriptAdapter) ValidateSource(path string, source []byte) error {
	tree, err := parseTree(a.grammarFor(path), source)
	if err != nil {
		return err
	}
	defer tree.Close()
	return scanTreeErrors(path, tree.RootNode())
}

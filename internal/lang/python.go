package lang

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/docweave/internal/model"
)

// PythonAdapter parses Python sources with tree-sitter. Syntax validation
// prefers a real compile check through the python3 executable and falls back
// to tree-sitter error-node detection when the interpreter is unavailable.
type PythonAdapter struct {
	lang    *sitter.Language
	python  string // interpreter executable, "" disables the compile probe
	timeout time.Duration
}

// PythonOption configures a PythonAdapter.
type PythonOption func(*PythonAdapter)

// WithInterpreter sets the python executable used for compile checks.
// Passing "" disables the probe entirely.
func WithInterpreter(exe string) PythonOption {
	return func(a *PythonAdapter) {
		a.python = exe
	}
}

// NewPython returns a Python adapter.
func NewPython(opts ...PythonOption) *PythonAdapter {
	a := &PythonAdapter{
		lang:    python.GetLanguage(),
		python:  "python3",
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *PythonAdapter) Name() string { return "python" }

func (a *PythonAdapter) Extensions() []string { return []string{".py", ".pyw"} }

func (a *PythonAdapter) Discover(target string) ([]string, error) {
	return discoverByExt(target, a.Extensions())
}

// Parse extracts functions, classes, imports, and the module docstring.
func (a *PythonAdapter) Parse(path string, source []byte) (*model.ParsedModule, error) {
	tree, err := parseTree(a.lang, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	lines := splitLines(source)

	mod := &model.ParsedModule{
		Path:     path,
		Language: a.Name(),
		Doc:      pyDocstring(root, source),
		Imports:  pyModuleImports(root, source),
	}

	a.walk(root, source, lines, "", mod)
	return mod, nil
}

// walk collects class names and function definitions. parent carries the
// enclosing class name for method detection.
func (a *PythonAdapter) walk(node *sitter.Node, source []byte, lines []string, parent string, mod *model.ParsedModule) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_definition":
			a.walkClass(child, source, lines, mod)
		case "function_definition":
			mod.Functions = append(mod.Functions, a.parseFunction(child, child, source, lines, parent, mod.Imports))
		case "decorated_definition":
			inner := pyDecoratedInner(child)
			if inner == nil {
				continue
			}
			switch inner.Type() {
			case "class_definition":
				a.walkClass(inner, source, lines, mod)
			case "function_definition":
				mod.Functions = append(mod.Functions, a.parseFunction(inner, child, source, lines, parent, mod.Imports))
			}
		default:
			a.walk(child, source, lines, parent, mod)
		}
	}
}

func (a *PythonAdapter) walkClass(classNode *sitter.Node, source []byte, lines []string, mod *model.ParsedModule) {
	name := ""
	if n := classNode.ChildByFieldName("name"); n != nil {
		name = NodeText(n, source)
	}
	if name != "" {
		mod.Types = append(mod.Types, name)
	}
	if body := classNode.ChildByFieldName("body"); body != nil {
		a.walk(body, source, lines, name, mod)
	}
}

// parseFunction builds a ParsedFunction for def (the function_definition
// node); outer is the decorated_definition wrapper when decorators exist,
// otherwise def itself.
func (a *PythonAdapter) parseFunction(def, outer *sitter.Node, source []byte, lines []string, parent string, moduleImports []string) model.ParsedFunction {
	name := ""
	if n := def.ChildByFieldName("name"); n != nil {
		name = NodeText(n, source)
	}

	start := startLine(outer)
	end := endLine(def)
	defLine := startLine(def)

	async := false
	for i := 0; i < int(def.ChildCount()); i++ {
		if def.Child(i).Type() == "async" {
			async = true
			break
		}
	}

	sig := pySignature(def, source, async)
	totalParams, typedParams := pyParamCounts(def, source, parent != "")
	returnTyped := def.ChildByFieldName("return_type") != nil

	fn := model.ParsedFunction{
		Name:        name,
		Signature:   sig,
		Body:        extractBody(lines, start, end),
		Doc:         pyDocstring(def, source),
		StartLine:   start,
		EndLine:     end,
		Decorators:  pyDecorators(outer, source),
		IsAsync:     async,
		IsMethod:    parent != "",
		IsPrivate:   strings.HasPrefix(name, "_"),
		IsGenerator: pyIsGenerator(def),
		Parent:      parent,
		Calls:       pyCalls(def, source),
		Imports:     moduleImports,
		Raises:      pyRaises(def, source),
		Extra: map[string]string{
			"def_line":     strconv.Itoa(defLine),
			"params_total": strconv.Itoa(totalParams),
			"params_typed": strconv.Itoa(typedParams),
			"return_typed": strconv.FormatBool(returnTyped),
		},
	}
	return fn
}

// pyDecoratedInner returns the wrapped definition of a decorated_definition.
func pyDecoratedInner(node *sitter.Node) *sitter.Node {
	if n := node.ChildByFieldName("definition"); n != nil {
		return n
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "function_definition" || child.Type() == "class_definition" {
			return child
		}
	}
	return nil
}

func pyDecorators(outer *sitter.Node, source []byte) []string {
	if outer.Type() != "decorated_definition" {
		return nil
	}
	var decorators []string
	for i := 0; i < int(outer.NamedChildCount()); i++ {
		child := outer.NamedChild(i)
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

func pySignature(def *sitter.Node, source []byte, async bool) string {
	var name, params, ret string
	if n := def.ChildByFieldName("name"); n != nil {
		name = NodeText(n, source)
	}
	if n := def.ChildByFieldName("parameters"); n != nil {
		params = CollapseWhitespace(NodeText(n, source))
	}
	if n := def.ChildByFieldName("return_type"); n != nil {
		ret = NodeText(n, source)
	}
	sig := "def " + name + params
	if async {
		sig = "async " + sig
	}
	if ret != "" {
		sig += " -> " + ret
	}
	return sig
}

// pyParamCounts counts parameters and how many carry annotations. An
// implicit self/cls receiver on methods is not counted.
func pyParamCounts(def *sitter.Node, source []byte, isMethod bool) (total, typed int) {
	params := def.ChildByFieldName("parameters")
	if params == nil {
		return 0, 0
	}
	first := true
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier", "default_parameter", "typed_parameter", "typed_default_parameter",
			"list_splat_pattern", "dictionary_splat_pattern":
		default:
			continue
		}
		if first && isMethod {
			first = false
			text := NodeText(p, source)
			if text == "self" || text == "cls" {
				continue
			}
		}
		first = false
		total++
		if p.Type() == "typed_parameter" || p.Type() == "typed_default_parameter" {
			typed++
		}
	}
	return total, typed
}

// pyDocstring returns the docstring of a module or function node, without
// quotes, or "".
func pyDocstring(node *sitter.Node, source []byte) string {
	body := node
	if node.Type() == "function_definition" || node.Type() == "class_definition" {
		body = node.ChildByFieldName("body")
		if body == nil {
			return ""
		}
	}
	if body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return pyStripQuotes(NodeText(str, source))
}

// pyDocstringNode returns the string node backing a function docstring.
func pyDocstringNode(def *sitter.Node) *sitter.Node {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return nil
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return nil
	}
	if str := first.NamedChild(0); str.Type() == "string" {
		return str
	}
	return nil
}

// pyStripQuotes removes string prefixes and quote delimiters.
func pyStripQuotes(text string) string {
	trimmed := strings.TrimLeft(text, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(trimmed, q) && strings.HasSuffix(trimmed, q) && len(trimmed) >= 2*len(q) {
			return strings.TrimSpace(trimmed[len(q) : len(trimmed)-len(q)])
		}
	}
	return strings.TrimSpace(trimmed)
}

func pyIsGenerator(def *sitter.Node) bool {
	body := def.ChildByFieldName("body")
	if body == nil {
		return false
	}
	return pyHasYield(body)
}

func pyHasYield(node *sitter.Node) bool {
	switch node.Type() {
	case "yield":
		return true
	case "function_definition", "lambda":
		// Nested scopes do not make the outer function a generator.
		return false
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if pyHasYield(node.NamedChild(i)) {
			return true
		}
	}
	return false
}

// pyCalls returns called names within the function subtree, dotted paths
// intact, first-seen order, deduplicated.
func pyCalls(def *sitter.Node, source []byte) []string {
	var calls []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "call" {
			if fn := n.ChildByFieldName("function"); fn != nil {
				switch fn.Type() {
				case "identifier", "attribute":
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

func pyRaises(def *sitter.Node, source []byte) []string {
	var raises []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "raise_statement" && n.NamedChildCount() > 0 {
			exc := n.NamedChild(0)
			text := NodeText(exc, source)
			if idx := strings.Index(text, "("); idx > 0 {
				text = text[:idx]
			}
			raises = append(raises, strings.TrimSpace(text))
		}
		if n.Type() == "function_definition" && n != def {
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(def)
	return uniqueStrings(raises)
}

// pyModuleImports extracts top-level import targets only; imports nested in
// functions or conditionals are intentionally excluded.
func pyModuleImports(root *sitter.Node, source []byte) []string {
	var imports []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Type() {
		case "import_statement":
			for j := 0; j < int(stmt.NamedChildCount()); j++ {
				child := stmt.NamedChild(j)
				switch child.Type() {
				case "dotted_name":
					imports = append(imports, NodeText(child, source))
				case "aliased_import":
					if name := child.ChildByFieldName("name"); name != nil {
						imports = append(imports, NodeText(name, source))
					}
				}
			}
		case "import_from_statement":
			if mod := stmt.ChildByFieldName("module_name"); mod != nil {
				imports = append(imports, NodeText(mod, source))
			}
		}
	}
	return uniqueStrings(imports)
}

// functionAtLine finds the function whose declaration starts at line. Both
// the decorator-inclusive start line and the def line itself match.
func functionAtLine(mod *model.ParsedModule, line int) (*model.ParsedFunction, bool) {
	for i := range mod.Functions {
		fn := &mod.Functions[i]
		if fn.StartLine == line {
			return fn, true
		}
		if dl, ok := fn.Extra["def_line"]; ok && dl == strconv.Itoa(line) {
			return fn, true
		}
	}
	return nil, false
}

// ExtractDoc returns the docstring of the declaration starting at line.
// Line 1 falls back to the module docstring when no declaration starts there.
func (a *PythonAdapter) ExtractDoc(path string, line int) (string, bool, error) {
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
	if line == 1 && mod.Doc != "" {
		return mod.Doc, true, nil
	}
	return "", false, nil
}

// InsertDoc replaces or inserts the docstring of the declaration at line.
func (a *PythonAdapter) InsertDoc(path string, line int, text string) error {
	source, err := readSource(path)
	if err != nil {
		return err
	}

	tree, err := parseTree(a.lang, source)
	if err != nil {
		return err
	}
	defer tree.Close()

	def := pyFunctionNodeAtLine(tree.RootNode(), line)
	if def == nil {
		return fmt.Errorf("%s:%d: no function declaration starts here", path, line)
	}

	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return fmt.Errorf("%s:%d: function has no body", path, line)
	}
	firstStmt := body.NamedChild(0)
	if startLine(firstStmt) == startLine(def) {
		// Single-line definition: a line-based insert would corrupt the
		// header, so refuse rather than guess.
		return fmt.Errorf("%s:%d: cannot insert docstring into single-line definition", path, line)
	}

	lines := splitLines(source)
	indent := leadingIndent(lines[startLine(firstStmt)-1])
	block := pyDocstringLines(text, indent)

	if str := pyDocstringNode(def); str != nil {
		lines = spliceLines(lines, startLine(str), endLine(str), block)
	} else {
		lines = insertLines(lines, startLine(firstStmt), block)
	}

	return writeSource(path, []byte(strings.Join(lines, "\n")))
}

// pyFunctionNodeAtLine locates the function_definition whose declaration
// (decorators included) starts at the given line.
func pyFunctionNodeAtLine(root *sitter.Node, line int) *sitter.Node {
	var found *sitter.Node
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if found != nil {
			return
		}
		if n.Type() == "function_definition" {
			if startLine(n) == line {
				found = n
				return
			}
			if parent := n.Parent(); parent != nil && parent.Type() == "decorated_definition" && startLine(parent) == line {
				found = n
				return
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(root)
	return found
}

// pyDocstringLines renders text as an indented triple-quoted docstring.
// Embedded triple quotes are downgraded so the block cannot terminate early.
func pyDocstringLines(text, indent string) []string {
	text = strings.ReplaceAll(text, `"""`, `'''`)
	text = strings.TrimRight(text, "\n")
	parts := strings.Split(text, "\n")

	if len(parts) == 1 {
		return []string{indent + `"""` + parts[0] + `"""`}
	}

	block := make([]string, 0, len(parts)+2)
	block = append(block, indent+`"""`+parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			block = append(block, "")
		} else {
			block = append(block, indent+p)
		}
	}
	block = append(block, indent+`"""`)
	return block
}

// GatherFacts returns calls within the named function and the module's
// top-level imports. The name may be plain or Class.method qualified.
func (a *PythonAdapter) GatherFacts(path string, functionName string) (model.Facts, error) {
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

// factsForFunction is shared across adapters: match by plain or qualified
// name and pair the function's calls with the module's imports.
func factsForFunction(mod *model.ParsedModule, functionName string) (model.Facts, error) {
	for i := range mod.Functions {
		fn := &mod.Functions[i]
		qualified := fn.Name
		if fn.Parent != "" {
			qualified = fn.Parent + "." + fn.Name
		}
		if fn.Name == functionName || qualified == functionName {
			return model.Facts{
				Calls:   append([]string(nil), fn.Calls...),
				Imports: append([]string(nil), mod.Imports...),
			}, nil
		}
	}
	return model.Facts{Imports: append([]string(nil), mod.Imports...)}, fmt.Errorf("%s: function %q not found", mod.Path, functionName)
}

// Validate checks file syntax.
func (a *PythonAdapter) Validate(path string) error {
	source, err := readSource(path)
	if err != nil {
		return err
	}
	return a.ValidateSource(path, source)
}

// ValidateSource compiles source with the configured interpreter when
// available, otherwise falls back to tree-sitter error detection. Interpreter
// absence or timeout is a degraded mode, not a failure.
func (a *PythonAdapter) ValidateSource(path string, source []byte) error {
	if a.python != "" {
		switch err := a.compileCheck(path, source); {
		case err == nil:
			return nil
		case isSyntaxError(err):
			return err
		}
		// Interpreter unavailable: degrade to the structural check.
	}

	tree, err := parseTree(a.lang, source)
	if err != nil {
		return err
	}
	defer tree.Close()
	return scanTreeErrors(path, tree.RootNode())
}

func (a *PythonAdapter) compileCheck(path string, source []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.python, "-c",
		"import sys; compile(sys.stdin.buffer.read(), sys.argv[1], 'exec')", path)
	cmd.Stdin = bytes.NewReader(source)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || !isExitError(err) {
		return fmt.Errorf("python interpreter unavailable: %w", err)
	}
	return &SyntaxError{
		Path: path,
		Msg:  lastNonEmptyLine(stderr.String()),
	}
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func isSyntaxError(err error) bool {
	var synErr *SyntaxError
	return errors.As(err, &synErr)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "syntax error"
}

// Package lang defines the language adapter contract and the extension
// registry that dispatches files to adapters. Adapters are stateless between
// calls; the only retained state is parser configuration created at
// construction.
package lang

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docweave/internal/model"
)

// Adapter is the per-language implementation of the parse/extract/insert/
// validate contract.
type Adapter interface {
	// Name returns the language tag (e.g. "python").
	Name() string

	// Extensions returns the file extensions this adapter handles,
	// lowercase, dot included.
	Extensions() []string

	// Discover returns matching source files. A file target is returned
	// iff its extension matches and it is not excluded; a directory is
	// walked recursively.
	Discover(target string) ([]string, error)

	// Parse parses source into a module. The path is recorded on the
	// result and, for multi-grammar adapters, selects the grammar.
	Parse(path string, source []byte) (*model.ParsedModule, error)

	// ExtractDoc returns the documentation text of the declaration whose
	// start line equals line, or ok=false if the declaration has none.
	ExtractDoc(path string, line int) (text string, ok bool, err error)

	// InsertDoc replaces the documentation block of the declaration at
	// line, or inserts a new one, preserving indentation. Unrelated lines
	// are never touched.
	InsertDoc(path string, line int, text string) error

	// GatherFacts returns call names from the named function's subtree and
	// imports from the module's top-level statements.
	GatherFacts(path string, functionName string) (model.Facts, error)

	// Validate re-parses the file and returns a *SyntaxError if the result
	// contains error or incomplete constructs.
	Validate(path string) error

	// ValidateSource is Validate over in-memory source.
	ValidateSource(path string, source []byte) error
}

// SyntaxError reports that source failed to parse cleanly. It is always
// fatal to the apply attempt that triggered the validation.
type SyntaxError struct {
	Path string
	Line int // 1-based, 0 when unknown
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// Registry maps normalized file extensions to adapters. It is an explicitly
// constructed value with clear ownership: build one at process start and
// pass it to callers.
type Registry struct {
	byExt    map[string]Adapter
	adapters []Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byExt: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register maps each of the adapter's extensions to it. Re-registering an
// extension overwrites silently.
func (r *Registry) Register(a Adapter) {
	seen := false
	for _, existing := range r.adapters {
		if existing == a {
			seen = true
			break
		}
	}
	if !seen {
		r.adapters = append(r.adapters, a)
	}
	for _, ext := range a.Extensions() {
		r.byExt[strings.ToLower(ext)] = a
	}
}

// Resolve returns the adapter for the path's lowercased extension.
func (r *Registry) Resolve(path string) (Adapter, bool) {
	a, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return a, ok
}

// Language implements the resolver contract used by discovery: it returns
// the language tag for a path, or ok=false for unsupported extensions.
func (r *Registry) Language(path string) (string, bool) {
	a, ok := r.Resolve(path)
	if !ok {
		return "", false
	}
	return a.Name(), true
}

// Adapters returns registered adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	return append([]Adapter(nil), r.adapters...)
}

// Extensions returns all registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// skippedDirs are path components never descended into during
// adapter-level discovery.
var skippedDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"build":         {},
	"dist":          {},
	".tox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	".idea":         {},
	".vscode":       {},
	"egg-info":      {},
}

// SkippedDir reports whether a directory name component is excluded from
// discovery.
func SkippedDir(name string) bool {
	if _, skip := skippedDirs[name]; skip {
		return true
	}
	return strings.HasSuffix(name, ".egg-info")
}

// discoverByExt implements Adapter.Discover over an extension set.
func discoverByExt(target string, exts []string) ([]string, error) {
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		extSet[ext] = struct{}{}
	}
	matches := func(path string) bool {
		_, ok := extSet[strings.ToLower(filepath.Ext(path))]
		return ok
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", target, err)
	}

	if !info.IsDir() {
		if matches(target) && !strings.HasPrefix(filepath.Base(target), ".") {
			return []string{target}, nil
		}
		return nil, nil
	}

	var results []string
	err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		name := d.Name()
		if d.IsDir() {
			if path == target {
				return nil
			}
			if SkippedDir(name) || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if matches(name) {
			results = append(results, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(results)
	return results, nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NodeText returns the source text of a node. Slicing is byte-aligned on the
// encoded source: multibyte characters earlier in the file shift byte
// offsets relative to character offsets, so character indices into a decoded
// string would corrupt extracted names.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

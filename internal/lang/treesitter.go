package lang

import (
	"context"
	"fmt"
	"os"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// parseTree parses source with a fresh parser for the given grammar. Parsers
// are not thread safe, so one is created per call.
func parseTree(language *sitter.Language, source []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	p.SetLanguage(language)
	tree, err := p.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return tree, nil
}

// scanTreeErrors walks the tree for ERROR and MISSING nodes and reports the
// first as a *SyntaxError.
func scanTreeErrors(path string, root *sitter.Node) error {
	if !root.HasError() {
		return nil
	}
	if bad := findBadNode(root); bad != nil {
		msg := "syntax error"
		if bad.IsMissing() {
			msg = fmt.Sprintf("missing %s", bad.Type())
		}
		return &SyntaxError{
			Path: path,
			Line: int(bad.StartPoint().Row) + 1,
			Msg:  msg,
		}
	}
	return &SyntaxError{Path: path, Msg: "syntax error"}
}

func findBadNode(node *sitter.Node) *sitter.Node {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if bad := findBadNode(node.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// startLine and endLine are 1-based node line positions.
func startLine(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

func endLine(node *sitter.Node) int {
	return int(node.EndPoint().Row) + 1
}

// extractBody returns the text of the inclusive 1-based line span.
func extractBody(lines []string, start, end int) string {
	if start < 1 || start > len(lines) {
		return ""
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n")
}

// splitLines splits source into lines without dropping a trailing newline
// marker: joining with "\n" reproduces the input.
func splitLines(source []byte) []string {
	return strings.Split(string(source), "\n")
}

// spliceLines replaces the 1-based inclusive span [start, end] with the
// replacement lines.
func spliceLines(lines []string, start, end int, replacement []string) []string {
	out := make([]string, 0, len(lines)+len(replacement))
	out = append(out, lines[:start-1]...)
	out = append(out, replacement...)
	if end < len(lines) {
		out = append(out, lines[end:]...)
	}
	return out
}

// insertLines inserts the given lines before the 1-based line number.
func insertLines(lines []string, before int, inserted []string) []string {
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:before-1]...)
	out = append(out, inserted...)
	out = append(out, lines[before-1:]...)
	return out
}

// readSource reads a file for one operation. Every pass re-reads: line
// numbers computed against stale content are invalid by contract.
func readSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// writeSource writes content preserving the file's existing permissions.
func writeSource(path string, content []byte) error {
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// leadingIndent returns the leading whitespace of a line.
func leadingIndent(line string) string {
	for i, r := range line {
		if r != ' ' && r != '\t' {
			return line[:i]
		}
	}
	return line
}

// uniqueStrings deduplicates while preserving first-seen order.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

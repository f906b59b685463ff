// Package docblock renders final documentation text from an externally
// supplied narrative plus deterministic facts. The narrative is untrusted:
// any section it carries that masquerades as a fact section is stripped and
// replaced with the real, code-derived data, which makes injection
// idempotent under repeated application.
package docblock

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/phobologic/docweave/internal/model"
)

// Fence markers delimiting the structured block form.
const (
	FencedOpen  = "```docweave"
	FencedClose = "```"
)

// Deterministic flat-style section titles. Exact spelling matters for
// downstream consumers.
const (
	DepsHeader      = "DEPENDENCIES (from code analysis):"
	ChangelogHeader = "CHANGELOG (from git history):"
)

// Section is one labeled span of a flat document. The zero Header marks
// preamble text before any label.
type Section struct {
	Header string
	Body   []string
}

// knownHeaderRe anchors section boundaries: a recognized label alone on a
// line, ending with a colon.
var knownHeaderRe = regexp.MustCompile(`(?i)^(WHAT|WHY|GUARDRAILS|TESTING|PERFORMANCE|DEPENDENCIES|CHANGELOG)\b[^:\n]*:\s*$`)

// deterministicHeaderRe matches the two section labels whose content only
// this package may author, in any fabricated variant spelling.
var deterministicHeaderRe = regexp.MustCompile(`(?i)^(DEPENDENCIES|CHANGELOG)\b[^:\n]*:\s*$`)

// Inject produces the final document text for one function: narrative text
// with the true dependency facts and changelog placed at the canonical
// position for the chosen style. An empty changelog becomes the fixed
// placeholder entry.
func Inject(narrative string, facts model.Facts, changelog []string, style model.DocStyle) (string, error) {
	if len(changelog) == 0 {
		changelog = []string{model.EmptyChangelogEntry}
	}
	switch style {
	case model.StyleFenced:
		return injectFenced(narrative, facts, changelog)
	default:
		return injectFlat(narrative, facts, changelog), nil
	}
}

// parseFlat splits text into labeled sections at known header lines.
func parseFlat(text string) []Section {
	sections := []Section{{}}
	for _, line := range strings.Split(text, "\n") {
		if knownHeaderRe.MatchString(strings.TrimSpace(line)) {
			sections = append(sections, Section{Header: strings.TrimSpace(line)})
			continue
		}
		last := &sections[len(sections)-1]
		last.Body = append(last.Body, line)
	}
	return sections
}

// encodeFlat is the inverse of parseFlat.
func encodeFlat(sections []Section) string {
	var lines []string
	for _, s := range sections {
		if s.Header != "" {
			lines = append(lines, s.Header)
		}
		lines = append(lines, s.Body...)
	}
	return strings.Join(lines, "\n")
}

// stripDeterministic removes any section whose header claims to be a fact
// section, whatever its exact spelling.
func stripDeterministic(sections []Section) []Section {
	var kept []Section
	for _, s := range sections {
		if s.Header != "" && deterministicHeaderRe.MatchString(s.Header) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func injectFlat(narrative string, facts model.Facts, changelog []string) string {
	sections := stripDeterministic(parseFlat(narrative))
	body := strings.TrimRight(encodeFlat(sections), " \t\n")

	var b strings.Builder
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	b.WriteString(DepsHeader)
	b.WriteString("\n")
	for _, call := range facts.Calls {
		fmt.Fprintf(&b, "- calls: %s\n", call)
	}
	for _, imp := range facts.Imports {
		fmt.Fprintf(&b, "- imports: %s\n", imp)
	}
	if len(facts.Calls) == 0 && len(facts.Imports) == 0 {
		b.WriteString("- none detected\n")
	}

	b.WriteString("\n")
	b.WriteString(ChangelogHeader)
	b.WriteString("\n")
	for _, entry := range changelog {
		b.WriteString(entry)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// injectFenced parses the narrative's key-value payload, replaces any
// narrative-authored deps/changelog keys with the real data, and re-encodes
// the block. Regex never touches the payload: the yaml document is the
// internal representation, and the fence markers are handled only at the
// outermost encode/decode boundary.
func injectFenced(narrative string, facts model.Facts, changelog []string) (string, error) {
	inner := unfence(narrative)

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(inner), &doc); err != nil || !isMapping(&doc) {
		// Unstructured narrative: treat the whole text as the summary.
		doc = yaml.Node{}
		seed := map[string]string{"what": strings.TrimSpace(inner)}
		raw, merr := yaml.Marshal(seed)
		if merr != nil {
			return "", fmt.Errorf("seeding fenced block: %w", merr)
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("seeding fenced block: %w", err)
		}
	}

	mapping := doc.Content[0]
	removeKey(mapping, "deps")
	removeKey(mapping, "changelog")
	appendKey(mapping, "deps", depsNode(facts))
	appendKey(mapping, "changelog", sequenceNode(changelog))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("encoding fenced block: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encoding fenced block: %w", err)
	}

	return FencedOpen + "\n" + strings.TrimRight(buf.String(), "\n") + "\n" + FencedClose, nil
}

// unfence returns the payload between the fence markers, or the whole text
// when no markers are present.
func unfence(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	start, end := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start == -1 && trimmed == FencedOpen {
			start = i
			continue
		}
		if start != -1 && trimmed == FencedClose {
			end = i
			break
		}
	}
	if start == -1 || end == -1 {
		return text
	}
	return strings.Join(lines[start+1:end], "\n")
}

func isMapping(doc *yaml.Node) bool {
	return doc.Kind == yaml.DocumentNode &&
		len(doc.Content) == 1 &&
		doc.Content[0].Kind == yaml.MappingNode
}

// removeKey deletes a key-value pair from a mapping node.
func removeKey(mapping *yaml.Node, key string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
			return
		}
	}
}

// appendKey adds a key-value pair at the end of a mapping node, which keeps
// deterministic sections at the block's trailing position.
func appendKey(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content, scalarNode(key), value)
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func sequenceNode(values []string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range values {
		seq.Content = append(seq.Content, scalarNode(v))
	}
	return seq
}

// depsNode builds the required deps mapping with calls and imports list
// keys; both lists are present even when empty.
func depsNode(facts model.Facts) *yaml.Node {
	deps := &yaml.Node{Kind: yaml.MappingNode}
	deps.Content = append(deps.Content, scalarNode("calls"), sequenceNode(facts.Calls))
	deps.Content = append(deps.Content, scalarNode("imports"), sequenceNode(facts.Imports))
	return deps
}

package lang

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/phobologic/docweave/internal/model"
)

const pySample = `"""Module docs."""
import os
import json as j
from collections import OrderedDict


def top(a, b: int) -> int:
    """Add things."""
    return helper(a) + b


def helper(x):
    return json.dumps(x)


class Greeter:
    @staticmethod
    def shout(msg: str):
        print(msg.upper())

    async def _stream(self):
        yield self.msg
`

func pyParse(t *testing.T, source string) *parsedModuleHandle {
	t.Helper()
	a := NewPython(WithInterpreter(""))
	mod, err := a.Parse("sample.py", []byte(source))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return &parsedModuleHandle{t: t, mod: mod}
}

func TestPythonParseModule(t *testing.T) {
	t.Parallel()

	h := pyParse(t, pySample)

	if h.mod.Doc != "Module docs." {
		t.Errorf("module doc = %q", h.mod.Doc)
	}
	wantImports := []string{"os", "json", "collections"}
	if strings.Join(h.mod.Imports, ",") != strings.Join(wantImports, ",") {
		t.Errorf("imports = %v, want %v", h.mod.Imports, wantImports)
	}
	if len(h.mod.Types) != 1 || h.mod.Types[0] != "Greeter" {
		t.Errorf("types = %v, want [Greeter]", h.mod.Types)
	}
	if len(h.mod.Functions) != 4 {
		t.Fatalf("functions = %d, want 4", len(h.mod.Functions))
	}
}

func TestPythonParseFunctionDetails(t *testing.T) {
	t.Parallel()

	h := pyParse(t, pySample)

	top := h.fn("top")
	if top.Doc != "Add things." {
		t.Errorf("top doc = %q", top.Doc)
	}
	if top.Signature != "def top(a, b: int) -> int" {
		t.Errorf("top signature = %q", top.Signature)
	}
	if top.StartLine != 7 {
		t.Errorf("top start line = %d, want 7", top.StartLine)
	}
	if top.IsMethod || top.IsAsync || top.IsPrivate || top.IsGenerator {
		t.Error("top has unexpected flags set")
	}
	if !contains(top.Calls, "helper") {
		t.Errorf("top calls = %v, want helper present", top.Calls)
	}

	shout := h.fn("shout")
	if !shout.IsMethod || shout.Parent != "Greeter" {
		t.Errorf("shout parent = %q, method = %v", shout.Parent, shout.IsMethod)
	}
	if len(shout.Decorators) != 1 || shout.Decorators[0] != "staticmethod" {
		t.Errorf("shout decorators = %v", shout.Decorators)
	}
	if !contains(shout.Calls, "print") || !contains(shout.Calls, "msg.upper") {
		t.Errorf("shout calls = %v", shout.Calls)
	}

	stream := h.fn("_stream")
	if !stream.IsAsync || !stream.IsPrivate || !stream.IsGenerator {
		t.Errorf("_stream flags: async=%v private=%v generator=%v",
			stream.IsAsync, stream.IsPrivate, stream.IsGenerator)
	}
}

func TestPythonParamCounts(t *testing.T) {
	t.Parallel()

	h := pyParse(t, pySample)

	top := h.fn("top")
	if top.Extra["params_total"] != "2" || top.Extra["params_typed"] != "1" {
		t.Errorf("top params = %s/%s, want 1/2 typed",
			top.Extra["params_typed"], top.Extra["params_total"])
	}
	if top.Extra["return_typed"] != "true" {
		t.Error("top return_typed should be true")
	}

	// self is not counted as a parameter.
	stream := h.fn("_stream")
	if stream.Extra["params_total"] != "0" {
		t.Errorf("_stream params_total = %s, want 0", stream.Extra["params_total"])
	}
}

func TestPythonRaises(t *testing.T) {
	t.Parallel()

	src := `def guard(x):
    if x < 0:
        raise ValueError("negative")
    if x > 100:
        raise OverflowError
`
	h := pyParse(t, src)
	guard := h.fn("guard")
	if len(guard.Raises) != 2 || guard.Raises[0] != "ValueError" || guard.Raises[1] != "OverflowError" {
		t.Errorf("raises = %v", guard.Raises)
	}
}

func TestPythonExtractDoc(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "m.py", pySample)

	a := NewPython(WithInterpreter(""))
	doc, ok, err := a.ExtractDoc(path, 7)
	if err != nil {
		t.Fatalf("ExtractDoc: %v", err)
	}
	if !ok || doc != "Add things." {
		t.Errorf("doc = %q, ok = %v", doc, ok)
	}

	// helper has no docstring.
	_, ok, err = a.ExtractDoc(path, 12)
	if err != nil {
		t.Fatalf("ExtractDoc: %v", err)
	}
	if ok {
		t.Error("expected no doc for helper")
	}
}

func TestPythonInsertDocNew(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "m.py", "def f(x):\n    return x\n")

	a := NewPython(WithInterpreter(""))
	if err := a.InsertDoc(path, 1, "Identity function."); err != nil {
		t.Fatalf("InsertDoc: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "def f(x):\n    \"\"\"Identity function.\"\"\"\n    return x\n"
	if string(content) != want {
		t.Errorf("content = %q, want %q", content, want)
	}

	// Unrelated lines are untouched and inserting again replaces in place.
	if err := a.InsertDoc(path, 1, "Replaced."); err != nil {
		t.Fatalf("second InsertDoc: %v", err)
	}
	content, _ = os.ReadFile(path)
	if strings.Count(string(content), `"""`) != 2 {
		t.Errorf("docstring duplicated: %q", content)
	}
	if !strings.Contains(string(content), "Replaced.") {
		t.Errorf("replacement missing: %q", content)
	}
	if strings.Contains(string(content), "Identity function.") {
		t.Errorf("old docstring still present: %q", content)
	}
}

func TestPythonInsertDocMultiline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "m.py", "def f(x):\n    return x\n")

	a := NewPython(WithInterpreter(""))
	if err := a.InsertDoc(path, 1, "Summary.\n\nDetail line."); err != nil {
		t.Fatalf("InsertDoc: %v", err)
	}

	content, _ := os.ReadFile(path)
	want := "def f(x):\n" +
		"    \"\"\"Summary.\n" +
		"\n" +
		"    Detail line.\n" +
		"    \"\"\"\n" +
		"    return x\n"
	if string(content) != want {
		t.Errorf("content = %q, want %q", content, want)
	}
}

func TestPythonInsertDocDecorated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "m.py", "@cached\ndef f(x):\n    return x\n")

	a := NewPython(WithInterpreter(""))
	// Both the decorator line and the def line address the declaration.
	if err := a.InsertDoc(path, 1, "Cached identity."); err != nil {
		t.Fatalf("InsertDoc at decorator line: %v", err)
	}
	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "Cached identity.") {
		t.Errorf("docstring not inserted: %q", content)
	}
}

func TestPythonInsertDocSingleLineDefRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "m.py", "def f(x): return x\n")

	a := NewPython(WithInterpreter(""))
	if err := a.InsertDoc(path, 1, "doc"); err == nil {
		t.Error("expected error for single-line definition")
	}
}

func TestPythonGatherFacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "m.py", pySample)

	a := NewPython(WithInterpreter(""))
	facts, err := a.GatherFacts(path, "helper")
	if err != nil {
		t.Fatalf("GatherFacts: %v", err)
	}
	if !contains(facts.Calls, "json.dumps") {
		t.Errorf("calls = %v, want json.dumps", facts.Calls)
	}
	if !contains(facts.Imports, "os") || !contains(facts.Imports, "collections") {
		t.Errorf("imports = %v", facts.Imports)
	}

	// Qualified method names resolve too.
	facts, err = a.GatherFacts(path, "Greeter.shout")
	if err != nil {
		t.Fatalf("GatherFacts qualified: %v", err)
	}
	if !contains(facts.Calls, "print") {
		t.Errorf("qualified calls = %v", facts.Calls)
	}
}

func TestPythonValidateTreeSitterFallback(t *testing.T) {
	t.Parallel()

	// Interpreter disabled: validation must still catch broken syntax
	// through the tree-sitter error scan.
	a := NewPython(WithInterpreter(""))

	if err := a.ValidateSource("ok.py", []byte("def f():\n    return 1\n")); err != nil {
		t.Errorf("valid source rejected: %v", err)
	}

	err := a.ValidateSource("bad.py", []byte("def f(:\n    return\n"))
	if err == nil {
		t.Fatal("invalid source accepted")
	}
	var synErr *SyntaxError
	if !errors.As(err, &synErr) {
		t.Fatalf("error type = %T, want *SyntaxError", err)
	}
	if synErr.Path != "bad.py" {
		t.Errorf("syntax error path = %q", synErr.Path)
	}
}

func TestPythonMultibyteCallExtraction(t *testing.T) {
	t.Parallel()

	// Multibyte text before the call must not shift the extracted name.
	src := "EMOJI = \"🙂🙂🙂\"\n\n\ndef wrapper(x):\n    return target(x)\n"
	h := pyParse(t, src)
	wrapper := h.fn("wrapper")
	if len(wrapper.Calls) != 1 || wrapper.Calls[0] != "target" {
		t.Errorf("calls = %v, want exactly [target]", wrapper.Calls)
	}
}

type parsedModuleHandle struct {
	t   *testing.T
	mod *model.ParsedModule
}

func (h *parsedModuleHandle) fn(name string) *model.ParsedFunction {
	h.t.Helper()
	for i := range h.mod.Functions {
		if h.mod.Functions[i].Name == name {
			return &h.mod.Functions[i]
		}
	}
	h.t.Fatalf("function %q not found in %s", name, h.mod.Path)
	return nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

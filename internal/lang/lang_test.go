package lang

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewPython(WithInterpreter("")), NewScript())
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()

	tests := []struct {
		path string
		want string
	}{
		{"main.py", "python"},
		{"MAIN.PY", "python"},
		{"app.ts", "javascript"},
		{"widget.tsx", "javascript"},
		{"index.js", "javascript"},
		{"readme.md", ""},
		{"no_extension", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			a, ok := reg.Resolve(tt.path)
			if tt.want == "" {
				if ok {
					t.Fatalf("Resolve(%q) matched %s, want no match", tt.path, a.Name())
				}
				return
			}
			if !ok {
				t.Fatalf("Resolve(%q) found no adapter", tt.path)
			}
			if a.Name() != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.path, a.Name(), tt.want)
			}
		})
	}
}

func TestRegistryOverwriteSilently(t *testing.T) {
	t.Parallel()

	first := NewPython(WithInterpreter(""))
	second := NewPython(WithInterpreter(""))

	reg := NewRegistry(first)
	reg.Register(second)

	a, ok := reg.Resolve("x.py")
	if !ok {
		t.Fatal("Resolve found no adapter")
	}
	if a != Adapter(second) {
		t.Error("re-registering .py did not overwrite the earlier adapter")
	}
}

func TestRegistryLanguage(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	name, ok := reg.Language("pkg/mod.py")
	if !ok || name != "python" {
		t.Errorf("Language = %q, %v; want python, true", name, ok)
	}
	if _, ok := reg.Language("pkg/mod.rb"); ok {
		t.Error("Language matched an unregistered extension")
	}
}

func TestRegistryExtensions(t *testing.T) {
	t.Parallel()

	exts := newTestRegistry().Extensions()
	if len(exts) == 0 {
		t.Fatal("no extensions registered")
	}
	for i := 1; i < len(exts); i++ {
		if exts[i-1] >= exts[i] {
			t.Fatalf("extensions not sorted: %v", exts)
		}
	}
}

func TestDiscoverSkipsDenylistedDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFile(t, dir, "main.py", "pass\n")
	writeTestFile(t, dir, "node_modules/dep.py", "pass\n")
	writeTestFile(t, dir, "__pycache__/mod.py", "pass\n")
	writeTestFile(t, dir, ".hidden/secret.py", "pass\n")

	py := NewPython(WithInterpreter(""))
	files, err := py.Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d: %v", len(files), files)
	}
	if filepath.Base(files[0]) != "main.py" {
		t.Errorf("got %q, want main.py", files[0])
	}
}

func TestDiscoverSingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := writeTestFile(t, dir, "script.py", "pass\n")

	py := NewPython(WithInterpreter(""))
	files, err := py.Discover(target)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 1 || files[0] != target {
		t.Errorf("Discover(file) = %v, want [%s]", files, target)
	}

	other := writeTestFile(t, dir, "notes.txt", "hello\n")
	files, err = py.Discover(other)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Discover(non-matching file) = %v, want empty", files)
	}
}

func TestSkippedDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"node_modules", true},
		{"__pycache__", true},
		{"docweave.egg-info", true},
		{"src", false},
		{"internal", false},
	}
	for _, tt := range tests {
		if got := SkippedDir(tt.name); got != tt.want {
			t.Errorf("SkippedDir(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	got := CollapseWhitespace("def f(\n    a,\n    b\n)")
	want := "def f( a, b )"
	if got != want {
		t.Errorf("CollapseWhitespace = %q, want %q", got, want)
	}
}

func writeTestFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

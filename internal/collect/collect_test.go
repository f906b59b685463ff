package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/docweave/internal/model"
)

// fakeGit substitutes canned history data for the subprocess-backed port.
type fakeGit struct {
	root    string
	rootErr error
	commits []model.CommitInfo
	author  string
	lines   int
	err     error
}

func (f *fakeGit) RepoRoot(context.Context, string) (string, error) {
	if f.rootErr != nil {
		return "", f.rootErr
	}
	return f.root, nil
}

func (f *fakeGit) RecentCommits(context.Context, string, int, int, int) ([]model.CommitInfo, error) {
	return f.commits, f.err
}

func (f *fakeGit) PrimaryAuthor(context.Context, string, int, int) (string, int, error) {
	return f.author, f.lines, f.err
}

func sampleFunction() *model.ParsedFunction {
	return &model.ParsedFunction{
		Name:      "transform",
		Signature: "def transform(data: dict) -> dict",
		Body:      "def transform(data):\n    if not data:\n        raise ValueError\n    return clean(data)",
		StartLine: 10,
		EndLine:   13,
		Parent:    "Pipeline",
		IsMethod:  true,
		Calls:     []string{"clean"},
		Imports:   []string{"json"},
		Raises:    []string{"ValueError"},
		Extra: map[string]string{
			"params_total": "1",
			"params_typed": "1",
			"return_typed": "true",
		},
	}
}

func newTarget(git *fakeGit) *Target {
	if git == nil {
		return NewTarget("/src/pipe.py", sampleFunction(), nil, nil)
	}
	return NewTarget("/src/pipe.py", sampleFunction(), nil, git)
}

func TestOrchestratorRunsInPriorityOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mk := func(name string, priority int) Collector {
		return Collector{
			Name:     name,
			Category: model.CategoryCode,
			Priority: priority,
			Collect: func(context.Context, *Target) (map[string]any, error) {
				order = append(order, name)
				return map[string]any{name: true}, nil
			},
		}
	}

	// Registered out of order; ties break by registration order.
	o := NewOrchestrator([]Collector{mk("c", 50), mk("a", 10), mk("b", 50)})
	o.Run(context.Background(), newTarget(nil))

	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestOrchestratorIsolatesFailure(t *testing.T) {
	t.Parallel()

	failing := Collector{
		Name:     "broken",
		Category: model.CategoryCode,
		Priority: 1,
		Collect: func(context.Context, *Target) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	}
	panicking := Collector{
		Name:     "explosive",
		Category: model.CategoryCode,
		Priority: 2,
		Collect: func(context.Context, *Target) (map[string]any, error) {
			panic("kaboom")
		},
	}

	o := NewOrchestrator(append([]Collector{failing, panicking}, Signature()))
	record := o.Run(context.Background(), newTarget(nil))

	require.NotNil(t, record)
	// The healthy collector still contributed.
	assert.Equal(t, "def transform(data: dict) -> dict", record.CodeAnalysis["signature"])
	// Failures are recorded as data, not raised.
	assert.Contains(t, record.Raw["broken_error"], "boom")
	assert.Contains(t, record.Raw["explosive_error"], "kaboom")
}

func TestOrchestratorAllFailedStillReturnsRecord(t *testing.T) {
	t.Parallel()

	bad := Collector{
		Name:     "bad",
		Category: model.CategoryCode,
		Priority: 1,
		Collect: func(context.Context, *Target) (map[string]any, error) {
			return nil, errors.New("nope")
		},
	}

	record := NewOrchestrator([]Collector{bad}).Run(context.Background(), newTarget(nil))
	require.NotNil(t, record)
	assert.Equal(t, "Pipeline.transform", record.FunctionName)
	assert.Empty(t, record.CodeAnalysis)
}

func TestOrchestratorUnknownCategoryGoesToRaw(t *testing.T) {
	t.Parallel()

	odd := Collector{
		Name:     "odd",
		Category: model.MetadataCategory("made_up"),
		Priority: 1,
		Collect: func(context.Context, *Target) (map[string]any, error) {
			return map[string]any{"k": "v"}, nil
		},
	}

	record := NewOrchestrator([]Collector{odd}).Run(context.Background(), newTarget(nil))
	assert.Equal(t, "v", record.Raw["k"])
}

func TestOrchestratorSkipsInapplicable(t *testing.T) {
	t.Parallel()

	ran := false
	gated := Collector{
		Name:     "gated",
		Category: model.CategoryCode,
		Priority: 1,
		Applies:  func(context.Context, *Target) bool { return false },
		Collect: func(context.Context, *Target) (map[string]any, error) {
			ran = true
			return nil, nil
		},
	}

	NewOrchestrator([]Collector{gated}).Run(context.Background(), newTarget(nil))
	assert.False(t, ran)
}

func TestGitCollectorsInapplicableOutsideRepo(t *testing.T) {
	t.Parallel()

	git := &fakeGit{rootErr: errors.New("not a repo")}
	o := NewOrchestrator([]Collector{History(git), Blame(git)})
	record := o.Run(context.Background(), newTarget(git))

	assert.Empty(t, record.GitAnalysis)
	assert.Empty(t, record.Raw)
}

func TestGitCollectorsNilHistorian(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator([]Collector{History(nil), Blame(nil)})
	record := o.Run(context.Background(), newTarget(nil))
	assert.Empty(t, record.GitAnalysis)
}

func TestHistoryCollector(t *testing.T) {
	t.Parallel()

	git := &fakeGit{
		root: "/src",
		commits: []model.CommitInfo{
			{Hash: "abcdef1234567", Author: "Ada", Date: "2025-03-01", Subject: "tighten validation"},
		},
	}

	record := NewOrchestrator([]Collector{History(git)}).Run(context.Background(), newTarget(git))

	assert.Equal(t, 1, record.GitAnalysis["commit_count"])
	changelog, ok := record.GitAnalysis["changelog"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"- 2025-03-01: tighten validation (abcdef1)"}, changelog)
}

func TestBlameCollector(t *testing.T) {
	t.Parallel()

	git := &fakeGit{root: "/src", author: "Grace", lines: 7}
	record := NewOrchestrator([]Collector{Blame(git)}).Run(context.Background(), newTarget(git))

	assert.Equal(t, "Grace", record.GitAnalysis["primary_author"])
	assert.Equal(t, 7, record.GitAnalysis["author_line_count"])
}

func TestDefaultCollectorsRecord(t *testing.T) {
	t.Parallel()

	git := &fakeGit{root: "/src", author: "Ada", lines: 3}
	o := NewOrchestrator(DefaultCollectors(git))
	record := o.Run(context.Background(), newTarget(git))

	assert.Equal(t, []string{"clean"}, record.CodeAnalysis["calls"])
	assert.Equal(t, []string{"json"}, record.CodeAnalysis["imports"])
	assert.Equal(t, []string{"ValueError"}, record.CodeAnalysis["raises"])
	assert.Equal(t, true, record.CodeAnalysis["is_method"])
	assert.Equal(t, 1.0, record.CodeAnalysis["type_coverage"])
	assert.Equal(t, true, record.CodeAnalysis["return_annotated"])
	// Body has a single if branch.
	assert.Equal(t, 2, record.CodeAnalysis["cyclomatic_complexity"])
	assert.Equal(t, 4, record.CodeAnalysis["line_count"])
}

func TestFormatChangelogPlaceholder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{model.EmptyChangelogEntry}, FormatChangelog(nil))
}

func TestChangelogFromRecord(t *testing.T) {
	t.Parallel()

	record := model.NewCollectedMetadata("f", "a.py")
	assert.Equal(t, []string{model.EmptyChangelogEntry}, ChangelogFromRecord(record))
	assert.Equal(t, []string{model.EmptyChangelogEntry}, ChangelogFromRecord(nil))

	record.GitAnalysis["changelog"] = []string{"- 2025-01-01: x (abc1234)"}
	assert.Equal(t, []string{"- 2025-01-01: x (abc1234)"}, ChangelogFromRecord(record))
}

func TestFactsFromRecord(t *testing.T) {
	t.Parallel()

	record := model.NewCollectedMetadata("f", "a.py")
	record.CodeAnalysis["calls"] = []string{"x"}
	record.CodeAnalysis["imports"] = []string{"y"}

	facts := FactsFromRecord(record)
	assert.Equal(t, []string{"x"}, facts.Calls)
	assert.Equal(t, []string{"y"}, facts.Imports)
}

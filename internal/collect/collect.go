// Package collect implements the deterministic-metadata pipeline: small
// stateless collectors run in priority order under a failure boundary and
// their output is aggregated into a categorized record. Collection is
// best-effort enrichment; the orchestrator never fails.
package collect

import (
	"context"
	"sync"

	"github.com/phobologic/docweave/internal/lang"
	"github.com/phobologic/docweave/internal/model"
	"github.com/phobologic/docweave/internal/vcs"
)

// Target carries the inputs collectors operate on. The repository root is
// probed lazily, once, so git-backed collectors can test applicability
// without redundant subprocess calls.
type Target struct {
	FilePath string
	Function *model.ParsedFunction
	Adapter  lang.Adapter
	Git      vcs.Historian

	repoOnce sync.Once
	repoRoot string
}

// NewTarget builds a collection target for one (function, file) pair.
func NewTarget(path string, fn *model.ParsedFunction, adapter lang.Adapter, git vcs.Historian) *Target {
	return &Target{
		FilePath: path,
		Function: fn,
		Adapter:  adapter,
		Git:      git,
	}
}

// RepoRoot returns the repository root containing the file, or "" when the
// file is not version-controlled, git is absent, or the probe timed out.
func (t *Target) RepoRoot(ctx context.Context) string {
	t.repoOnce.Do(func() {
		if t.Git == nil {
			return
		}
		root, err := t.Git.RepoRoot(ctx, t.FilePath)
		if err != nil {
			return
		}
		t.repoRoot = root
	})
	return t.repoRoot
}

// QualifiedName returns Parent.Name for methods, Name otherwise.
func (t *Target) QualifiedName() string {
	if t.Function == nil {
		return ""
	}
	if t.Function.Parent != "" {
		return t.Function.Parent + "." + t.Function.Name
	}
	return t.Function.Name
}

// Collector is one deterministic fact extractor. Collectors must not error
// for expected missing data; they return an empty or partial map instead.
//
// Priority ordering is ascending. By convention negative priorities are
// reserved for critical collectors and values above 100 for optional ones;
// the convention is documented, not enforced.
type Collector struct {
	Name     string
	Category model.MetadataCategory
	Priority int

	// Applies reports whether the collector can run against the target.
	// A nil predicate always applies.
	Applies func(ctx context.Context, t *Target) bool

	// Collect extracts facts. Errors and panics are absorbed by the
	// orchestrator and recorded, never propagated.
	Collect func(ctx context.Context, t *Target) (map[string]any, error)
}

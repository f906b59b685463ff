// Package apply mutates source files through a two-phase, temp-file-backed
// protocol. Every mutation is staged on a sibling copy, syntax-checked after
// each write, and only reaches the original file through an atomic rename.
// A failure at any step leaves the original bytes untouched.
package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/docweave/internal/docblock"
	"github.com/phobologic/docweave/internal/lang"
	"github.com/phobologic/docweave/internal/model"
)

// tempPattern keeps staged copies hidden and recognizable. The target's
// extension is appended so adapters pick the same grammar for the copy.
const tempPattern = ".docweave-*"

// Request is one document mutation: a declaration location, the externally
// generated narrative for it, and the deterministic facts to inject.
type Request struct {
	Path      string
	Line      int    // declaration start line, 1-based
	Function  string // qualified name, used to re-locate after phase 1
	Narrative string
	Facts     model.Facts
	Changelog []string
	Style     model.DocStyle
}

// Applier runs the two-phase protocol. The zero value is not usable; build
// one with New.
type Applier struct {
	log *zap.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(a *Applier) {
		if log != nil {
			a.log = log
		}
	}
}

func New(opts ...Option) *Applier {
	a := &Applier{log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply runs both phases for one request. The narrative goes in first and is
// validated on its own, so a narrative that breaks the file is caught before
// any facts are mixed in; the injected form then replaces it and is
// validated again. Only after both checks does the staged copy replace the
// original.
func (a *Applier) Apply(ctx context.Context, ad lang.Adapter, req Request) model.ApplyResult {
	if err := ctx.Err(); err != nil {
		return model.ApplyResult{Outcome: model.RejectedIO, Err: err}
	}

	original, err := os.ReadFile(req.Path)
	if err != nil {
		return model.ApplyResult{Outcome: model.RejectedIO, Err: fmt.Errorf("reading %s: %w", req.Path, err)}
	}

	temp, err := stageCopy(req.Path, original)
	if err != nil {
		return model.ApplyResult{Outcome: model.RejectedIO, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(temp)
		}
	}()

	// Phase 1: narrative only.
	if err := ad.InsertDoc(temp, req.Line, req.Narrative); err != nil {
		a.log.Debug("narrative insert rejected",
			zap.String("path", req.Path), zap.Int("line", req.Line), zap.Error(err))
		return model.ApplyResult{Outcome: model.RejectedSyntax, Err: err}
	}
	if err := ad.Validate(temp); err != nil {
		a.log.Debug("narrative failed validation",
			zap.String("path", req.Path), zap.Int("line", req.Line), zap.Error(err))
		return model.ApplyResult{Outcome: model.RejectedSyntax, Err: err}
	}

	// Phase 2: narrative plus deterministic facts, replacing the phase-1
	// text. Inserting above a declaration can shift it, so the line is
	// re-resolved on the staged copy.
	injected, err := docblock.Inject(req.Narrative, req.Facts, req.Changelog, req.Style)
	if err != nil {
		return model.ApplyResult{Outcome: model.RejectedSyntax, Err: err}
	}
	line := relocate(ad, temp, req.Function, req.Line)
	if err := ad.InsertDoc(temp, line, injected); err != nil {
		return model.ApplyResult{Outcome: model.RejectedSyntax, Err: err}
	}
	if err := ad.Validate(temp); err != nil {
		a.log.Debug("injected text failed validation",
			zap.String("path", req.Path), zap.Int("line", req.Line), zap.Error(err))
		return model.ApplyResult{Outcome: model.RejectedSyntax, Err: err}
	}

	if err := os.Rename(temp, req.Path); err != nil {
		return model.ApplyResult{Outcome: model.RejectedIO, Err: fmt.Errorf("replacing %s: %w", req.Path, err)}
	}
	committed = true
	a.log.Debug("applied", zap.String("path", req.Path), zap.Int("line", req.Line))
	return model.ApplyResult{Outcome: model.Applied}
}

// stageCopy writes content to a fresh temp file beside path, preserving the
// original's permission bits. Same directory, so the final rename cannot
// cross filesystems.
func stageCopy(path string, content []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), tempPattern+filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("staging copy of %s: %w", path, err)
	}
	name := f.Name()
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("staging copy of %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("staging copy of %s: %w", path, err)
	}
	if info, err := os.Stat(path); err == nil {
		os.Chmod(name, info.Mode().Perm())
	}
	return name, nil
}

// relocate finds the declaration's current start line on the staged copy.
// The phase-1 insert may have pushed it down (comment-above languages), so
// the original line is only a hint. Falls back to the hint when the parse
// fails or the name is gone.
func relocate(ad lang.Adapter, path, function string, hint int) int {
	if function == "" {
		return hint
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return hint
	}
	mod, err := ad.Parse(path, source)
	if err != nil {
		return hint
	}
	best := hint
	bestDist := -1
	for _, fn := range mod.Functions {
		if !matchesName(fn, function) {
			continue
		}
		dist := fn.StartLine - hint
		if dist < 0 {
			dist = -dist
		}
		if bestDist == -1 || dist < bestDist {
			best, bestDist = fn.StartLine, dist
		}
	}
	return best
}

func matchesName(fn model.ParsedFunction, name string) bool {
	if fn.Name == name {
		return true
	}
	return fn.Parent != "" && fn.Parent+"."+fn.Name == name
}

// Mutation is one declaration-level request within a single file.
type Mutation struct {
	Line      int
	Function  string
	Narrative string
	Facts     model.Facts
	Changelog []string
}

// FileResult pairs a mutation with its outcome.
type FileResult struct {
	Line     int
	Function string
	Result   model.ApplyResult
}

// File applies every mutation to one file, bottom to top. Each successful
// apply changes the file's line count, which invalidates line numbers above
// the mutation point but not below it; descending order keeps every
// not-yet-processed line valid. Failures are recorded and do not stop the
// remaining mutations.
func (a *Applier) File(ctx context.Context, ad lang.Adapter, path string, style model.DocStyle, muts []Mutation) []FileResult {
	ordered := append([]Mutation(nil), muts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Line > ordered[j].Line })

	results := make([]FileResult, 0, len(ordered))
	for _, m := range ordered {
		res := a.Apply(ctx, ad, Request{
			Path:      path,
			Line:      m.Line,
			Function:  m.Function,
			Narrative: m.Narrative,
			Facts:     m.Facts,
			Changelog: m.Changelog,
			Style:     style,
		})
		results = append(results, FileResult{Line: m.Line, Function: m.Function, Result: res})
	}
	return results
}

// FileJob is one file's worth of work for Batch.
type FileJob struct {
	Path      string
	Style     model.DocStyle
	Mutations []Mutation
}

// Batch runs per-file pipelines concurrently, one worker per file. Files are
// never shared between workers; the staged-copy protocol makes that the only
// partitioning Batch needs. workers <= 0 means one per CPU.
func (a *Applier) Batch(ctx context.Context, reg *lang.Registry, jobs []FileJob, workers int) map[string][]FileResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	results := make(map[string][]FileResult, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			ad, ok := reg.Resolve(job.Path)
			var res []FileResult
			if !ok {
				res = unsupported(job)
			} else {
				res = a.File(ctx, ad, job.Path, job.Style, job.Mutations)
			}
			mu.Lock()
			results[job.Path] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers record failures as results and never return errors
	return results
}

func unsupported(job FileJob) []FileResult {
	err := fmt.Errorf("no adapter for %s", strings.ToLower(filepath.Ext(job.Path)))
	res := make([]FileResult, 0, len(job.Mutations))
	for _, m := range job.Mutations {
		res = append(res, FileResult{
			Line:     m.Line,
			Function: m.Function,
			Result:   model.ApplyResult{Outcome: model.RejectedIO, Err: err},
		})
	}
	return res
}

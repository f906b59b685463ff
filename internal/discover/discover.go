// Package discover finds annotatable source files under a target path,
// honoring repository ignore rules when a repository is present.
package discover

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/phobologic/docweave/internal/lang"
	"github.com/phobologic/docweave/internal/model"
	"github.com/phobologic/docweave/internal/vcs"
)

// Resolver maps a path to its language tag. *lang.Registry satisfies it.
type Resolver interface {
	Language(path string) (string, bool)
}

// Finder collects candidate source files. Ignore filtering degrades
// silently: a missing repository or failing git binary never surfaces as an
// error, only as an empty ignore set.
type Finder struct {
	git vcs.Ignorer
	log *zap.Logger
}

// Option configures a Finder.
type Option func(*Finder)

// WithIgnorer substitutes the ignore-query backend.
func WithIgnorer(ig vcs.Ignorer) Option {
	return func(f *Finder) {
		if ig != nil {
			f.git = ig
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Finder) {
		if l != nil {
			f.log = l
		}
	}
}

// New returns a Finder backed by the git executable.
func New(opts ...Option) *Finder {
	f := &Finder{
		git: vcs.New(),
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Collect returns supported source files under target, sorted by path for
// determinism. An empty result is valid, never an error.
func (f *Finder) Collect(ctx context.Context, reg Resolver, target string) ([]model.FileEntry, error) {
	target, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		language, ok := reg.Language(target)
		if !ok || strings.HasPrefix(filepath.Base(target), ".") {
			return nil, nil
		}
		return []model.FileEntry{{Path: filepath.Base(target), Language: language}}, nil
	}

	candidates := f.walk(reg, target)
	candidates = f.filterIgnored(ctx, target, candidates)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Path < candidates[j].Path
	})
	return candidates, nil
}

// walk enumerates extension-matching files, applying the static denylist as
// exact path-segment matches.
func (f *Finder) walk(reg Resolver, root string) []model.FileEntry {
	var results []model.FileEntry

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if lang.SkippedDir(name) || strings.HasPrefix(name, ".") {
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

		language, ok := reg.Language(name)
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		results = append(results, model.FileEntry{Path: rel, Language: language})
		return nil
	})

	return results
}

// filterIgnored applies repository ignore rules. Inside a repository the
// candidates are batched through git check-ignore; outside, a .gitignore at
// the target root is honored when present.
func (f *Finder) filterIgnored(ctx context.Context, root string, candidates []model.FileEntry) []model.FileEntry {
	repoRoot, ok := findRepoRoot(root)
	if !ok {
		if gi := loadIgnoreFile(root); gi != nil {
			return filterBy(candidates, func(rel string) bool {
				return gi.MatchesPath(rel)
			})
		}
		return candidates
	}

	repoRel := make([]string, len(candidates))
	for i, c := range candidates {
		abs := filepath.Join(root, c.Path)
		rel, err := filepath.Rel(repoRoot, abs)
		if err != nil {
			rel = c.Path
		}
		repoRel[i] = filepath.ToSlash(rel)
	}

	ignored := f.git.IgnoredPaths(ctx, repoRoot, repoRel)
	if len(ignored) == 0 {
		return candidates
	}

	var kept []model.FileEntry
	for i, c := range candidates {
		if _, skip := ignored[repoRel[i]]; skip {
			f.log.Debug("ignored by repository", zap.String("path", c.Path))
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func filterBy(candidates []model.FileEntry, ignored func(string) bool) []model.FileEntry {
	var kept []model.FileEntry
	for _, c := range candidates {
		if ignored(filepath.ToSlash(c.Path)) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// findRepoRoot walks ancestors looking for the repository marker.
func findRepoRoot(start string) (string, bool) {
	dir := start
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func loadIgnoreFile(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}

package collect

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/phobologic/docweave/internal/model"
	"github.com/phobologic/docweave/internal/vcs"
)

// Built-in collector priorities. Lower runs first.
const (
	PrioritySignature    = 10
	PriorityDependencies = 20
	PriorityDecorators   = 30
	PriorityExceptions   = 40
	PriorityComplexity   = 50
	PriorityTypeCoverage = 60
	PriorityHistory      = 70
	PriorityBlame        = 80
)

// historyDepth bounds the commit-history query per function.
const historyDepth = 5

// DefaultCollectors returns the standard pipeline. git may be nil, in which
// case the git-backed collectors report inapplicable.
func DefaultCollectors(git vcs.Historian) []Collector {
	return []Collector{
		Signature(),
		Dependencies(),
		Decorators(),
		Exceptions(),
		Complexity(),
		TypeCoverage(),
		History(git),
		Blame(git),
	}
}

// Signature reports the declaration shape of the function.
func Signature() Collector {
	return Collector{
		Name:     "signature",
		Category: model.CategoryCode,
		Priority: PrioritySignature,
		Collect: func(_ context.Context, t *Target) (map[string]any, error) {
			fn := t.Function
			return map[string]any{
				"signature":    fn.Signature,
				"start_line":   fn.StartLine,
				"end_line":     fn.EndLine,
				"is_async":     fn.IsAsync,
				"is_method":    fn.IsMethod,
				"is_private":   fn.IsPrivate,
				"is_generator": fn.IsGenerator,
				"parent_class": fn.Parent,
			}, nil
		},
	}
}

// Dependencies reports call and import facts from the parsed tree.
func Dependencies() Collector {
	return Collector{
		Name:     "dependencies",
		Category: model.CategoryCode,
		Priority: PriorityDependencies,
		Collect: func(_ context.Context, t *Target) (map[string]any, error) {
			fn := t.Function
			return map[string]any{
				"calls":   append([]string(nil), fn.Calls...),
				"imports": append([]string(nil), fn.Imports...),
			}, nil
		},
	}
}

// Decorators reports decorator names, empty map when none.
func Decorators() Collector {
	return Collector{
		Name:     "decorators",
		Category: model.CategoryCode,
		Priority: PriorityDecorators,
		Collect: func(_ context.Context, t *Target) (map[string]any, error) {
			if len(t.Function.Decorators) == 0 {
				return map[string]any{}, nil
			}
			return map[string]any{
				"decorators": append([]string(nil), t.Function.Decorators...),
			}, nil
		},
	}
}

// Exceptions reports raised or thrown exception types.
func Exceptions() Collector {
	return Collector{
		Name:     "exceptions",
		Category: model.CategoryCode,
		Priority: PriorityExceptions,
		Collect: func(_ context.Context, t *Target) (map[string]any, error) {
			if len(t.Function.Raises) == 0 {
				return map[string]any{}, nil
			}
			return map[string]any{
				"raises": append([]string(nil), t.Function.Raises...),
			}, nil
		},
	}
}

// branchRe matches constructs that open an execution branch. One word per
// alternation; boolean operators count separately below.
var branchRe = regexp.MustCompile(`\b(if|elif|for|while|case|except|catch|when)\b`)

var boolOpRe = regexp.MustCompile(`(&&|\|\||\band\b|\bor\b)`)

// Complexity reports an approximate cyclomatic complexity from a token scan
// of the body: 1 plus branch points plus boolean operators.
func Complexity() Collector {
	return Collector{
		Name:     "complexity",
		Category: model.CategoryCode,
		Priority: PriorityComplexity,
		Collect: func(_ context.Context, t *Target) (map[string]any, error) {
			body := t.Function.Body
			score := 1 +
				len(branchRe.FindAllString(body, -1)) +
				len(boolOpRe.FindAllString(body, -1))
			return map[string]any{
				"cyclomatic_complexity": score,
				"line_count":            t.Function.EndLine - t.Function.StartLine + 1,
			}, nil
		},
	}
}

// TypeCoverage reports the annotated fraction of parameters, using the
// counts the language adapter recorded at parse time.
func TypeCoverage() Collector {
	return Collector{
		Name:     "type_coverage",
		Category: model.CategoryCode,
		Priority: PriorityTypeCoverage,
		Collect: func(_ context.Context, t *Target) (map[string]any, error) {
			extra := t.Function.Extra
			total, err := strconv.Atoi(extra["params_total"])
			if err != nil {
				return map[string]any{}, nil
			}
			typed, _ := strconv.Atoi(extra["params_typed"])

			coverage := 1.0
			if total > 0 {
				coverage = float64(typed) / float64(total)
			}
			return map[string]any{
				"params_total":     total,
				"params_typed":     typed,
				"type_coverage":    coverage,
				"return_annotated": extra["return_typed"] == "true",
			}, nil
		},
	}
}

// History reports recent commits touching the function's line range.
func History(git vcs.Historian) Collector {
	return Collector{
		Name:     "commit_history",
		Category: model.CategoryGit,
		Priority: PriorityHistory,
		Applies:  insideRepository(git),
		Collect: func(ctx context.Context, t *Target) (map[string]any, error) {
			fn := t.Function
			commits, err := git.RecentCommits(ctx, t.FilePath, fn.StartLine, fn.EndLine, historyDepth)
			if err != nil {
				return nil, fmt.Errorf("recent commits: %w", err)
			}
			return map[string]any{
				"recent_commits": commits,
				"commit_count":   len(commits),
				"changelog":      FormatChangelog(commits),
			}, nil
		},
	}
}

// Blame reports the author owning the most lines of the function.
func Blame(git vcs.Historian) Collector {
	return Collector{
		Name:     "blame",
		Category: model.CategoryGit,
		Priority: PriorityBlame,
		Applies:  insideRepository(git),
		Collect: func(ctx context.Context, t *Target) (map[string]any, error) {
			fn := t.Function
			author, count, err := git.PrimaryAuthor(ctx, t.FilePath, fn.StartLine, fn.EndLine)
			if err != nil {
				return nil, fmt.Errorf("blame: %w", err)
			}
			return map[string]any{
				"primary_author":    author,
				"author_line_count": count,
			}, nil
		},
	}
}

// insideRepository is the applicability probe shared by git-backed
// collectors: a failed or timed-out probe means inapplicable, not an error.
func insideRepository(git vcs.Historian) func(context.Context, *Target) bool {
	return func(ctx context.Context, t *Target) bool {
		if git == nil {
			return false
		}
		return t.RepoRoot(ctx) != ""
	}
}

// FormatChangelog renders commits as changelog entries. History queries that
// return nothing yield the fixed placeholder singleton.
func FormatChangelog(commits []model.CommitInfo) []string {
	if len(commits) == 0 {
		return []string{model.EmptyChangelogEntry}
	}
	entries := make([]string, len(commits))
	for i, c := range commits {
		entries[i] = fmt.Sprintf("- %s: %s (%s)", c.Date, c.Subject, shortHash(c.Hash))
	}
	return entries
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// ChangelogFromRecord extracts the formatted changelog from a collected
// record, falling back to the placeholder.
func ChangelogFromRecord(record *model.CollectedMetadata) []string {
	if record != nil {
		if entries, ok := record.GitAnalysis["changelog"].([]string); ok && len(entries) > 0 {
			return entries
		}
	}
	return []string{model.EmptyChangelogEntry}
}

// FactsFromRecord extracts dependency facts from a collected record.
func FactsFromRecord(record *model.CollectedMetadata) model.Facts {
	var facts model.Facts
	if record == nil {
		return facts
	}
	if calls, ok := record.CodeAnalysis["calls"].([]string); ok {
		facts.Calls = calls
	}
	if imports, ok := record.CodeAnalysis["imports"].([]string); ok {
		facts.Imports = imports
	}
	return facts
}

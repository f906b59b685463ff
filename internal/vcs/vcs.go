// Package vcs wraps the git executable behind a narrow port so the rest of
// the system depends on an interface, not on subprocess mechanics. Every
// query carries a short timeout and degrades to "no data" when git is
// missing, the path is not a repository, or the call times out.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phobologic/docweave/internal/model"
)

// ErrToolUnavailable reports that git is absent, timed out, or the target
// path is not inside a work tree. Callers treat it as "no data", not as a
// failure.
var ErrToolUnavailable = errors.New("vcs: git unavailable")

// DefaultTimeout bounds every git subprocess invocation.
const DefaultTimeout = 5 * time.Second

// logDelimiter separates fields in the single-line commit format. Subjects
// may contain the delimiter; parsing must SplitN accordingly.
const logDelimiter = "\x1f"

// Historian answers history questions scoped to a line range of one file.
type Historian interface {
	// RepoRoot returns the repository root containing path, or
	// ErrToolUnavailable if path is not version-controlled.
	RepoRoot(ctx context.Context, path string) (string, error)

	// RecentCommits returns up to max most-recent commits touching the
	// given line range of file.
	RecentCommits(ctx context.Context, file string, startLine, endLine, max int) ([]model.CommitInfo, error)

	// PrimaryAuthor blames the line range and returns the author owning
	// the most lines, with that line count.
	PrimaryAuthor(ctx context.Context, file string, startLine, endLine int) (string, int, error)
}

// Ignorer answers batched ignore queries against the version-control tool.
type Ignorer interface {
	// IgnoredPaths returns the subset of relPaths (relative to root) that
	// the repository ignores. A missing or failing tool yields an empty
	// set, never an error.
	IgnoredPaths(ctx context.Context, root string, relPaths []string) map[string]struct{}
}

// Git is the exec-backed implementation of Historian and Ignorer.
type Git struct {
	timeout time.Duration
	log     *zap.Logger
}

// Option configures a Git port.
type Option func(*Git)

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Git) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger attaches a logger. The default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Git) {
		if l != nil {
			g.log = l
		}
	}
}

// New returns a Git port with default timeout and a nop logger.
func New(opts ...Option) *Git {
	g := &Git{
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RepoRoot probes for the repository root containing path.
func (g *Git) RepoRoot(ctx context.Context, path string) (string, error) {
	dir := path
	if !isDir(dir) {
		dir = filepath.Dir(dir)
	}
	out, err := g.run(ctx, dir, nil, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", ErrToolUnavailable
	}
	return root, nil
}

// RecentCommits runs a line-range-scoped log query bounded to max commits.
func (g *Git) RecentCommits(ctx context.Context, file string, startLine, endLine, max int) ([]model.CommitInfo, error) {
	if max <= 0 {
		max = 5
	}
	pretty := strings.Join([]string{"%H", "%an", "%ae", "%ad", "%s"}, logDelimiter)
	out, err := g.run(ctx, filepath.Dir(file),
		nil,
		"log",
		fmt.Sprintf("-n%d", max),
		"--no-patch",
		"--date=short",
		"--pretty=format:"+pretty,
		fmt.Sprintf("-L%d,%d:%s", startLine, endLine, filepath.Base(file)),
	)
	if err != nil {
		return nil, err
	}
	return parseCommits(string(out), max), nil
}

// parseCommits parses delimiter-separated single-line commit records.
// Lines that do not carry exactly five fields (for example diff output that
// a -L query may interleave) are skipped. The subject field may itself
// contain the delimiter, so the split count is limited to five.
func parseCommits(out string, max int) []model.CommitInfo {
	var commits []model.CommitInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, logDelimiter, 5)
		if len(parts) != 5 || !looksLikeHash(parts[0]) {
			continue
		}
		commits = append(commits, model.CommitInfo{
			Hash:    parts[0],
			Author:  parts[1],
			Email:   parts[2],
			Date:    parts[3],
			Subject: parts[4],
		})
		if len(commits) >= max {
			break
		}
	}
	return commits
}

func looksLikeHash(s string) bool {
	if len(s) < 7 || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// PrimaryAuthor runs a porcelain blame over the line range and tallies
// authorship by line count.
func (g *Git) PrimaryAuthor(ctx context.Context, file string, startLine, endLine int) (string, int, error) {
	out, err := g.run(ctx, filepath.Dir(file),
		nil,
		"blame",
		"--porcelain",
		fmt.Sprintf("-L%d,%d", startLine, endLine),
		"--",
		filepath.Base(file),
	)
	if err != nil {
		return "", 0, err
	}

	counts := tallyBlame(string(out))
	var best string
	var bestLines int
	for author, n := range counts {
		if n > bestLines || (n == bestLines && author < best) {
			best = author
			bestLines = n
		}
	}
	if best == "" {
		return "", 0, ErrToolUnavailable
	}
	return best, bestLines, nil
}

// tallyBlame counts lines per author in porcelain blame output. Porcelain
// emits the author header only on a commit's first appearance, so the
// commit-to-author mapping is remembered across line groups.
func tallyBlame(out string) map[string]int {
	counts := make(map[string]int)
	authors := make(map[string]string)
	var current string

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "\t"):
			// Content line: attribute it to the current commit.
			if author, ok := authors[current]; ok {
				counts[author]++
			}
		case strings.HasPrefix(line, "author "):
			authors[current] = strings.TrimPrefix(line, "author ")
		default:
			fields := strings.Fields(line)
			if len(fields) >= 3 && looksLikeHash(fields[0]) {
				current = fields[0]
			}
		}
	}
	return counts
}

// checkIgnoreBatch bounds the stdin payload of one check-ignore call.
const checkIgnoreBatch = 500

// IgnoredPaths batches paths through `git check-ignore --stdin -z`.
// Both directions use NUL delimiters so arbitrary path bytes survive.
func (g *Git) IgnoredPaths(ctx context.Context, root string, relPaths []string) map[string]struct{} {
	ignored := make(map[string]struct{})
	for start := 0; start < len(relPaths); start += checkIgnoreBatch {
		end := start + checkIgnoreBatch
		if end > len(relPaths) {
			end = len(relPaths)
		}
		chunk := relPaths[start:end]

		var stdin bytes.Buffer
		for _, p := range chunk {
			stdin.WriteString(p)
			stdin.WriteByte(0)
		}

		out, err := g.run(ctx, root, stdin.Bytes(), "check-ignore", "--stdin", "-z")
		if err != nil {
			// check-ignore exits 1 when nothing matched; anything else
			// (git absent, timeout) degrades to an empty set.
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
				g.log.Debug("check-ignore degraded", zap.Error(err))
				return make(map[string]struct{})
			}
			continue
		}
		for _, p := range strings.Split(string(out), "\x00") {
			if p != "" {
				ignored[p] = struct{}{}
			}
		}
	}
	return ignored
}

// run executes one git command under the port's timeout.
func (g *Git) run(ctx context.Context, dir string, stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			g.log.Debug("git timed out", zap.Strings("args", args))
			return nil, ErrToolUnavailable
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrToolUnavailable
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("git %s: %w", args[0], err)
		}
		return nil, ErrToolUnavailable
	}
	return out, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const d = logDelimiter

func TestParseCommits(t *testing.T) {
	t.Parallel()

	out := "abcdef1234567" + d + "Ada" + d + "ada@example.com" + d + "2025-03-01" + d + "fix parser\n" +
		"1234567abcdef" + d + "Grace" + d + "grace@example.com" + d + "2025-02-14" + d + "initial import\n"

	commits := parseCommits(out, 5)
	require.Len(t, commits, 2)
	assert.Equal(t, "abcdef1234567", commits[0].Hash)
	assert.Equal(t, "Ada", commits[0].Author)
	assert.Equal(t, "ada@example.com", commits[0].Email)
	assert.Equal(t, "2025-03-01", commits[0].Date)
	assert.Equal(t, "fix parser", commits[0].Subject)
	assert.Equal(t, "initial import", commits[1].Subject)
}

func TestParseCommitsDelimiterInSubject(t *testing.T) {
	t.Parallel()

	out := "abcdef1234567" + d + "Ada" + d + "a@b.c" + d + "2025-03-01" + d + "part one" + d + "part two\n"

	commits := parseCommits(out, 5)
	require.Len(t, commits, 1)
	assert.Equal(t, "part one"+d+"part two", commits[0].Subject)
}

func TestParseCommitsSkipsDiffNoise(t *testing.T) {
	t.Parallel()

	out := "diff --git a/f.py b/f.py\n" +
		"@@ -1,3 +1,3 @@\n" +
		"abcdef1234567" + d + "Ada" + d + "a@b.c" + d + "2025-03-01" + d + "real commit\n" +
		"+def foo():\n"

	commits := parseCommits(out, 5)
	require.Len(t, commits, 1)
	assert.Equal(t, "real commit", commits[0].Subject)
}

func TestParseCommitsRespectsMax(t *testing.T) {
	t.Parallel()

	out := ""
	for i := 0; i < 10; i++ {
		out += "abcdef1234567" + d + "Ada" + d + "a@b.c" + d + "2025-03-01" + d + "c\n"
	}
	assert.Len(t, parseCommits(out, 3), 3)
}

func TestTallyBlame(t *testing.T) {
	t.Parallel()

	// Two commits, three lines: Ada owns two, Grace one. The author header
	// appears only on a commit's first occurrence, per porcelain format.
	out := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 1 1 2\n" +
		"author Ada\n" +
		"author-mail <ada@example.com>\n" +
		"\tline one\n" +
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 2 2\n" +
		"\tline two\n" +
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb 3 3 1\n" +
		"author Grace\n" +
		"\tline three\n"

	counts := tallyBlame(out)
	assert.Equal(t, 2, counts["Ada"])
	assert.Equal(t, 1, counts["Grace"])
}

func TestLooksLikeHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"abcdef1", true},
		{"abcdef1234567890abcdef1234567890abcdef12", true},
		{"abc", false},
		{"not-a-hash", false},
		{"ABCDEF1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, looksLikeHash(tt.in), tt.in)
	}
}

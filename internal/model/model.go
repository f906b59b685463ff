// Package model defines core data structures for docweave.
package model

// SourceFile is a source file read for a single operation. Contents are a
// snapshot: any mutation of the underlying file requires a re-read.
type SourceFile struct {
	Path     string // absolute
	Language string
	Content  []byte
}

// ParsedFunction is one function or method extracted from a source file.
// It is immutable after construction; line numbers are only valid against
// the file content the parse ran over; re-parse after any mutation.
type ParsedFunction struct {
	Name        string
	Signature   string
	Body        string
	Doc         string // existing documentation block, "" if none
	StartLine   int    // 1-based, first line of the declaration (decorators included)
	EndLine     int    // 1-based, inclusive
	Decorators  []string
	IsAsync     bool
	IsMethod    bool
	IsPrivate   bool
	IsGenerator bool
	Parent      string // enclosing type name, "" at module level
	Calls       []string
	Imports     []string
	Raises      []string // exception types raised or thrown in the body
	Extra       map[string]string // per-language metadata
}

// ParsedModule is the result of parsing one file.
type ParsedModule struct {
	Path      string
	Language  string
	Functions []ParsedFunction
	Types     []string
	Doc       string // module-level documentation text
	Imports   []string
}

// Facts are the deterministic dependency facts for one function.
type Facts struct {
	Calls   []string
	Imports []string
}

// CommitInfo is one parsed commit touching a function's line range.
type CommitInfo struct {
	Hash    string
	Author  string
	Email   string
	Date    string
	Subject string
}

// EmptyChangelogEntry is the placeholder changelog line used when no
// history is available for a function.
const EmptyChangelogEntry = "- No recorded history"

// MetadataCategory names a bucket in CollectedMetadata.
type MetadataCategory string

const (
	CategoryCode    MetadataCategory = "code_analysis"
	CategoryGit     MetadataCategory = "git_analysis"
	CategoryTest    MetadataCategory = "test_analysis"
	CategoryRuntime MetadataCategory = "runtime_analysis"
	CategoryAPI     MetadataCategory = "api_analysis"
)

// CollectedMetadata aggregates collector output for one (function, file)
// pair. Built fresh per request, never cached across files.
type CollectedMetadata struct {
	FunctionName string
	FilePath     string

	CodeAnalysis    map[string]any
	GitAnalysis     map[string]any
	TestAnalysis    map[string]any
	RuntimeAnalysis map[string]any
	APIAnalysis     map[string]any

	// Raw holds output from unknown categories and per-collector errors.
	Raw map[string]any
}

// NewCollectedMetadata returns an empty record for the given target.
func NewCollectedMetadata(function, path string) *CollectedMetadata {
	return &CollectedMetadata{
		FunctionName:    function,
		FilePath:        path,
		CodeAnalysis:    make(map[string]any),
		GitAnalysis:     make(map[string]any),
		TestAnalysis:    make(map[string]any),
		RuntimeAnalysis: make(map[string]any),
		APIAnalysis:     make(map[string]any),
		Raw:             make(map[string]any),
	}
}

// Bucket returns the map backing the given category, or Raw for an
// unrecognized category.
func (m *CollectedMetadata) Bucket(cat MetadataCategory) map[string]any {
	switch cat {
	case CategoryCode:
		return m.CodeAnalysis
	case CategoryGit:
		return m.GitAnalysis
	case CategoryTest:
		return m.TestAnalysis
	case CategoryRuntime:
		return m.RuntimeAnalysis
	case CategoryAPI:
		return m.APIAnalysis
	default:
		return m.Raw
	}
}

// DocStyle selects a documentation block serialization.
type DocStyle string

const (
	// StyleFlat uses labeled plain-text sections (WHAT:, WHY:, ...).
	StyleFlat DocStyle = "flat"
	// StyleFenced uses a marker-delimited key-value block.
	StyleFenced DocStyle = "fenced"
)

// ApplyOutcome is the terminal state of one two-phase apply attempt.
type ApplyOutcome string

const (
	Applied        ApplyOutcome = "applied"
	RejectedSyntax ApplyOutcome = "rejected-syntax"
	RejectedIO     ApplyOutcome = "rejected-io"
)

// ApplyResult reports the outcome of one apply attempt. Err carries detail
// for the rejected outcomes and is nil when Outcome is Applied.
type ApplyResult struct {
	Outcome ApplyOutcome
	Err     error
}

// Ok reports whether the mutation reached disk.
func (r ApplyResult) Ok() bool {
	return r.Outcome == Applied
}

// FileEntry is one discovered source file.
type FileEntry struct {
	Path     string // relative to the discovery root
	Language string
}

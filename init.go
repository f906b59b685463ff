package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	sentinelStart = "<!-- docweave:start -->"
	sentinelEnd   = "<!-- docweave:end -->"
)

// initCommand writes (or updates) a docweave usage section in a project
// documentation file. The section is wrapped in sentinel comments so
// subsequent runs update it in place without touching surrounding content.
func (a *app) initCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "init [path-to-doc-file]",
		Short: "Write a docweave usage section to a project doc file",
		Long: "Write a docweave usage section to a documentation file (CLAUDE.md by\n" +
			"default). The section is wrapped in sentinel comments so it can be\n" +
			"updated in place on subsequent runs. Creates the file if it does not\n" +
			"exist.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := generateSection()

			// --dry-run with no path: just print the section itself.
			if dryRun && len(args) == 0 {
				fmt.Fprintln(a.stdout, section)
				return nil
			}

			path := "CLAUDE.md"
			if len(args) > 0 {
				path = args[0]
			}

			existing, _ := os.ReadFile(path)
			updated := applySection(string(existing), section)

			if dryRun {
				fmt.Fprint(a.stdout, updated)
				return nil
			}

			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Fprintf(a.stderr, "wrote docweave section to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	return cmd
}

// generateSection returns the full sentinel-wrapped docweave documentation
// block.
func generateSection() string {
	body := `## docweave — Documentation Sync

Use ` + "`docweave`" + ` to keep per-function documentation blocks aligned with the
code they describe. Narrative text comes from you; dependency facts and
change history come from the code and are injected deterministically.

**Availability:** Check with ` + "`docweave --version`" + ` first; skip gracefully if
not found.

**Run it:**
` + "```" + `bash
docweave discover src/                       # list annotatable files
docweave report src/                         # rank files by importance
docweave facts src/app.py transform          # show collected facts
docweave apply src/app.py -f transform < narrative.txt
docweave apply src/app.py -f Store.get --style fenced --narrative-file n.txt
` + "```" + `

**All flags:** ` + "`docweave --help`" + `

**How to use it — follow these rules:**

1. **Annotate in report order.** ` + "`report`" + ` ranks files most-referenced
   first; documenting those pays off fastest.

2. **Never hand-write fact sections.** The DEPENDENCIES and CHANGELOG
   sections are generated from the code and git history; anything you write
   there is stripped and replaced on apply.

3. **Trust the rejection.** An apply that reports ` + "`rejected-syntax`" + ` left
   the file untouched; fix the narrative and rerun.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy
// testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}

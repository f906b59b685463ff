// docweave keeps per-function documentation blocks in sync with the code
// they describe: it discovers annotatable source files, gathers
// deterministic facts about each function, and splices externally written
// narrative text plus those facts into the source through a validated,
// atomic two-phase write.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/docweave/internal/apply"
	"github.com/phobologic/docweave/internal/collect"
	"github.com/phobologic/docweave/internal/discover"
	"github.com/phobologic/docweave/internal/lang"
	"github.com/phobologic/docweave/internal/model"
	"github.com/phobologic/docweave/internal/rank"
	"github.com/phobologic/docweave/internal/vcs"
)

var version = "dev"

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the wiring shared by every subcommand. The logger, registry,
// and git port are built once in setup, after flags are parsed.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	verbose  bool
	log      *zap.Logger
	registry *lang.Registry
	git      *vcs.Git
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "docweave",
		Short:         "Keep function documentation in sync with code facts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			a.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		a.discoverCommand(),
		a.factsCommand(),
		a.applyCommand(),
		a.reportCommand(),
		a.initCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) setup() {
	a.log = zap.NewNop()
	if a.verbose {
		if logger, err := zap.NewDevelopment(); err == nil {
			a.log = logger
		}
	}
	a.git = vcs.New(vcs.WithLogger(a.log))
	a.registry = lang.NewRegistry(lang.NewPython(), lang.NewScript())
}

func (a *app) finder() *discover.Finder {
	return discover.New(discover.WithIgnorer(a.git), discover.WithLogger(a.log))
}

func (a *app) discoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover [target]",
		Short: "List annotatable source files under a target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			entries, err := a.finder().Collect(cmd.Context(), a.registry, target)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(a.stdout, "%s\t%s\n", e.Path, e.Language)
			}
			return nil
		},
	}
}

func (a *app) factsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "facts <file> <function>",
		Short: "Print the collected metadata record for one function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, name := args[0], args[1]

			adapter, fn, err := a.locate(path, name)
			if err != nil {
				return err
			}

			orch := collect.NewOrchestrator(collect.DefaultCollectors(a.git), collect.WithLogger(a.log))
			record := orch.Run(cmd.Context(), collect.NewTarget(path, fn, adapter, a.git))

			out := map[string]any{
				"function": record.FunctionName,
				"file":     record.FilePath,
			}
			for cat, bucket := range map[model.MetadataCategory]map[string]any{
				model.CategoryCode:    record.CodeAnalysis,
				model.CategoryGit:     record.GitAnalysis,
				model.CategoryTest:    record.TestAnalysis,
				model.CategoryRuntime: record.RuntimeAnalysis,
				model.CategoryAPI:     record.APIAnalysis,
			} {
				if len(bucket) > 0 {
					out[string(cat)] = bucket
				}
			}
			if len(record.Raw) > 0 {
				out["raw"] = record.Raw
			}

			encoded, err := yaml.Marshal(out)
			if err != nil {
				return fmt.Errorf("encoding record: %w", err)
			}
			_, err = a.stdout.Write(encoded)
			return err
		},
	}
}

func (a *app) applyCommand() *cobra.Command {
	var (
		function      string
		styleName     string
		narrativeFile string
	)
	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Write an injected documentation block into a source file",
		Long: "Reads narrative text (stdin by default), gathers deterministic facts\n" +
			"for the named function, and applies the combined block through the\n" +
			"validated two-phase protocol. The file is replaced atomically or not\n" +
			"at all.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			style, err := parseStyle(styleName)
			if err != nil {
				return err
			}
			narrative, err := a.readNarrative(narrativeFile)
			if err != nil {
				return err
			}

			adapter, fn, err := a.locate(path, function)
			if err != nil {
				return err
			}
			target := collect.NewTarget(path, fn, adapter, a.git)

			orch := collect.NewOrchestrator(collect.DefaultCollectors(a.git), collect.WithLogger(a.log))
			record := orch.Run(cmd.Context(), target)

			applier := apply.New(apply.WithLogger(a.log))
			res := applier.Apply(cmd.Context(), adapter, apply.Request{
				Path:      path,
				Line:      fn.StartLine,
				Function:  target.QualifiedName(),
				Narrative: narrative,
				Facts:     collect.FactsFromRecord(record),
				Changelog: collect.ChangelogFromRecord(record),
				Style:     style,
			})
			fmt.Fprintf(a.stdout, "%s\t%s:%d\n", res.Outcome, path, fn.StartLine)
			if !res.Ok() {
				return res.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&function, "function", "f", "", "function to document (Name or Class.Name)")
	cmd.Flags().StringVar(&styleName, "style", string(model.StyleFlat), "documentation style: flat or fenced")
	cmd.Flags().StringVar(&narrativeFile, "narrative-file", "-", "file holding the narrative text, - for stdin")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}

func (a *app) reportCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "report [target]",
		Short: "Rank discovered files by structural importance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			entries, err := a.finder().Collect(cmd.Context(), a.registry, target)
			if err != nil {
				return err
			}
			root, err := entryRoot(target)
			if err != nil {
				return err
			}

			var modules []model.ParsedModule
			for _, e := range entries {
				adapter, ok := a.registry.Resolve(e.Path)
				if !ok {
					continue
				}
				full := filepath.Join(root, e.Path)
				source, err := os.ReadFile(full)
				if err != nil {
					fmt.Fprintf(a.stderr, "warning: %s: %v\n", e.Path, err)
					continue
				}
				mod, err := adapter.Parse(full, source)
				if err != nil {
					fmt.Fprintf(a.stderr, "warning: %s: %v\n", e.Path, err)
					continue
				}
				mod.Path = e.Path // report root-relative names
				modules = append(modules, *mod)
			}

			ranked := rank.Order(modules)
			if limit > 0 && limit < len(ranked) {
				ranked = ranked[:limit]
			}
			for _, r := range ranked {
				fmt.Fprintf(a.stdout, "%.4f\t%s\t%s\t%d functions\n", r.Score, r.Path, r.Language, r.Functions)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the top N files")
	return cmd
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docweave version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "docweave %s\n", version)
		},
	}
}

// entryRoot is the directory that discovered entry paths are relative to:
// the target itself, or its parent when the target is a file.
func entryRoot(target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return filepath.Dir(abs), nil
	}
	return abs, nil
}

// locate resolves the adapter for path and finds the named function in its
// parse. An empty name is an error; ambiguity resolves to the first match in
// source order.
func (a *app) locate(path, name string) (lang.Adapter, *model.ParsedFunction, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("function name required")
	}
	adapter, ok := a.registry.Resolve(path)
	if !ok {
		return nil, nil, fmt.Errorf("%s: unsupported file type", path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	mod, err := adapter.Parse(path, source)
	if err != nil {
		return nil, nil, err
	}

	var available []string
	for i := range mod.Functions {
		fn := &mod.Functions[i]
		qualified := fn.Name
		if fn.Parent != "" {
			qualified = fn.Parent + "." + fn.Name
		}
		if fn.Name == name || qualified == name {
			return adapter, fn, nil
		}
		available = append(available, qualified)
	}
	return nil, nil, fmt.Errorf("%s: function %q not found (have: %s)",
		path, name, strings.Join(available, ", "))
}

func (a *app) readNarrative(narrativeFile string) (string, error) {
	if narrativeFile == "-" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return "", fmt.Errorf("reading narrative from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	data, err := os.ReadFile(narrativeFile)
	if err != nil {
		return "", fmt.Errorf("reading narrative: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func parseStyle(name string) (model.DocStyle, error) {
	switch model.DocStyle(name) {
	case model.StyleFlat:
		return model.StyleFlat, nil
	case model.StyleFenced:
		return model.StyleFenced, nil
	default:
		return "", fmt.Errorf("unknown style %q (want flat or fenced)", name)
	}
}

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aymanbagabas/go-udiff"
	"github.com/spf13/cobra"

	"github.com/aaghdai/nominal/api/v1beta1/configs"
	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/rule"
)

var (
	// ErrInvalidRules is returned by `rules validate` when any problem is
	// found.
	ErrInvalidRules = errors.New("invalid rules")

	// ErrUnformatted is returned by `rules fmt --check` when any file is not
	// formatted.
	ErrUnformatted = errors.New("rule files are not formatted")
)

func NewRulesCmd(rootArgs *RootArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with rule files",
	}

	cmd.AddCommand(
		newRulesValidateCmd(rootArgs),
		newRulesFmtCmd(rootArgs),
		newRulesSchemaCmd(),
	)

	return cmd
}

// rulesDir returns the directory from args, or else the configured one.
func (ra *RootArgs) rulesDir(args []string) (*configs.Config, string, error) {
	cfg, _, err := ra.loadConfig()
	if err != nil {
		return nil, "", err
	}

	if len(args) > 0 {
		cfg.Rules.Dir = args[0]
	}

	return cfg, cfg.Rules.Dir, nil
}

func newRulesValidateCmd(rootArgs *RootArgs) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Check rule files against the schema and for consistency",
		Long: `Check every rule file in dir, or the configured rules directory.
Schema and compile errors, undeclared global variables, and filename pattern
placeholders that no rule or derivation provides are errors. Other findings
are warnings, which fail the check with --strict.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := rootArgs.rulesDir(args)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()

			rs, loadErrs, err := engine.Load(dir)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}

			problems := len(loadErrs)
			for _, le := range loadErrs {
				mustN(fmt.Fprintf(w, "error: %v\n", le.Err))
			}

			allowed, err := engine.ReadGlobalVariables(dir)
			if err != nil {
				problems++

				mustN(fmt.Fprintf(w, "error: %v\n", err))
			}

			for _, f := range engine.Lint(rs, allowed) {
				if f.Severity == engine.SeverityError || strict {
					problems++
				}

				mustN(fmt.Fprintln(w, f))
			}

			p, err := cfg.NewPlanner(time.Now)
			if err != nil {
				problems++

				mustN(fmt.Fprintf(w, "error: %v\n", err))
			} else if err := p.Validate(engine.NewProcessor(rs).DeclaredVariables()); err != nil {
				problems++

				mustN(fmt.Fprintf(w, "error: %v\n", err))
			}

			if problems > 0 {
				return fmt.Errorf("%w: %d %s", ErrInvalidRules, problems, pluralize(problems, "problem", "problems"))
			}

			mustN(fmt.Fprintf(w, "%d global and %d form %s OK\n",
				len(rs.Global), len(rs.Forms), pluralize(len(rs.Forms), "rule", "rules")))

			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	bindEnvVars(cmd)

	return cmd
}

type fmtArgs struct {
	Write bool
	Diff  bool
	Check bool
}

func newRulesFmtCmd(rootArgs *RootArgs) *cobra.Command {
	fa := &fmtArgs{}

	cmd := &cobra.Command{
		Use:   "fmt [dir]",
		Short: "Rewrite rule files in canonical form",
		Long: `List the rule files in dir, or the configured rules directory, whose content
differs from their canonical form. Canonical form uses the declared field
order and drops comments.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dir, err := rootArgs.rulesDir(args)
			if err != nil {
				return err
			}

			files, loadErrs, err := engine.ReadDefinitions(dir)
			if err != nil {
				return fmt.Errorf("read rules: %w", err)
			}

			for _, le := range loadErrs {
				mustN(fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", le.Err))
			}

			changed, err := formatFiles(cmd.OutOrStdout(), files, fa)
			if err != nil {
				return err
			}

			if fa.Check && changed > 0 {
				return fmt.Errorf("%w: %d %s", ErrUnformatted, changed, pluralize(changed, "file", "files"))
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&fa.Write, "write", "w", false, "Write the canonical form back to each file")
	cmd.Flags().BoolVarP(&fa.Diff, "diff", "d", false, "Print a unified diff for each changed file")
	cmd.Flags().BoolVar(&fa.Check, "check", false, "Fail when any file is not formatted")

	bindEnvVars(cmd)

	return cmd
}

// formatFiles reports each file whose canonical form differs from its
// content, and returns how many did.
func formatFiles(w io.Writer, files []engine.DefinitionFile, fa *fmtArgs) (int, error) {
	changed := 0

	for _, f := range files {
		formatted, err := f.Definition.MarshalYAML()
		if err != nil {
			return changed, fmt.Errorf("%s: %w", f.Path, err)
		}

		if bytes.Equal(formatted, f.Data) {
			continue
		}

		changed++

		if fa.Diff {
			mustN(fmt.Fprint(w, udiff.Unified(f.Path, f.Path, string(f.Data), string(formatted))))
		} else {
			mustN(fmt.Fprintln(w, f.Path))
		}

		if !fa.Write {
			continue
		}

		info, err := os.Stat(f.Path)
		if err != nil {
			return changed, fmt.Errorf("stat %s: %w", f.Path, err)
		}

		err = os.WriteFile(f.Path, formatted, info.Mode().Perm())
		if err != nil {
			return changed, fmt.Errorf("write %s: %w", f.Path, err)
		}
	}

	return changed, nil
}

func newRulesSchemaCmd() *cobra.Command {
	kinds := []string{"rule", "config"}

	var kind string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for rule or configuration files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s []byte

			switch kind {
			case "rule":
				s = rule.Schema()
			case "config":
				s = configs.Schema()
			default:
				return fmt.Errorf("invalid argument %q for --kind, one of: %s", kind, kinds)
			}

			_, err := cmd.OutOrStdout().Write(s)
			if err != nil {
				return fmt.Errorf("write schema: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "rule", fmt.Sprintf("Schema to print, one of: %s", kinds))
	must(cmd.RegisterFlagCompletionFunc("kind",
		cobra.FixedCompletions(kinds, cobra.ShellCompDirectiveNoFileComp),
	))

	bindEnvVars(cmd)

	return cmd
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}

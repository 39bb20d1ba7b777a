package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/reader"
	"github.com/aaghdai/nominal/pkg/rule"
)

type ClassifyArgs struct {
	*RootArgs

	RulesDir string
	Pattern  string
	Output   string
}

// Classification is the outcome of classifying one document without
// copying it.
type Classification struct {
	Variables rule.Variables    `json:"variables,omitempty"`
	Conflicts []engine.Conflict `json:"conflicts,omitempty"`
	Path      string            `json:"path"`
	RuleID    string            `json:"ruleId,omitempty"`
	Filename  string            `json:"filename,omitempty"`
	Error     string            `json:"error,omitempty"`
	Matched   bool              `json:"matched"`
}

func NewClassifyCmd(rootArgs *RootArgs) *cobra.Command {
	ca := &ClassifyArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "classify <file>...",
		Short: "Show how documents would be classified and named",
		Long: `Classify documents and print the matched rule, the variables, and the planned
filename, without copying anything. Global variables are shared across the
given documents, as in a directory run. Use - to read text from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ca.run(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&ca.RulesDir, "rules", "r", "", "Rules directory (overrides rules.dir)")
	cmd.Flags().StringVarP(&ca.Pattern, "pattern", "p", "", "Filename pattern (overrides output.pattern)")
	cmd.Flags().StringVarP(&ca.Output, "output", "o", outputText,
		fmt.Sprintf("Output format, one of: %s", outputFormats))

	must(cmd.MarkFlagDirname("rules"))
	must(cmd.RegisterFlagCompletionFunc("output",
		cobra.FixedCompletions(outputFormats, cobra.ShellCompDirectiveNoFileComp),
	))

	bindEnvVars(cmd)

	return cmd
}

func (ca *ClassifyArgs) run(cmd *cobra.Command, paths []string) error {
	if !slices.Contains(outputFormats, ca.Output) {
		return fmt.Errorf("invalid argument %q for --output, one of: %s", ca.Output, outputFormats)
	}

	ctx := cmd.Context()

	cfg, _, err := ca.loadConfig()
	if err != nil {
		return err
	}

	if ca.RulesDir != "" {
		cfg.Rules.Dir = ca.RulesDir
	}

	if ca.Pattern != "" {
		cfg.Output.Pattern = ca.Pattern
	}

	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}

	err = c.planner.Validate(c.processor.DeclaredVariables())
	if err != nil {
		return err //nolint:wrapcheck // Already descriptive.
	}

	batch := c.processor.NewBatch()
	out := make([]Classification, 0, len(paths))

	for _, path := range paths {
		cl := Classification{Path: path}

		text, err := ca.readText(cmd, c.reader, path)
		if err != nil {
			cl.Error = err.Error()
			out = append(out, cl)

			continue
		}

		id := filepath.Base(path)
		if path == "-" {
			id = "stdin"
		}

		res, diags := batch.Process(ctx, engine.Document{ID: id, Text: text})
		diags.Log(ctx)

		cl.Conflicts = diags.Conflicts

		if res != nil {
			vars := c.planner.Derive(ctx, res.Variables())

			cl.Matched = true
			cl.RuleID = res.RuleID
			cl.Variables = vars
			cl.Filename = c.planner.Render(vars) + filepath.Ext(path)
		}

		out = append(out, cl)
	}

	return writeClassifications(cmd.OutOrStdout(), ca.Output, out)
}

func (ca *ClassifyArgs) readText(cmd *cobra.Command, r reader.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}

		return string(b), nil
	}

	text, err := r.Read(cmd.Context(), path)
	if errors.Is(err, reader.ErrUnreadable) {
		return "", fmt.Errorf("unreadable: %w", err)
	}

	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return text, nil
}

func writeClassifications(w io.Writer, format string, cls []Classification) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(cls)
		if err != nil {
			return fmt.Errorf("encode classifications: %w", err)
		}

		return nil

	case outputYAML:
		return writeYAML(w, cls)
	}

	for i, cl := range cls {
		if i > 0 {
			mustN(fmt.Fprintln(w))
		}

		switch {
		case cl.Error != "":
			mustN(fmt.Fprintf(w, "%s: error: %s\n", cl.Path, cl.Error))

			continue
		case !cl.Matched:
			mustN(fmt.Fprintf(w, "%s: no matching rule\n", cl.Path))
		default:
			mustN(fmt.Fprintf(w, "%s: %s -> %s\n", cl.Path, cl.RuleID, cl.Filename))

			for _, name := range cl.Variables.Names() {
				mustN(fmt.Fprintf(w, "  %s=%s\n", name, cl.Variables[name]))
			}
		}

		for _, c := range cl.Conflicts {
			mustN(fmt.Fprintf(w, "  conflict: %s\n", c))
		}
	}

	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aaghdai/nominal/pkg/orchestrator"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var outputFormats = []string{outputText, outputJSON, outputYAML}

type ProcessArgs struct {
	*RootArgs

	RulesDir string
	Pattern  string
	Output   string
	Watch    bool
}

func (pa *ProcessArgs) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&pa.RulesDir, "rules", "r", "", "Rules directory (overrides rules.dir)")
	cmd.Flags().StringVarP(&pa.Pattern, "pattern", "p", "", "Filename pattern (overrides output.pattern)")
	cmd.Flags().StringVarP(&pa.Output, "output", "o", outputText,
		fmt.Sprintf("Report format, one of: %s", outputFormats))
	cmd.Flags().BoolVarP(&pa.Watch, "watch", "w", false, "Keep processing new documents until interrupted")

	must(cmd.MarkFlagDirname("rules"))
	must(cmd.RegisterFlagCompletionFunc("output",
		cobra.FixedCompletions(outputFormats, cobra.ShellCompDirectiveNoFileComp),
	))
}

func NewProcessCmd(rootArgs *RootArgs) *cobra.Command {
	pa := &ProcessArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "process <input-dir> <output-dir>",
		Short: "Classify the documents in a directory and copy them under planned names",
		Long: `Classify every .pdf and .txt document directly in input-dir, in lexical order.
Matched documents are copied to output-dir under the planned filename.
Unmatched documents are copied to output-dir/unmatched with an error log.
Input files are never modified.`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: dirCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pa.run(cmd, args[0], args[1])
		},
	}

	pa.AddFlags(cmd)

	bindEnvVars(cmd)

	return cmd
}

func (pa *ProcessArgs) run(cmd *cobra.Command, inputDir, outputDir string) error {
	if !slices.Contains(outputFormats, pa.Output) {
		return fmt.Errorf("invalid argument %q for --output, one of: %s", pa.Output, outputFormats)
	}

	ctx := cmd.Context()

	cfg, _, err := pa.loadConfig()
	if err != nil {
		return err
	}

	if pa.RulesDir != "" {
		cfg.Rules.Dir = pa.RulesDir
	}

	if pa.Pattern != "" {
		cfg.Output.Pattern = pa.Pattern
	}

	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}

	timeout, err := cfg.Process.Timeout()
	if err != nil {
		return fmt.Errorf("process.documentTimeout: %w", err)
	}

	opts := []orchestrator.Opt{
		orchestrator.WithReader(c.reader),
		orchestrator.WithPlanner(c.planner),
		orchestrator.WithDocumentTimeout(timeout),
	}

	w := cmd.OutOrStdout()
	if pa.Output == outputText {
		opts = append(opts, orchestrator.WithObserver(resultPrinter(w)))
	}

	o, err := orchestrator.New(c.processor, opts...)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	var run *orchestrator.Run

	if pa.Watch {
		var settle time.Duration

		settle, err = cfg.Process.Settle()
		if err != nil {
			return fmt.Errorf("process.watchSettle: %w", err)
		}

		run, err = o.Watch(ctx, inputDir, outputDir, settle)
		if err != nil && run == nil {
			return err //nolint:wrapcheck // Already wrapped.
		}
	} else {
		run, err = o.ProcessDirectory(ctx, inputDir, outputDir)
		if err != nil && run == nil {
			return err //nolint:wrapcheck // Already wrapped.
		}
	}

	reportErr := writeReport(w, pa.Output, run)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	return reportErr
}

type report struct {
	Results []orchestrator.FileResult `json:"results"`
	Stats   orchestrator.Stats        `json:"stats"`
}

var (
	summaryStyle = lipgloss.NewStyle().Bold(true)
	matchedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	missedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func writeReport(w io.Writer, format string, run *orchestrator.Run) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(report{Results: run.Results(), Stats: run.Stats()})
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}

		return nil

	case outputYAML:
		return writeYAML(w, report{Results: run.Results(), Stats: run.Stats()})
	}

	summary := run.Summary()
	if isStyled(w) {
		summary = summaryStyle.Render(summary)
	}

	mustN(fmt.Fprintln(w, summary))

	return nil
}

// resultPrinter returns an observer writing a line to w for each processed
// file, as it completes.
func resultPrinter(w io.Writer) func(orchestrator.FileResult) {
	var mu sync.Mutex

	styled := isStyled(w)

	return func(res orchestrator.FileResult) {
		mu.Lock()
		defer mu.Unlock()

		mustN(fmt.Fprintln(w, resultLine(res, styled)))
	}
}

func isStyled(w io.Writer) bool {
	return isTerminal(os.Stdout) && w == os.Stdout
}

func resultLine(res orchestrator.FileResult, styled bool) string {
	var label, detail string

	style := matchedStyle

	switch res.Outcome {
	case orchestrator.OutcomeMatched:
		label, detail = "matched  ", fmt.Sprintf("%s -> %s (%s)", res.Source, res.Destination, res.RuleID)
	case orchestrator.OutcomeUnmatched:
		label, detail = "unmatched", fmt.Sprintf("%s -> %s", res.Source, res.Destination)
		style = missedStyle
	default:
		label, detail = "error    ", fmt.Sprintf("%s: %s", res.Source, res.Error)
		style = failedStyle
	}

	if styled {
		label = style.Render(label)
	}

	return label + " " + detail
}

func dirCompletion(_ *cobra.Command, args []string, _ string) ([]cobra.Completion, cobra.ShellCompDirective) {
	if len(args) < 2 {
		return nil, cobra.ShellCompDirectiveFilterDirs
	}

	return nil, cobra.ShellCompDirectiveNoFileComp
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aaghdai/nominal/pkg/log"
)

const (
	cmdName = "nominal"
	cmdDesc = `Classify tax documents with declarative rules and copy them under standardized names.`

	cmdExamples = `  # Write a starter configuration to ./nominal.yaml:
  nominal init

  # Classify every document in ./inbox and copy the results to ./sorted:
  nominal process ./inbox ./sorted

  # Keep processing documents as they arrive:
  nominal process ./inbox ./sorted --watch

  # Show how a single document would be classified:
  nominal classify ./inbox/scan-0012.pdf

  # Check the rules for errors:
  nominal rules validate ./rules

  # Serve the HTTP API and metrics:
  nominal serve --address :8080`
)

type RootArgs struct {
	shutdownTracing func(context.Context) error
	handler         slog.Handler

	LogLevel     string
	LogFormat    string
	ConfigPath   string
	OTLPEndpoint string
}

func NewRootArgs() *RootArgs {
	return &RootArgs{}
}

func (ra *RootArgs) AddFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&ra.LogLevel, "log-level", "info", fmt.Sprintf("Log level, one of: %s", log.AllLevels))
	flags.StringVar(&ra.LogFormat, "log-format", "text", fmt.Sprintf("Log format, one of: %s", log.AllFormats))
	flags.StringVarP(&ra.ConfigPath, "config", "c", "",
		"Path to the configuration file (default: nearest nominal.yaml, then the user config)")
	flags.StringVar(&ra.OTLPEndpoint, "otlp-endpoint", "", "Export traces to this OTLP gRPC endpoint")

	must(cmd.RegisterFlagCompletionFunc("log-format",
		cobra.FixedCompletions(log.AllFormats, cobra.ShellCompDirectiveNoFileComp),
	))
	must(cmd.RegisterFlagCompletionFunc("log-level",
		cobra.FixedCompletions(log.AllLevels, cobra.ShellCompDirectiveNoFileComp),
	))
	must(cmd.MarkPersistentFlagFilename("config", "yaml", "yml"))
}

func NewRootCmd() *cobra.Command {
	args := NewRootArgs()

	cmd := &cobra.Command{
		Use:                cmdName,
		Short:              cmdDesc,
		Example:            cmdExamples,
		SilenceUsage:       true,
		PersistentPreRunE:  args.setup,
		PersistentPostRunE: args.teardown,
	}

	args.AddFlags(cmd)

	cmd.AddCommand(
		NewProcessCmd(args),
		NewClassifyCmd(args),
		NewRulesCmd(args),
		NewServeCmd(args),
		NewInitCmd(args),
		NewConfigCmd(args),
	)

	bindEnvVars(cmd)

	return cmd
}

func (ra *RootArgs) setup(cmd *cobra.Command, _ []string) error {
	h, err := log.NewHandler(cmd.ErrOrStderr(), ra.LogLevel, ra.LogFormat)
	if err != nil {
		return fmt.Errorf("create log handler: %w", err)
	}

	ra.handler = h
	slog.SetDefault(slog.New(h))

	ra.shutdownTracing, err = setupTracing(cmd.Context(), ra.OTLPEndpoint)
	if err != nil {
		return err
	}

	return nil
}

func (ra *RootArgs) teardown(cmd *cobra.Command, _ []string) error {
	if ra.shutdownTracing == nil {
		return nil
	}

	err := ra.shutdownTracing(context.WithoutCancel(cmd.Context()))
	if err != nil {
		return fmt.Errorf("flush traces: %w", err)
	}

	return nil
}

// captureLogs additionally sends every log record to a buffer of the most
// recent capacity entries, and returns the buffer.
func (ra *RootArgs) captureLogs(capacity int) (*log.CircularBuffer, error) {
	buf := log.NewCircularBuffer(capacity)

	h, err := log.NewHandler(buf, ra.LogLevel, string(log.FormatLogfmt))
	if err != nil {
		return nil, fmt.Errorf("create log handler: %w", err)
	}

	if ra.handler != nil {
		h = log.Tee(ra.handler, h)
	}

	slog.SetDefault(slog.New(h))

	return buf, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: file descriptors fit in an int.
}

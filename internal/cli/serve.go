package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aaghdai/nominal/pkg/mcp"
	"github.com/aaghdai/nominal/pkg/metrics"
	"github.com/aaghdai/nominal/pkg/server"
)

// logBufferSize is the number of log entries served by /v1/logs.
const logBufferSize = 500

type ServeArgs struct {
	*RootArgs

	Address    string
	MCPAddress string
	RulesDir   string
	MCP        bool
	MCPOnly    bool
	Metrics    bool
}

func (sa *ServeArgs) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sa.Address, "address", "a", "", "HTTP API listen address (overrides server.address)")
	cmd.Flags().StringVarP(&sa.RulesDir, "rules", "r", "", "Rules directory (overrides rules.dir)")
	cmd.Flags().BoolVar(&sa.MCP, "mcp", false, "Also serve the MCP tools")
	cmd.Flags().StringVar(&sa.MCPAddress, "mcp-address", "",
		"Serve MCP over streamable HTTP at this address instead of stdio")
	cmd.Flags().BoolVar(&sa.MCPOnly, "mcp-only", false, "Serve only the MCP tools")
	cmd.Flags().BoolVar(&sa.Metrics, "metrics", true, "Serve Prometheus metrics at /metrics (overrides server.metrics)")

	must(cmd.MarkFlagDirname("rules"))
}

func NewServeCmd(rootArgs *RootArgs) *cobra.Command {
	sa := &ServeArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classification HTTP API and MCP tools",
		Long: `Serve the HTTP API for classifying document text, with stateful batches that
share global variables, until interrupted.

With --mcp, the MCP tools list_rules and classify_text are served too, over
stdio unless --mcp-address is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sa.run(cmd)
		},
	}

	sa.AddFlags(cmd)

	bindEnvVars(cmd)

	return cmd
}

func (sa *ServeArgs) run(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, _, err := sa.loadConfig()
	if err != nil {
		return err
	}

	if sa.RulesDir != "" {
		cfg.Rules.Dir = sa.RulesDir
	}

	if sa.Address != "" {
		cfg.Server.Address = sa.Address
	}

	if cmd.Flags().Changed("metrics") {
		cfg.Server.Metrics = &sa.Metrics
	}

	logs, err := sa.captureLogs(logBufferSize)
	if err != nil {
		return err
	}

	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}

	err = c.planner.Validate(c.processor.DeclaredVariables())
	if err != nil {
		return err //nolint:wrapcheck // Already descriptive.
	}

	var servers []func(context.Context) error

	if !sa.MCPOnly {
		opts := []server.Opt{
			server.WithPlanner(c.planner),
			server.WithLogs(logs),
		}

		if *cfg.Server.Metrics {
			m := metrics.New()
			m.SetRulesLoaded(len(c.processor.Rules().Global), len(c.processor.Rules().Forms))
			opts = append(opts, server.WithMetrics(m))
		}

		s, err := server.New(cfg.Server.Address, c.processor, opts...)
		if err != nil {
			return fmt.Errorf("create HTTP server: %w", err)
		}

		servers = append(servers, s.Serve)
	}

	if sa.MCP || sa.MCPOnly {
		s, err := mcp.NewServer(sa.MCPAddress, c.processor, c.planner)
		if err != nil {
			return fmt.Errorf("create MCP server: %w", err)
		}

		servers = append(servers, s.Serve)
	}

	return serveAll(ctx, cancel, servers)
}

// serveAll runs every server until ctx is done or one of them fails, then
// stops the rest.
func serveAll(ctx context.Context, cancel context.CancelFunc, servers []func(context.Context) error) error {
	errs := make(chan error, len(servers))

	for _, serve := range servers {
		go func() {
			err := serve(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "server failed", slog.Any("error", err))
				cancel()
			}

			errs <- err
		}()
	}

	var all []error
	for range servers {
		all = append(all, <-errs)
	}

	return errors.Join(all...)
}

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aaghdai/nominal/api/v1beta1/configs"
	"github.com/aaghdai/nominal/pkg/config"
)

// loadConfig loads the configuration named by --config, or else the one
// found by [configs.Find] from the working directory. Without either, the
// defaults are used and the returned path is empty. Relative directories
// in a loaded file are resolved against the file's directory.
func (ra *RootArgs) loadConfig() (*configs.Config, string, error) {
	path := ra.ConfigPath
	if path == "" {
		var err error

		path, err = configs.Find(".")
		if err != nil {
			return nil, "", fmt.Errorf("find configuration: %w", err)
		}
	}

	if path == "" {
		slog.Debug("no configuration file found, using defaults")

		return configs.New(), "", nil
	}

	l, err := config.NewLoaderFromFile(path, configs.New, configs.DefaultValidator,
		config.WithColor(isTerminal(os.Stderr)),
	)
	if err != nil {
		return nil, path, fmt.Errorf("read configuration: %w", err)
	}

	err = l.Validate()
	if err != nil {
		return nil, path, fmt.Errorf("invalid configuration %q: %w", path, err)
	}

	cfg, err := l.Load()
	if err != nil {
		return nil, path, fmt.Errorf("load configuration %q: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.Rules.Dir = resolve(base, cfg.Rules.Dir)
	cfg.Names.Dir = resolve(base, cfg.Names.Dir)

	slog.Debug("loaded configuration", slog.String("path", path))

	return cfg, path, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(base, path)
}

type InitArgs struct {
	*RootArgs

	RulesDir string
	NamesDir string
	Pattern  string
	Force    bool
	User     bool
}

func (ia *InitArgs) overrides() *configs.Overrides {
	o := &configs.Overrides{}
	if ia.RulesDir != "" {
		o.Rules = &configs.RulesConfig{Dir: ia.RulesDir}
	}

	if ia.NamesDir != "" {
		o.Names = &configs.NamesConfig{Dir: ia.NamesDir}
	}

	if ia.Pattern != "" {
		o.Output = &configs.OutputConfig{Pattern: ia.Pattern}
	}

	return o
}

func NewInitCmd(rootArgs *RootArgs) *cobra.Command {
	ia := &InitArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Long: `Write the default configuration file to path, ./nominal.yaml by default.
An existing file is kept unless --force is given, in which case it is backed up.
The --rules-dir, --names-dir and --pattern flags replace the matching sections.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configs.FileName

			switch {
			case len(args) > 0:
				path = args[0]
			case ia.User:
				path = configs.GetPath()
			}

			err := configs.WriteDefault(path, ia.Force, ia.overrides())
			if err != nil {
				return err //nolint:wrapcheck // Already wrapped.
			}

			mustN(fmt.Fprintln(cmd.OutOrStdout(), path))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&ia.Force, "force", "f", false, "Replace an existing file, keeping a backup")
	cmd.Flags().BoolVar(&ia.User, "user", false, "Write the user configuration file instead")
	cmd.Flags().StringVar(&ia.RulesDir, "rules-dir", "", "Set rules.dir")
	cmd.Flags().StringVar(&ia.NamesDir, "names-dir", "", "Set names.dir")
	cmd.Flags().StringVarP(&ia.Pattern, "pattern", "p", "", "Set output.pattern")

	must(cmd.MarkFlagDirname("rules-dir"))
	must(cmd.MarkFlagDirname("names-dir"))

	bindEnvVars(cmd)

	return cmd
}

func NewConfigCmd(rootArgs *RootArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the active configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := rootArgs.loadConfig()
			if err != nil {
				return err
			}

			if path != "" {
				slog.Info("active configuration", slog.String("path", path))
			}

			b, err := cfg.MarshalYAML()
			if err != nil {
				return err //nolint:wrapcheck // Already wrapped.
			}

			_, err = cmd.OutOrStdout().Write(b)
			if err != nil {
				return fmt.Errorf("write configuration: %w", err)
			}

			return nil
		},
	}

	bindEnvVars(cmd)

	return cmd
}

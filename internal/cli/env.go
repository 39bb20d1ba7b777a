package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var envNamer = strings.NewReplacer("-", "_")

// envName returns the environment variable for a flag, e.g.
// NOMINAL_LOG_LEVEL for "log-level".
func envName(flag string) string {
	return strings.ToUpper(cmdName + "_" + envNamer.Replace(flag))
}

// bindEnvVars lets the environment supply any flag of cmd that was not set
// on the command line, and documents the variable in the flag's usage.
func bindEnvVars(cmd *cobra.Command) {
	bind := func(f *pflag.Flag) {
		name := envName(f.Name)
		if suffix := " ($" + name + ")"; !strings.HasSuffix(f.Usage, suffix) {
			f.Usage += suffix
		}

		v, ok := os.LookupEnv(name)
		if f.Changed || !ok {
			return
		}

		if err := f.Value.Set(v); err != nil {
			slog.Error("ignoring environment variable",
				slog.String("env", name),
				slog.String("flag", f.Name),
				slog.Any("error", err),
			)
		}
	}

	cmd.Flags().VisitAll(bind)
	cmd.PersistentFlags().VisitAll(bind)
}

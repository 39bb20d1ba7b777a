package cli_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/internal/cli"
)

func TestBindEnvVars(t *testing.T) {
	tcs := map[string]struct {
		envVars       map[string]string
		wantLogLevel  string
		wantLogFormat string
		args          []string
	}{
		"environment variables apply without args": {
			envVars: map[string]string{
				"NOMINAL_LOG_LEVEL":  "debug",
				"NOMINAL_LOG_FORMAT": "json",
			},
			args:          []string{},
			wantLogLevel:  "debug",
			wantLogFormat: "json",
		},
		"args take precedence over environment variables": {
			envVars: map[string]string{
				"NOMINAL_LOG_LEVEL":  "debug",
				"NOMINAL_LOG_FORMAT": "json",
			},
			args:          []string{"--log-level", "error", "--log-format", "logfmt"},
			wantLogLevel:  "error",
			wantLogFormat: "logfmt",
		},
		"partial override": {
			envVars: map[string]string{
				"NOMINAL_LOG_LEVEL": "warn",
			},
			args:          []string{"--log-format", "json"},
			wantLogLevel:  "warn",
			wantLogFormat: "json",
		},
		"defaults": {
			envVars:       map[string]string{},
			args:          []string{},
			wantLogLevel:  "info",
			wantLogFormat: "text",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			for key, val := range tc.envVars {
				t.Setenv(key, val)
			}

			cmd := cli.NewRootCmd()

			err := cmd.ParseFlags(tc.args)
			require.NoError(t, err)

			logLevel, err := cmd.Flags().GetString("log-level")
			require.NoError(t, err)
			assert.Equal(t, tc.wantLogLevel, logLevel)

			logFormat, err := cmd.Flags().GetString("log-format")
			require.NoError(t, err)
			assert.Equal(t, tc.wantLogFormat, logFormat)
		})
	}
}

func TestEnvironmentVariableUsage(t *testing.T) {
	t.Parallel()

	cmd := cli.NewRootCmd()

	logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, logLevelFlag)
	assert.Contains(t, logLevelFlag.Usage, "$NOMINAL_LOG_LEVEL")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Contains(t, configFlag.Usage, "$NOMINAL_CONFIG")

	process, _, err := cmd.Find([]string{"process"})
	require.NoError(t, err)

	rulesFlag := process.Flags().Lookup("rules")
	require.NotNil(t, rulesFlag)
	assert.Contains(t, rulesFlag.Usage, "$NOMINAL_RULES")
}

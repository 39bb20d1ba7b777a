package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/pkg/engine"
)

const taxpayerRule = `id: taxpayer
variables:
  global:
    - SSN
    - SSN_LAST_FOUR
criteria:
  - type: regex
    pattern: '\d{3}-\d{2}-\d{4}'
    capture: true
    variable: SSN
actions:
  - type: derive
    variable: SSN_LAST_FOUR
    from: SSN
    method: slice
    args:
      start: -4
`

const w2Rule = `id: W2
description: Form W-2 Wage and Tax Statement
variables:
  global:
    - TAX_YEAR
  local:
    - FORM
criteria:
  - type: contains
    value: wage and tax statement
    case_sensitive: false
actions:
  - type: set
    variable: FORM
    value: W2
  - type: regex_extract
    variable: TAX_YEAR
    pattern: '20\d{2}'
`

const anyFormRule = `id: ANY_FORM
variables:
  local:
    - FORM
criteria:
  - type: contains
    value: form
    case_sensitive: false
actions:
  - type: set
    variable: FORM
    value: OTHER
`

// writeRules writes files (relative path to contents) under a new temporary
// directory and returns it.
func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, data := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	}

	return dir
}

func newProcessor(t *testing.T, files map[string]string) *engine.Processor {
	t.Helper()

	rs, loadErrs, err := engine.Load(writeRules(t, files))
	require.NoError(t, err)
	require.Empty(t, loadErrs)

	return engine.NewProcessor(rs)
}

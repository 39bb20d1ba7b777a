package planner_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/pkg/planner"
	"github.com/aaghdai/nominal/pkg/rule"
)

func fixedClock() time.Time {
	return time.Date(2031, time.March, 1, 0, 0, 0, 0, time.UTC)
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		vars rule.Variables
		want map[string]string
	}{
		"full set": {
			vars: rule.Variables{
				"FULL_NAME":     "  Michael M Jordan ",
				"SSN":           "123 45 6789",
				"TIN_LAST_FOUR": "6789",
				"TAX_YEAR":      "2024-12-31",
			},
			want: map[string]string{
				"LAST_NAME":      "Jordan",
				"FIRST_NAME":     "Michael",
				"FULL_TIN":       "123-45-6789",
				"NAME_TIN_COMBO": "Jordan_6789",
				"YEAR":           "2024",
			},
		},
		"nothing extracted": {
			vars: rule.Variables{},
			want: map[string]string{
				"LAST_NAME":      planner.Unknown,
				"FIRST_NAME":     planner.Unknown,
				"FULL_TIN":       planner.Unknown,
				"NAME_TIN_COMBO": "UNKNOWN_XXXX",
				"YEAR":           "2031",
			},
		},
		"ein when no ssn": {
			vars: rule.Variables{"SSN": "", "EIN": "12-3456789"},
			want: map[string]string{"FULL_TIN": "123-45-6789"},
		},
		"tin not nine digits": {
			vars: rule.Variables{"TIN": "12-345"},
			want: map[string]string{"FULL_TIN": planner.Unknown},
		},
		"extracted names kept without full name": {
			vars: rule.Variables{"LAST_NAME": "SMITH", "FIRST_NAME": "JOHN"},
			want: map[string]string{"LAST_NAME": "SMITH", "FIRST_NAME": "JOHN"},
		},
		"year fallback": {
			vars: rule.Variables{"YEAR": "2023"},
			want: map[string]string{"YEAR": "2023"},
		},
		"short year uses clock": {
			vars: rule.Variables{"TAX_YEAR": "24", "YEAR": "2023"},
			want: map[string]string{"YEAR": "2031"},
		},
	}

	p, err := planner.New("", planner.WithDerivations(planner.Builtins(fixedClock)...))
	require.NoError(t, err)

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := p.Derive(t.Context(), tc.vars)
			for k, v := range tc.want {
				assert.Equal(t, v, got[k], k)
			}
		})
	}
}

func TestPlanner_Derive(t *testing.T) {
	t.Parallel()

	env, err := planner.NewEnvironment()
	require.NoError(t, err)

	initials, err := planner.CompileDerivation(env, "INITIALS",
		`words(vars.FULL_NAME).map(w, w.substring(0, 1)).join("")`)
	require.NoError(t, err)

	tin, err := planner.CompileDerivation(env, "TIN", `digits(lookup(vars, "SSN", "000000000"))`)
	require.NoError(t, err)

	missing, err := planner.CompileDerivation(env, "MISSING", `vars.NOPE`)
	require.NoError(t, err)

	chained, err := planner.CompileDerivation(env, "TAG", `vars.INITIALS + "-" + vars.TIN`)
	require.NoError(t, err)

	failing := planner.Derivation{
		Name: "FULL_NAME",
		Func: func(rule.Variables) (string, error) { return "", errors.New("boom") },
	}

	p, err := planner.New("{TAG}", planner.WithDerivations(initials, tin, missing, failing, chained))
	require.NoError(t, err)

	in := rule.Variables{"FULL_NAME": "Michael M Jordan"}
	got := p.Derive(t.Context(), in)

	assert.Equal(t, rule.Variables{
		"FULL_NAME": "Michael M Jordan",
		"INITIALS":  "MMJ",
		"TIN":       "000000000",
		"TAG":       "MMJ-000000000",
	}, got)

	// The input is not modified.
	assert.Equal(t, rule.Variables{"FULL_NAME": "Michael M Jordan"}, in)

	assert.Equal(t, []string{"INITIALS", "TIN", "MISSING", "FULL_NAME", "TAG"}, p.Derived())
	assert.Equal(t, "MMJ-000000000", p.Plan(t.Context(), in))
}

func TestCompileDerivation_Error(t *testing.T) {
	t.Parallel()

	env, err := planner.NewEnvironment()
	require.NoError(t, err)

	_, err = planner.CompileDerivation(env, "BAD", `vars.FULL_NAME +`)
	require.ErrorContains(t, err, `derivation "BAD"`)

	_, err = planner.CompileDerivation(env, "BAD", `undefined`)
	require.Error(t, err)
}

func TestPlanner_Render(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		pattern string
		vars    rule.Variables
		want    string
	}{
		"default pattern": {
			vars: rule.Variables{"rule_id": "W2", "LAST_NAME": "JORDAN", "TIN_LAST_FOUR": "6789"},
			want: "W2_JORDAN_6789",
		},
		"missing values": {
			vars: rule.Variables{"rule_id": "W2"},
			want: "W2_UNKNOWN_UNKNOWN",
		},
		"values are sanitized": {
			vars: rule.Variables{"rule_id": "1099-MISC", "LAST_NAME": "O'Brien Smith", "TIN_LAST_FOUR": "67.89"},
			want: "1099-MISC_OBrienSmith_6789",
		},
		"empty after sanitizing": {
			vars: rule.Variables{"rule_id": "W2", "LAST_NAME": "...", "TIN_LAST_FOUR": ""},
			want: "W2_UNKNOWN_UNKNOWN",
		},
		"unicode letters kept": {
			pattern: "{LAST_NAME}",
			vars:    rule.Variables{"LAST_NAME": "Müller"},
			want:    "Müller",
		},
		"spaces in pattern": {
			pattern: "{YEAR} tax {rule_id}",
			vars:    rule.Variables{"YEAR": "2024", "rule_id": "W2"},
			want:    "2024_tax_W2",
		},
		"repeated placeholder": {
			pattern: "{A}-{A}",
			vars:    rule.Variables{"A": "x"},
			want:    "x-x",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p, err := planner.New(tc.pattern)
			require.NoError(t, err)

			assert.Equal(t, tc.want, p.Render(tc.vars))
		})
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := planner.New("{rule_id}/{LAST_NAME}")
	require.ErrorIs(t, err, planner.ErrInvalidPattern)

	p, err := planner.New("")
	require.NoError(t, err)
	assert.Equal(t, planner.DefaultPattern, p.Pattern())
}

func TestPlanner_Validate(t *testing.T) {
	t.Parallel()

	declared := []string{"rule_id", "document_id", "FULL_NAME", "SSN", "TIN_LAST_FOUR"}

	tcs := map[string]struct {
		pattern     string
		wantErr     bool
		wantMessage string
	}{
		"declared and derived": {
			pattern: "{rule_id}_{LAST_NAME}_{TIN_LAST_FOUR}",
		},
		"no placeholders": {
			pattern: "document",
		},
		"unknown with suggestion": {
			pattern:     "{rule_id}_{LASTNAME}",
			wantErr:     true,
			wantMessage: "{LASTNAME} (did you mean LAST_NAME?)",
		},
		"unknown without suggestion": {
			pattern:     "{ZZZ}",
			wantErr:     true,
			wantMessage: "{ZZZ}; available:",
		},
	}

	p := func(pattern string) *planner.Planner {
		p, err := planner.New(pattern, planner.WithDerivations(planner.Builtins(fixedClock)...))
		require.NoError(t, err)

		return p
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := p(tc.pattern).Validate(declared)
			if !tc.wantErr {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, planner.ErrUnknownVariable)
			assert.Contains(t, err.Error(), tc.wantMessage)
		})
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"rule_id", "LAST_NAME"}, planner.Placeholders("{rule_id}_{LAST_NAME}_{rule_id}{bad-name}"))
	assert.Empty(t, planner.Placeholders("plain"))
}

func TestReservations_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("collisions on disk", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "W2_UNKNOWN.pdf"), nil, 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "W2_UNKNOWN_1.pdf"), nil, 0o600))

		got := planner.Resolve(dir, "W2_UNKNOWN", ".pdf", nil)
		assert.Equal(t, filepath.Join(dir, "W2_UNKNOWN_2.pdf"), got)

		got = planner.Resolve(dir, "W2_JORDAN", ".pdf", nil)
		assert.Equal(t, filepath.Join(dir, "W2_JORDAN.pdf"), got)
	})

	t.Run("same run before write", func(t *testing.T) {
		t.Parallel()

		r := planner.NewReservations()
		none := func(string) bool { return false }

		first := r.Resolve("out", "W2_UNKNOWN", ".pdf", none)
		second := r.Resolve("out", "W2_UNKNOWN", ".pdf", none)

		assert.Equal(t, filepath.Join("out", "W2_UNKNOWN.pdf"), first)
		assert.Equal(t, filepath.Join("out", "W2_UNKNOWN_1.pdf"), second)

		r.Release(first)
		assert.Equal(t, first, r.Resolve("out", "W2_UNKNOWN", ".pdf", none))
	})

	t.Run("concurrent", func(t *testing.T) {
		t.Parallel()

		r := planner.NewReservations()
		none := func(string) bool { return false }

		var (
			mu   sync.Mutex
			seen = map[string]struct{}{}
			wg   sync.WaitGroup
		)

		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()

				p := r.Resolve("out", "doc", ".txt", none)

				mu.Lock()
				seen[p] = struct{}{}
				mu.Unlock()
			}()
		}

		wg.Wait()

		assert.Len(t, seen, 16)
	})
}

func TestReservations_Reserve(t *testing.T) {
	t.Parallel()

	r := planner.NewReservations()

	assert.Equal(t, "W2_JORDAN_6789", r.Reserve("W2_JORDAN_6789"))
	assert.Equal(t, "W2_JORDAN_6789_1", r.Reserve("W2_JORDAN_6789"))
	assert.Equal(t, "W2_PIPPEN_4321", r.Reserve("W2_PIPPEN_4321"))
	assert.Equal(t, "W2_JORDAN_6789_2", r.Reserve("W2_JORDAN_6789"))

	other := planner.NewReservations()
	assert.Equal(t, "W2_JORDAN_6789", other.Reserve("W2_JORDAN_6789"))
}

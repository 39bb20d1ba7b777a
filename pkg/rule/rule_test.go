package rule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/pkg/names"
	"github.com/aaghdai/nominal/pkg/rule"
)

const w2Rule = `id: W2
description: Form W-2 Wage and Tax Statement
variables:
  global:
    - FULL_NAME
    - SSN
  local:
    - FORM
    - SSN_LAST_FOUR
    - EMPLOYER
    - YEAR
  derived:
    - LAST_NAME
    - LAST_NAME_UPPER
criteria:
  - type: contains
    value: wage and tax statement
    case_sensitive: false
  - type: any
    criteria:
      - type: regex
        pattern: W-?2
      - type: contains
        value: Form W2
  - type: all
    criteria:
      - type: regex
        pattern: (\d{3}-\d{2}-\d{4})
        capture: true
        variable: SSN
        group: 1
actions:
  - type: set
    variable: FORM
    value: W2
  - type: regex_extract
    variable: YEAR
    from_text: true
    pattern: (20\d{2})
    group: 1
  - type: regex_extract
    variable: EMPLOYER
    pattern: 'Employer: (.+)'
    from: HEADER
    group: 1
  - type: derive
    variable: SSN_LAST_FOUR
    from: SSN
    method: slice
    args:
      start: -4
  - type: validated_regex_extract
    variable: FULL_NAME
    pattern: 'Employee: ([A-Za-z. ]+)'
    group: 1
    min_confidence: 0.6
  - type: extract
    variable: LAST_NAME
    from: FULL_NAME
    method: split
    args:
      index: -1
  - type: derive
    variable: LAST_NAME_UPPER
    from: LAST_NAME
    method: upper
`

func TestParseDefinition_RoundTrip(t *testing.T) {
	t.Parallel()

	def, err := rule.ParseDefinition([]byte(w2Rule))
	require.NoError(t, err)

	r, err := rule.New(*def)
	require.NoError(t, err)

	// The compiled rule converts back to the same structure.
	assert.Equal(t, *def, r.Definition())

	// And the serialized form parses back to it.
	b, err := r.Definition().MarshalYAML()
	require.NoError(t, err)

	again, err := rule.ParseDefinition(b)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

func TestNew(t *testing.T) {
	t.Parallel()

	valid := func() rule.Definition {
		return rule.Definition{
			ID:        "W2",
			Variables: rule.VariablesDefinition{Local: []string{"FORM"}},
			Criteria:  []rule.CriterionDefinition{{Type: rule.TypeContains, Value: "W-2"}},
			Actions:   []rule.ActionDefinition{{Type: rule.TypeSet, Variable: "FORM", Value: "W2"}},
		}
	}

	tcs := map[string]struct {
		mutate  func(d *rule.Definition)
		wantID  string
		wantErr bool
	}{
		"valid": {
			mutate: func(*rule.Definition) {},
			wantID: "W2",
		},
		"form_name alias": {
			mutate: func(d *rule.Definition) { d.ID, d.FormName = "", "1099-MISC" },
			wantID: "1099-MISC",
		},
		"rule_name alias": {
			mutate: func(d *rule.Definition) { d.ID, d.RuleName = "", "taxpayer" },
			wantID: "taxpayer",
		},
		"rule_id alias": {
			mutate: func(d *rule.Definition) { d.ID, d.RuleIDAlias = "", "ssn-extractor" },
			wantID: "ssn-extractor",
		},
		"from_text with from": {
			mutate: func(d *rule.Definition) {
				d.Actions[0] = rule.ActionDefinition{
					Type: rule.TypeRegexExtract, Variable: "FORM", Pattern: "W-2", From: "X", FromText: boolPtr(true),
				}
			},
			wantErr: true,
		},
		"missing id": {
			mutate:  func(d *rule.Definition) { d.ID = "" },
			wantErr: true,
		},
		"no criteria": {
			mutate:  func(d *rule.Definition) { d.Criteria = nil },
			wantErr: true,
		},
		"unknown criterion type": {
			mutate:  func(d *rule.Definition) { d.Criteria[0].Type = "startswith" },
			wantErr: true,
		},
		"missing criterion type": {
			mutate:  func(d *rule.Definition) { d.Criteria[0].Type = "" },
			wantErr: true,
		},
		"contains without value": {
			mutate:  func(d *rule.Definition) { d.Criteria[0].Value = "" },
			wantErr: true,
		},
		"invalid regex": {
			mutate: func(d *rule.Definition) {
				d.Criteria[0] = rule.CriterionDefinition{Type: rule.TypeRegex, Pattern: "(unclosed"}
			},
			wantErr: true,
		},
		"regex group out of range": {
			mutate: func(d *rule.Definition) {
				d.Criteria[0] = rule.CriterionDefinition{Type: rule.TypeRegex, Pattern: "(a)", Group: intPtr(2)}
			},
			wantErr: true,
		},
		"empty all": {
			mutate: func(d *rule.Definition) {
				d.Criteria[0] = rule.CriterionDefinition{Type: rule.TypeAll}
			},
			wantErr: true,
		},
		"empty any": {
			mutate: func(d *rule.Definition) {
				d.Criteria[0] = rule.CriterionDefinition{Type: rule.TypeAny}
			},
			wantErr: true,
		},
		"undeclared action output": {
			mutate:  func(d *rule.Definition) { d.Actions[0].Variable = "OTHER" },
			wantErr: true,
		},
		"unknown action type": {
			mutate:  func(d *rule.Definition) { d.Actions[0].Type = "copy" },
			wantErr: true,
		},
		"action without variable": {
			mutate:  func(d *rule.Definition) { d.Actions[0].Variable = "" },
			wantErr: true,
		},
		"regex extract group out of range": {
			mutate: func(d *rule.Definition) {
				d.Actions[0] = rule.ActionDefinition{
					Type: rule.TypeRegexExtract, Variable: "FORM", Pattern: "W-2", Group: intPtr(1),
				}
			},
			wantErr: true,
		},
		"unknown derive method": {
			mutate: func(d *rule.Definition) {
				d.Actions[0] = rule.ActionDefinition{
					Type: rule.TypeDerive, Variable: "FORM", From: "X", Method: "reverse",
				}
			},
			wantErr: true,
		},
		"derive without from": {
			mutate: func(d *rule.Definition) {
				d.Actions[0] = rule.ActionDefinition{Type: rule.TypeDerive, Variable: "FORM", Method: "upper"}
			},
			wantErr: true,
		},
		"unknown extract method": {
			mutate: func(d *rule.Definition) {
				d.Actions[0] = rule.ActionDefinition{
					Type: rule.TypeExtract, Variable: "FORM", From: "X", Method: "join",
				}
			},
			wantErr: true,
		},
		"invalid split pattern": {
			mutate: func(d *rule.Definition) {
				d.Actions[0] = rule.ActionDefinition{
					Type: rule.TypeExtract, Variable: "FORM", From: "X", Method: "split",
					Args: &rule.ActionArgs{Pattern: "["},
				}
			},
			wantErr: true,
		},
		"min confidence out of range": {
			mutate: func(d *rule.Definition) {
				conf := 1.5
				d.Actions[0] = rule.ActionDefinition{
					Type: rule.TypeValidatedRegexExtract, Variable: "FORM", Pattern: "(.+)", MinConfidence: &conf,
				}
			},
			wantErr: true,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			def := valid()
			tc.mutate(&def)

			r, err := rule.New(def)
			if tc.wantErr {
				require.ErrorIs(t, err, rule.ErrInvalidRule)
				assert.Nil(t, r)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantID, r.ID)
		})
	}
}

func TestMustNew(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		rule.MustNew(rule.Definition{ID: "bad"})
	})
}

func TestRule_Apply(t *testing.T) {
	t.Parallel()

	def, err := rule.ParseDefinition([]byte(w2Rule))
	require.NoError(t, err)

	r := rule.MustNew(*def)

	validator := names.NewValidator(names.NewDictionary(
		[]string{"MICHAEL"},
		[]string{"JORDAN"},
	))

	t.Run("matches", func(t *testing.T) {
		t.Parallel()

		text := "FORM W-2 WAGE AND TAX STATEMENT 2024\nSSN 123-45-6789\nEmployee: MICHAEL M JORDAN\n"

		m := r.Apply(text, rule.WithNameValidator(validator))
		require.NotNil(t, m)

		assert.Equal(t, "W2", m.RuleID)
		assert.Equal(t, rule.Variables{
			"FORM":            "W2",
			"YEAR":            "2024",
			"SSN":             "123-45-6789",
			"SSN_LAST_FOUR":   "6789",
			"FULL_NAME":       "MICHAEL M JORDAN",
			"LAST_NAME":       "JORDAN",
			"LAST_NAME_UPPER": "JORDAN",
		}, m.Variables)

		// The regex_extract reading HEADER fails, the rest still run.
		require.Len(t, m.Errors, 1)
		assert.Equal(t, 2, m.Errors[0].Index)
		assert.Equal(t, "EMPLOYER", m.Errors[0].Variable)
		require.ErrorIs(t, m.Errors[0], rule.ErrMissingSource)

		global, local := r.Partition(m.Variables)
		assert.Equal(t, rule.Variables{"SSN": "123-45-6789", "FULL_NAME": "MICHAEL M JORDAN"}, global)
		assert.Equal(t, []string{"FORM", "LAST_NAME", "LAST_NAME_UPPER", "SSN_LAST_FOUR", "YEAR"}, local.Names())
	})

	t.Run("failed name validation skips dependents", func(t *testing.T) {
		t.Parallel()

		text := "W-2 wage and tax statement\n123-45-6789\nEmployee: ACME CORP\n"

		m := r.Apply(text, rule.WithNameValidator(validator))
		require.NotNil(t, m)

		assert.NotContains(t, m.Variables, "FULL_NAME")
		assert.NotContains(t, m.Variables, "LAST_NAME")

		failed := make([]string, 0, len(m.Errors))
		for _, e := range m.Errors {
			failed = append(failed, e.Variable)
		}

		assert.Equal(t, []string{"EMPLOYER", "LAST_NAME", "LAST_NAME_UPPER"}, failed)
	})

	t.Run("no match", func(t *testing.T) {
		t.Parallel()

		assert.Nil(t, r.Apply("Form 1099-MISC 123-45-6789"))
	})

	t.Run("criteria short circuit", func(t *testing.T) {
		t.Parallel()

		visited := 0
		m := r.Apply("Form 1099", rule.WithObserver(func(rule.Criterion, bool) { visited++ }))
		assert.Nil(t, m)
		assert.Equal(t, 1, visited)
	})
}

func TestRule_Variables(t *testing.T) {
	t.Parallel()

	def, err := rule.ParseDefinition([]byte(w2Rule))
	require.NoError(t, err)

	r := rule.MustNew(*def)

	assert.Equal(t, []string{
		"FULL_NAME", "SSN",
		"FORM", "SSN_LAST_FOUR", "EMPLOYER", "YEAR",
		"LAST_NAME", "LAST_NAME_UPPER",
	}, r.Variables())
	assert.True(t, r.Declares("YEAR"))
	assert.False(t, r.Declares("TAX_YEAR"))
	assert.True(t, r.IsGlobal("SSN"))
	assert.False(t, r.IsGlobal("FORM"))
}

func TestRule_Captures(t *testing.T) {
	t.Parallel()

	def, err := rule.ParseDefinition([]byte(w2Rule))
	require.NoError(t, err)

	assert.Equal(t, []string{"SSN"}, rule.MustNew(*def).Captures())
}

package rule_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/pkg/rule"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	ssn := &rule.Regex{
		Pattern:  regexp.MustCompile(`\d{3}-\d{2}-(\d{4})`),
		Capture:  true,
		Variable: "SSN",
	}
	ssnLast4 := &rule.Regex{
		Pattern:  regexp.MustCompile(`\d{3}-\d{2}-(\d{4})`),
		Capture:  true,
		Variable: "SSN_LAST_FOUR",
		Group:    1,
	}
	year := &rule.Regex{
		Pattern:  regexp.MustCompile(`20\d{2}`),
		Capture:  true,
		Variable: "YEAR",
	}

	tcs := map[string]struct {
		criterion rule.Criterion
		want      rule.Variables
		text      string
		match     bool
	}{
		"contains case sensitive": {
			criterion: &rule.Contains{Value: "Form W-2", CaseSensitive: true},
			text:      "Form W-2 Wage and Tax Statement",
			match:     true,
		},
		"contains case sensitive mismatch": {
			criterion: &rule.Contains{Value: "form w-2", CaseSensitive: true},
			text:      "Form W-2 Wage and Tax Statement",
			match:     false,
		},
		"contains case insensitive": {
			criterion: &rule.Contains{Value: "form w-2"},
			text:      "FORM W-2 WAGE AND TAX STATEMENT",
			match:     true,
		},
		"regex without capture": {
			criterion: &rule.Regex{Pattern: regexp.MustCompile(`W-?2`), Variable: "FORM"},
			text:      "Form W2",
			match:     true,
		},
		"regex capture full match": {
			criterion: ssn,
			text:      "SSN: 123-45-6789",
			match:     true,
			want:      rule.Variables{"SSN": "123-45-6789"},
		},
		"regex capture group": {
			criterion: ssnLast4,
			text:      "SSN: 123-45-6789",
			match:     true,
			want:      rule.Variables{"SSN_LAST_FOUR": "6789"},
		},
		"regex no match": {
			criterion: ssn,
			text:      "no numbers here",
			match:     false,
		},
		"all unions captures": {
			criterion: &rule.All{Children: []rule.Criterion{ssn, year}},
			text:      "123-45-6789 tax year 2024",
			match:     true,
			want:      rule.Variables{"SSN": "123-45-6789", "YEAR": "2024"},
		},
		"all fails drops captures": {
			criterion: &rule.All{Children: []rule.Criterion{ssn, year}},
			text:      "123-45-6789 tax year unknown",
			match:     false,
		},
		"any returns first matching child captures": {
			criterion: &rule.Any{Children: []rule.Criterion{year, ssn}},
			text:      "123-45-6789 tax year 2024",
			match:     true,
			want:      rule.Variables{"YEAR": "2024"},
		},
		"any skips failing child": {
			criterion: &rule.Any{Children: []rule.Criterion{year, ssn}},
			text:      "123-45-6789",
			match:     true,
			want:      rule.Variables{"SSN": "123-45-6789"},
		},
		"any fails": {
			criterion: &rule.Any{Children: []rule.Criterion{year, ssn}},
			text:      "nothing",
			match:     false,
		},
		"nested any inside all": {
			criterion: &rule.All{Children: []rule.Criterion{
				&rule.Contains{Value: "1099", CaseSensitive: true},
				&rule.Any{Children: []rule.Criterion{
					&rule.Contains{Value: "MISC", CaseSensitive: true},
					&rule.Contains{Value: "NEC", CaseSensitive: true},
				}},
				year,
			}},
			text:  "Form 1099-NEC 2023",
			match: true,
			want:  rule.Variables{"YEAR": "2023"},
		},
		"later all children overwrite captures": {
			criterion: &rule.All{Children: []rule.Criterion{
				&rule.Regex{Pattern: regexp.MustCompile(`a+`), Capture: true, Variable: "X"},
				&rule.Regex{Pattern: regexp.MustCompile(`b+`), Capture: true, Variable: "X"},
			}},
			text:  "aa bb",
			match: true,
			want:  rule.Variables{"X": "bb"},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, captures := rule.Evaluate(tc.criterion, tc.text)
			assert.Equal(t, tc.match, got)

			if tc.want == nil {
				assert.Empty(t, captures)
			} else {
				assert.Equal(t, tc.want, captures)
			}
		})
	}
}

func TestEvaluator_ShortCircuit(t *testing.T) {
	t.Parallel()

	children := []rule.Criterion{
		&rule.Contains{Value: "a", CaseSensitive: true},
		&rule.Contains{Value: "b", CaseSensitive: true},
		&rule.Contains{Value: "c", CaseSensitive: true},
		&rule.Contains{Value: "d", CaseSensitive: true},
	}

	tcs := map[string]struct {
		criterion rule.Criterion
		text      string
		visited   int
		match     bool
	}{
		"all stops at first failure": {
			criterion: &rule.All{Children: children},
			text:      "a",
			visited:   2,
			match:     false,
		},
		"all visits every child on success": {
			criterion: &rule.All{Children: children},
			text:      "abcd",
			visited:   4,
			match:     true,
		},
		"any stops at first success": {
			criterion: &rule.Any{Children: children},
			text:      "b",
			visited:   2,
			match:     true,
		},
		"any visits every child on failure": {
			criterion: &rule.Any{Children: children},
			text:      "z",
			visited:   4,
			match:     false,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			visited := 0
			ev := rule.Evaluator{Observe: func(rule.Criterion, bool) { visited++ }}

			got, _ := ev.Evaluate(tc.criterion, tc.text)
			assert.Equal(t, tc.match, got)
			assert.Equal(t, tc.visited, visited)
		})
	}
}

func TestEvaluate_DeepNesting(t *testing.T) {
	t.Parallel()

	var c rule.Criterion = &rule.Contains{Value: "needle", CaseSensitive: true}
	for i := range 100_000 {
		if i%2 == 0 {
			c = &rule.All{Children: []rule.Criterion{c}}
		} else {
			c = &rule.Any{Children: []rule.Criterion{&rule.Contains{Value: "nope", CaseSensitive: true}, c}}
		}
	}

	got, _ := rule.Evaluate(c, "haystack with a needle")
	assert.True(t, got)

	got, _ = rule.Evaluate(c, "haystack")
	assert.False(t, got)
}

func TestNew_CriteriaDepthLimit(t *testing.T) {
	t.Parallel()

	leaf := rule.CriterionDefinition{Type: rule.TypeContains, Value: "x"}

	nest := func(depth int) rule.CriterionDefinition {
		c := leaf
		for range depth {
			c = rule.CriterionDefinition{Type: rule.TypeAll, Criteria: []rule.CriterionDefinition{c}}
		}

		return c
	}

	def := func(depth int) rule.Definition {
		return rule.Definition{
			ID:       "DEEP",
			Criteria: []rule.CriterionDefinition{nest(depth)},
		}
	}

	_, err := rule.New(def(rule.MaxDepth))
	require.NoError(t, err)

	_, err = rule.New(def(rule.MaxDepth + 1))
	require.ErrorIs(t, err, rule.ErrInvalidRule)
	assert.True(t, strings.Contains(err.Error(), "nested deeper"))
}

func TestWalk(t *testing.T) {
	t.Parallel()

	a := &rule.Contains{Value: "a"}
	b := &rule.Contains{Value: "b"}
	c := &rule.Contains{Value: "c"}
	anyBC := &rule.Any{Children: []rule.Criterion{b, c}}
	root := &rule.All{Children: []rule.Criterion{a, anyBC}}

	var got []rule.Criterion
	rule.Walk(root, func(c rule.Criterion) { got = append(got, c) })

	assert.Equal(t, []rule.Criterion{root, a, anyBC, b, c}, got)
}

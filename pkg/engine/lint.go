package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/aaghdai/nominal/api"
	"github.com/aaghdai/nominal/pkg/rule"
	"github.com/aaghdai/nominal/pkg/yaml"
)

// Severity is the severity of a [Finding].
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is a problem in a loaded [RuleSet] that does not prevent it from
// being used.
type Finding struct {
	Severity Severity `json:"severity"`
	RuleID   string   `json:"ruleId"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Severity, f.RuleID, f.Message)
}

type globalVariablesFile struct {
	GlobalVariables []string `json:"global_variables"`
}

// ReadGlobalVariables reads the allowed global variable names from the
// [GlobalVariablesFile] in dir. It returns nil when the file does not exist.
func ReadGlobalVariables(dir string) ([]string, error) {
	data, err := api.ReadFile(filepath.Join(dir, GlobalVariablesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err //nolint:wrapcheck // Return the original error.
	}

	f := globalVariablesFile{}

	err = yaml.NewDecoder(bytes.NewReader(data)).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", GlobalVariablesFile, err)
	}

	if f.GlobalVariables == nil {
		return nil, fmt.Errorf("%s: missing global_variables", GlobalVariablesFile)
	}

	return f.GlobalVariables, nil
}

// Lint checks rs for consistency problems.
//
// When allowedGlobals is non-nil, every declared global variable must be in
// it. Actions reading a variable that the rule neither declares nor
// captures, and rule IDs used more than once, are reported as warnings.
func Lint(rs *RuleSet, allowedGlobals []string) []Finding {
	var findings []Finding

	seen := map[string]struct{}{}

	for _, r := range rs.Rules() {
		if _, ok := seen[r.ID]; ok {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				RuleID:   r.ID,
				Message:  "duplicate rule id",
			})
		}

		seen[r.ID] = struct{}{}

		if allowedGlobals != nil {
			for _, name := range r.Global {
				if !slices.Contains(allowedGlobals, name) {
					findings = append(findings, Finding{
						Severity: SeverityError,
						RuleID:   r.ID,
						Message:  fmt.Sprintf("global variable %q is not listed in %s", name, GlobalVariablesFile),
					})
				}
			}
		}

		captures := r.Captures()

		for i, a := range r.Actions {
			from := actionSource(a)
			if from == "" || r.Declares(from) || slices.Contains(captures, from) {
				continue
			}

			findings = append(findings, Finding{
				Severity: SeverityWarning,
				RuleID:   r.ID,
				Message:  fmt.Sprintf("action %d reads undeclared variable %q", i, from),
			})
		}
	}

	return findings
}

func actionSource(a rule.Action) string {
	switch t := a.(type) {
	case *rule.RegexExtract:
		return t.From
	case *rule.Derive:
		return t.From
	case *rule.Extract:
		return t.From
	}

	return ""
}

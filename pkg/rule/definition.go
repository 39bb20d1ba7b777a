package rule

import (
	"bytes"
	"fmt"

	"github.com/aaghdai/nominal/pkg/yaml"
)

// Criterion type tags.
const (
	TypeContains = "contains"
	TypeRegex    = "regex"
	TypeAll      = "all"
	TypeAny      = "any"
)

// Action type tags.
const (
	TypeSet                   = "set"
	TypeRegexExtract          = "regex_extract"
	TypeDerive                = "derive"
	TypeExtract               = "extract"
	TypeValidatedRegexExtract = "validated_regex_extract"
)

// Definition is the structural form of a rule, as persisted in rule files.
//
// Rules are identified by `id`. The `form_name`, `rule_name` and `rule_id`
// keys are accepted as aliases for compatibility with older rule files.
type Definition struct {
	// ID identifies the rule, e.g. "W2" or "1099-MISC".
	ID string `json:"id,omitempty" jsonschema:"title=ID"`
	// FormName is an alias for ID used by form classification rules.
	FormName string `json:"form_name,omitempty" jsonschema:"title=Form Name"`
	// RuleName is an alias for ID used by global extraction rules.
	RuleName string `json:"rule_name,omitempty" jsonschema:"title=Rule Name"`
	// RuleIDAlias is an alias for ID found in older global rule files.
	RuleIDAlias string `json:"rule_id,omitempty" jsonschema:"title=Rule ID"`
	// Description is a human readable description of the rule.
	Description string `json:"description,omitempty" jsonschema:"title=Description"`
	// Variables declares every variable the rule's actions may write.
	Variables VariablesDefinition `json:"variables,omitempty" jsonschema:"title=Variables"`
	// Criteria must all match for the rule to apply.
	Criteria []CriterionDefinition `json:"criteria" jsonschema:"title=Criteria,minItems=1"`
	// Actions run in order after the criteria match.
	Actions []ActionDefinition `json:"actions,omitempty" jsonschema:"title=Actions"`
}

// VariablesDefinition declares variable names by scope.
type VariablesDefinition struct {
	// Global variables are merged across all documents in a batch.
	Global []string `json:"global,omitempty" jsonschema:"title=Global Variables"`
	// Local variables belong to a single document.
	Local []string `json:"local,omitempty" jsonschema:"title=Local Variables"`
	// Derived variables are computed from other variables. They are local to
	// the document.
	Derived []string `json:"derived,omitempty" jsonschema:"title=Derived Variables"`
}

// CriterionDefinition is the structural form of a [Criterion].
type CriterionDefinition struct {
	// Type is the criterion type.
	Type string `json:"type" jsonschema:"title=Type,enum=contains,enum=regex,enum=all,enum=any"`
	// Description documents the criterion.
	Description string `json:"description,omitempty" jsonschema:"title=Description"`
	// Value is the substring searched for by `contains`.
	Value string `json:"value,omitempty" jsonschema:"title=Value"`
	// CaseSensitive controls `contains` matching. Defaults to true.
	CaseSensitive *bool `json:"case_sensitive,omitempty" jsonschema:"title=Case Sensitive"`
	// Pattern is the regular expression used by `regex`.
	Pattern string `json:"pattern,omitempty" jsonschema:"title=Pattern,format=regex"`
	// Capture writes the match into Variable.
	Capture bool `json:"capture,omitempty" jsonschema:"title=Capture"`
	// Variable receives the captured text when Capture is set.
	Variable string `json:"variable,omitempty" jsonschema:"title=Variable"`
	// Group selects the regex group written by a capturing `regex`. Defaults to 0.
	Group *int `json:"group,omitempty" jsonschema:"title=Group,minimum=0"`
	// Criteria are the children of `all` and `any`.
	Criteria []CriterionDefinition `json:"criteria,omitempty" jsonschema:"title=Criteria"`
}

// ActionDefinition is the structural form of an [Action].
type ActionDefinition struct {
	// Type is the action type.
	Type string `json:"type" jsonschema:"title=Type,enum=set,enum=regex_extract,enum=derive,enum=extract,enum=validated_regex_extract"`
	// Variable is the output variable.
	Variable string `json:"variable" jsonschema:"title=Variable"`
	// Value is the literal assigned by `set`.
	Value string `json:"value,omitempty" jsonschema:"title=Value"`
	// Pattern is the regular expression used by regex actions.
	Pattern string `json:"pattern,omitempty" jsonschema:"title=Pattern,format=regex"`
	// Group selects the regex group to extract. Defaults to 0 (the full match).
	Group *int `json:"group,omitempty" jsonschema:"title=Group,minimum=0"`
	// From names the source variable for `derive` and `extract`. For
	// `regex_extract` it optionally replaces the document text as the input.
	From string `json:"from,omitempty" jsonschema:"title=From"`
	// FromText makes `regex_extract` search the document text. Unset means
	// true. False with no From disables the action. It cannot be true when
	// From is set.
	FromText *bool `json:"from_text,omitempty" jsonschema:"title=From Text"`
	// Method is the `derive` or `extract` method.
	Method string `json:"method,omitempty" jsonschema:"title=Method,enum=slice,enum=upper,enum=lower,enum=strip,enum=digits,enum=split"`
	// Args holds method arguments.
	Args *ActionArgs `json:"args,omitempty" jsonschema:"title=Arguments"`
	// MinConfidence is the minimum name confidence accepted by
	// `validated_regex_extract`. Defaults to 0.5.
	MinConfidence *float64 `json:"min_confidence,omitempty" jsonschema:"title=Minimum Confidence,minimum=0,maximum=1"`
}

// ActionArgs holds the arguments of `derive` and `extract` methods.
type ActionArgs struct {
	// Start is the inclusive slice start. Negative values count from the end.
	Start *int `json:"start,omitempty" jsonschema:"title=Start"`
	// End is the exclusive slice end. Negative values count from the end.
	End *int `json:"end,omitempty" jsonschema:"title=End"`
	// Index selects the split token. Negative values count from the end.
	Index *int `json:"index,omitempty" jsonschema:"title=Index"`
	// Pattern is the split separator. Defaults to `\s+`.
	Pattern string `json:"pattern,omitempty" jsonschema:"title=Pattern,format=regex"`
}

// Name returns the rule identifier, honoring the `form_name`, `rule_name`
// and `rule_id` aliases.
func (d *Definition) Name() string {
	switch {
	case d.ID != "":
		return d.ID
	case d.FormName != "":
		return d.FormName
	case d.RuleName != "":
		return d.RuleName
	default:
		return d.RuleIDAlias
	}
}

// ParseDefinition decodes a single rule definition from YAML.
func ParseDefinition(data []byte) (*Definition, error) {
	def := &Definition{}

	err := yaml.NewDecoder(bytes.NewReader(data)).Decode(def)
	if err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}

	return def, nil
}

// MarshalYAML serializes the definition back into the rule file format.
func (d Definition) MarshalYAML() ([]byte, error) {
	type alias Definition

	b := &bytes.Buffer{}

	enc := yaml.NewEncoder(b)

	err := enc.Encode(alias(d))
	if err != nil {
		return nil, fmt.Errorf("marshal rule: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return nil, fmt.Errorf("marshal rule: %w", err)
	}

	return b.Bytes(), nil
}

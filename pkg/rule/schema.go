package rule

import (
	"bytes"
	"fmt"

	_ "embed"

	"github.com/aaghdai/nominal/pkg/yaml"
)

//go:generate go run ../../internal/schemagen -root ../.. -type rule -o rule.schema.json

var (
	//go:embed rule.schema.json
	schemaJSON []byte

	// DefaultValidator validates rule files against the embedded JSON schema.
	DefaultValidator = yaml.MustNewValidator("/rule.schema.json", schemaJSON)
)

// Schema returns the JSON schema for rule files.
func Schema() []byte {
	return bytes.Clone(schemaJSON)
}

// ValidateSchema checks a rule file against the rule JSON schema. Errors
// are returned as [*yaml.Error] annotated with data.
func ValidateSchema(data []byte) error {
	ew := yaml.NewErrorWrapper(yaml.WithSource(data))

	var doc any

	err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc)
	if err != nil {
		return fmt.Errorf("decode rule: %w", ew.Wrap(err))
	}

	err = DefaultValidator.Validate(doc)
	if err != nil {
		return fmt.Errorf("validate rule: %w", ew.Wrap(err))
	}

	return nil
}

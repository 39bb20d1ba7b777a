package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks generically decoded documents against a compiled JSON
// schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the JSON schema in schemaData, registered under url.
// Format keywords such as "regex" are asserted, not just annotated.
func NewValidator(url string, schemaData []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()

	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

func MustNewValidator(url string, schemaData []byte) *Validator {
	v, err := NewValidator(url, schemaData)
	if err != nil {
		panic(err)
	}

	return v
}

// Validate checks data, the result of decoding a document into an `any`.
// Violations come back as an [*Error] located at the most specific failing
// node.
func (v *Validator) Validate(data any) error {
	err := v.schema.Validate(data)

	var verr *jsonschema.ValidationError
	switch {
	case err == nil:
		return nil
	case !errors.As(err, &verr):
		return fmt.Errorf("schema validation: %w", err)
	}

	return NewError(verr, WithPath(toPath(deepest(verr))))
}

func deepest(err *jsonschema.ValidationError) []string {
	loc := err.InstanceLocation
	for _, cause := range err.Causes {
		if l := deepest(cause); len(l) > len(loc) {
			loc = l
		}
	}

	return loc
}

// toPath converts a JSON pointer split into segments. Numeric segments are
// treated as sequence indexes.
func toPath(segments []string) *yaml.Path {
	b := NewPathBuilder().Root()

	for _, s := range segments {
		i, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			b = b.Child(s)

			continue
		}

		b = b.Index(uint(i))
	}

	return b.Build()
}

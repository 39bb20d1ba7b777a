// Package schema generates JSON schemas for nominal's file formats from
// their Go types.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Generator reflects a JSON schema from a Go value.
type Generator struct {
	reflector *jsonschema.Reflector
	v         any
	module    string
	dirs      []string
}

// NewGenerator creates a [Generator] for v. Doc comments of the types in
// dirs, given relative to the working directory and belonging to module,
// become schema descriptions.
func NewGenerator(v any, module string, dirs ...string) *Generator {
	return &Generator{
		reflector: &jsonschema.Reflector{
			ExpandedStruct:             true,
			RequiredFromJSONSchemaTags: false,
			AllowAdditionalProperties:  false,
		},
		v:      v,
		module: module,
		dirs:   dirs,
	}
}

// Generate returns the indented JSON schema.
func (g *Generator) Generate() ([]byte, error) {
	for _, dir := range g.dirs {
		err := g.reflector.AddGoComments(g.module, dir)
		if err != nil {
			return nil, fmt.Errorf("add comments from %s: %w", dir, err)
		}
	}

	s := g.reflector.Reflect(g.v)

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	return append(b, '\n'), nil
}

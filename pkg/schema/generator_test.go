package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/pkg/schema"
)

type document struct {
	Child *child   `json:"child,omitempty"`
	Name  string   `json:"name" jsonschema:"title=Name,minLength=1"`
	Tags  []string `json:"tags,omitempty" jsonschema:"title=Tags"`
}

type child struct {
	Value string `json:"value"`
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	b, err := schema.NewGenerator(&document{}, "github.com/aaghdai/nominal/pkg/schema").Generate()
	require.NoError(t, err)

	var got struct {
		Properties           map[string]map[string]any `json:"properties"`
		Defs                 map[string]any            `json:"$defs"`
		AdditionalProperties *bool                     `json:"additionalProperties"`
		Required             []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, []string{"name"}, got.Required)
	require.NotNil(t, got.AdditionalProperties)
	assert.False(t, *got.AdditionalProperties)
	assert.Equal(t, "Name", got.Properties["name"]["title"])
	assert.Equal(t, "array", got.Properties["tags"]["type"])
	assert.Equal(t, "#/$defs/child", got.Properties["child"]["$ref"])
	assert.Contains(t, got.Defs, "child")
}

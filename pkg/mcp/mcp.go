package mcp

import "github.com/modelcontextprotocol/go-sdk/jsonschema"

const (
	name         = "nominal"
	instructions = `MCP Server 'nominal' classifies the text of tax documents against a rule set, extracts named variables, and plans the filename the document would be renamed to.

When to use these tools:
- Finding out which form a document is (W-2, 1099, ...) from its extracted text
- Inspecting the variables a rule extracts, such as names, TINs, and tax years
- Debugging why a document does not match the expected rule

REQUIRED workflow:
1. Use 'list_rules' first to see the available rules and the variables each one declares
2. Use 'classify_text' with the full text of a document
3. If the document is unmatched, READ the preview and compare it against the criteria of the rule you expected

Global variables (for example the taxpayer's SSN) are shared across every 'classify_text' call made to this server. The first value seen for a global variable wins, and later differing values are reported as conflicts.
`
)

func newVariablesSchema(description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: description,
		AdditionalProperties: &jsonschema.Schema{
			Type: "string",
		},
	}
}

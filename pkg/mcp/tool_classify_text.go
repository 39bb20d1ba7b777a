package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/rule"
)

// ClassifyTextParams defines parameters for the classify_text tool.
type ClassifyTextParams struct {
	Text string `json:"text" jsonschema:"description=the full text of the document"`
	ID   string `json:"id,omitempty" jsonschema:"description=an optional document identifier"`
}

// ClassifyTextResult contains the result of classifying a document.
type ClassifyTextResult struct {
	Global     rule.Variables `json:"global,omitempty"`
	Local      rule.Variables `json:"local,omitempty"`
	Derived    rule.Variables `json:"derived,omitempty"`
	Message    string         `json:"message"`
	RuleID     string         `json:"ruleId,omitempty"`
	DocumentID string         `json:"documentId,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	Preview    string         `json:"preview,omitempty"`
	Conflicts  []string       `json:"conflicts,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
	Matched    bool           `json:"matched"`
}

// handleClassifyText handles the classify_text tool call.
func (s *Server) handleClassifyText(
	ctx context.Context,
	_ *mcp.ServerSession,
	params *mcp.CallToolParamsFor[ClassifyTextParams],
) (*mcp.CallToolResultFor[ClassifyTextResult], error) {
	doc := engine.Document{
		ID:   params.Arguments.ID,
		Text: params.Arguments.Text,
	}

	res, diags := s.batch.Process(ctx, doc)
	diags.Log(ctx)

	result := ClassifyTextResult{}
	populateDiagnostics(&result, diags)

	if res == nil {
		result.Preview = engine.Preview(doc.Text)

		return createClassifyTextResult(result), nil
	}

	vars := res.Variables()
	derived := s.planner.Derive(ctx, vars)

	result.Matched = true
	result.RuleID = res.RuleID
	result.DocumentID = res.DocumentID
	result.Global = res.Global
	result.Local = res.Local
	result.Derived = rule.Variables{}
	result.Filename = s.names.Reserve(s.planner.Render(derived))

	for k, v := range derived {
		if old, ok := vars[k]; !ok || old != v {
			result.Derived[k] = v
		}
	}

	return createClassifyTextResult(result), nil
}

// createClassifyTextResult creates the MCP tool result from ClassifyTextResult.
func createClassifyTextResult(result ClassifyTextResult) *mcp.CallToolResultFor[ClassifyTextResult] {
	msg := "Document did not match any form rule."
	if result.Matched {
		msg = fmt.Sprintf("Document matched rule %q; planned filename %q.", result.RuleID, result.Filename)
	}

	if n := len(result.Conflicts); n > 0 {
		msg += fmt.Sprintf(" %d global variable conflict(s).", n)
	}

	result.Message = msg

	return &mcp.CallToolResultFor[ClassifyTextResult]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: msg,
			},
		},
		StructuredContent: result,
	}
}

// populateDiagnostics adds the non-fatal problems of a call to the result.
func populateDiagnostics(result *ClassifyTextResult, diags engine.Diagnostics) {
	for _, c := range diags.Conflicts {
		result.Conflicts = append(result.Conflicts, c.String())
	}

	for _, e := range diags.Actions {
		result.Errors = append(result.Errors, e.Error())
	}

	for _, e := range diags.Evaluation {
		result.Errors = append(result.Errors, e.Error())
	}
}

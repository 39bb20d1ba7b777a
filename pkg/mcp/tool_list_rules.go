package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/rule"
)

// ListRulesParams defines parameters for the list_rules tool.
type ListRulesParams struct {
	Group string `json:"group,omitempty" jsonschema:"description=only list rules of this group"`
}

// RuleSummary describes a loaded rule.
type RuleSummary struct {
	ID          string   `json:"id"`
	Group       string   `json:"group"`
	Description string   `json:"description,omitempty"`
	Global      []string `json:"global,omitempty"`
	Local       []string `json:"local,omitempty"`
	Derived     []string `json:"derived,omitempty"`
}

// ListRulesResult contains the result of listing rules.
type ListRulesResult struct {
	Message   string        `json:"message"`
	Rules     []RuleSummary `json:"rules"`
	RuleCount int           `json:"ruleCount"`
}

// handleListRules handles the list_rules tool call.
func (s *Server) handleListRules(
	_ context.Context,
	_ *mcp.ServerSession,
	params *mcp.CallToolParamsFor[ListRulesParams],
) (*mcp.CallToolResultFor[ListRulesResult], error) {
	group := engine.Group(params.Arguments.Group)

	switch group {
	case "", engine.GroupGlobal, engine.GroupForms:
	default:
		return nil, fmt.Errorf("unknown rule group %q", group)
	}

	rs := s.processor.Rules()
	result := ListRulesResult{Rules: []RuleSummary{}}

	if group == "" || group == engine.GroupGlobal {
		result.Rules = appendRuleSummaries(result.Rules, engine.GroupGlobal, rs.Global)
	}

	if group == "" || group == engine.GroupForms {
		result.Rules = appendRuleSummaries(result.Rules, engine.GroupForms, rs.Forms)
	}

	result.RuleCount = len(result.Rules)
	result.Message = fmt.Sprintf("Found %d rules.", result.RuleCount)

	return &mcp.CallToolResultFor[ListRulesResult]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: result.Message,
			},
		},
		StructuredContent: result,
	}, nil
}

func appendRuleSummaries(dst []RuleSummary, group engine.Group, rules []*rule.Rule) []RuleSummary {
	for _, r := range rules {
		dst = append(dst, RuleSummary{
			ID:          r.ID,
			Group:       string(group),
			Description: r.Description,
			Global:      r.Global,
			Local:       r.Local,
			Derived:     r.Derived,
		})
	}

	return dst
}

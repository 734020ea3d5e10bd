package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"opmcpd/internal/domain"
)

// ToolSource exposes each roster agent as one catalog tool named
// `agent_<id>`, with the operation selected through an enum argument.
type ToolSource struct {
	roster *Roster
}

func NewToolSource(roster *Roster) *ToolSource {
	if roster == nil {
		roster = DefaultRoster()
	}
	return &ToolSource{roster: roster}
}

func (s *ToolSource) Name() string            { return "agents" }
func (s *ToolSource) Type() domain.ToolOrigin { return domain.OriginAgent }
func (s *ToolSource) Description() string     { return "agent-backed operations" }

func (s *ToolSource) Available(context.Context) bool { return true }

func (s *ToolSource) Discover(context.Context) ([]domain.ToolDefinition, error) {
	all := s.roster.All()
	tools := make([]domain.ToolDefinition, 0, len(all))
	for _, agent := range all {
		schema, err := json.Marshal(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": agent.Operations,
				},
				"args": map[string]any{
					"type":        "object",
					"description": "Operation arguments",
				},
			},
			"required": []string{"operation"},
		})
		if err != nil {
			return nil, fmt.Errorf("build schema for agent %s: %w", agent.ID, err)
		}
		tools = append(tools, domain.ToolDefinition{
			Name:        ToolName(agent.ID),
			Description: agent.Description,
			InputSchema: schema,
			Origin:      domain.OriginAgent,
			Category:    agent.Category,
			Tags:        []string{"agent", agent.ID},
		})
	}
	return tools, nil
}

// ToolName maps an agent id to its catalog tool name.
func ToolName(agentID string) string {
	return "agent_" + agentID
}

// AgentIDFromTool reverses ToolName.
func AgentIDFromTool(tool string) (string, bool) {
	const prefix = "agent_"
	if len(tool) <= len(prefix) || tool[:len(prefix)] != prefix {
		return "", false
	}
	return tool[len(prefix):], true
}

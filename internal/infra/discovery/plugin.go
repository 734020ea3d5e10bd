package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"opmcpd/internal/domain"
)

// PluginInfo describes one loaded state plugin.
type PluginInfo struct {
	Name        string
	Description string
	Category    string
	StateSchema json.RawMessage
}

// PluginHost abstracts the plugin runtime. Each plugin contributes
// exactly three tools: query, diff, and apply over its state document.
type PluginHost interface {
	Plugins(ctx context.Context) ([]PluginInfo, error)
	Reachable(ctx context.Context) bool
}

type PluginSource struct {
	host PluginHost
}

func NewPluginSource(host PluginHost) *PluginSource {
	return &PluginSource{host: host}
}

func (s *PluginSource) Name() string            { return "plugins" }
func (s *PluginSource) Type() domain.ToolOrigin { return domain.OriginPlugin }
func (s *PluginSource) Description() string     { return "state plugin query/diff/apply operations" }

func (s *PluginSource) Available(ctx context.Context) bool {
	return s.host != nil && s.host.Reachable(ctx)
}

func (s *PluginSource) Discover(ctx context.Context) ([]domain.ToolDefinition, error) {
	plugins, err := s.host.Plugins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	tools := make([]domain.ToolDefinition, 0, len(plugins)*3)
	for _, plugin := range plugins {
		tools = append(tools, pluginTools(plugin)...)
	}
	return tools, nil
}

func pluginTools(plugin PluginInfo) []domain.ToolDefinition {
	stateSchema := plugin.StateSchema
	if len(stateSchema) == 0 {
		stateSchema = json.RawMessage(`{"type":"object"}`)
	}
	querySchema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Optional pointer into the state document",
			},
		},
	})
	diffSchema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"desired": json.RawMessage(stateSchema),
		},
		"required": []string{"desired"},
	})

	category := plugin.Category
	if category == "" {
		category = "plugins"
	}
	tags := []string{plugin.Name}

	return []domain.ToolDefinition{
		{
			Name:        plugin.Name + "_query",
			Description: fmt.Sprintf("Read the current %s state", plugin.Name),
			InputSchema: querySchema,
			Origin:      domain.OriginPlugin,
			Category:    category,
			Tags:        tags,
		},
		{
			Name:        plugin.Name + "_diff",
			Description: fmt.Sprintf("Diff desired %s state against the current state", plugin.Name),
			InputSchema: diffSchema,
			Origin:      domain.OriginPlugin,
			Category:    category,
			Tags:        tags,
		},
		{
			Name:        plugin.Name + "_apply",
			Description: fmt.Sprintf("Apply a desired %s state", plugin.Name),
			InputSchema: diffSchema,
			Origin:      domain.OriginPlugin,
			Category:    category,
			Tags:        tags,
		},
	}
}

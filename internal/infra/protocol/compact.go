package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"opmcpd/internal/domain"
)

// Compact mode keeps the outer surface at four tools regardless of how
// large the aggregated catalog grows. Clients browse and call through
// these; only execute_tool consumes a turn.
const (
	metaListTools     = "list_tools"
	metaSearchTools   = "search_tools"
	metaGetToolSchema = "get_tool_schema"
	metaExecuteTool   = "execute_tool"
)

const (
	defaultListLimit   = 50
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

const compactInstructions = "The full tool catalog is not listed here. " +
	"Use list_tools to browse it, search_tools to find tools by keyword, " +
	"get_tool_schema to fetch a tool's input schema, and execute_tool to " +
	"invoke any catalog tool by name."

func metaTools() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        metaExecuteTool,
			Description: "Execute any tool from the aggregated catalog by name.",
			Origin:      domain.OriginBuiltin,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Tool name, including any server prefix"},
					"arguments": {"type": "object", "description": "Arguments forwarded to the tool"}
				},
				"required": ["name"]
			}`),
		},
		{
			Name:        metaGetToolSchema,
			Description: "Fetch the input schema for one catalog tool.",
			Origin:      domain.OriginBuiltin,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Tool name to look up"}
				},
				"required": ["name"]
			}`),
		},
		{
			Name:        metaListTools,
			Description: "Page through the aggregated tool catalog.",
			Origin:      domain.OriginBuiltin,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"offset": {"type": "integer", "minimum": 0, "default": 0},
					"limit": {"type": "integer", "minimum": 1, "default": 50},
					"category": {"type": "string", "description": "Only list tools in this category"}
				}
			}`),
		},
		{
			Name:        metaSearchTools,
			Description: "Search the catalog by keyword against names, descriptions, and tags.",
			Origin:      domain.OriginBuiltin,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50, "default": 20}
				},
				"required": ["query"]
			}`),
		},
	}
}

func metaToolsPage() domain.Page {
	snap := domain.Snapshot{Tools: metaTools()}
	return snap.Page(0, 0)
}

func (s *Server) callMetaTool(ctx context.Context, sess *Session, name string, args json.RawMessage) (any, error) {
	switch name {
	case metaListTools:
		return s.metaList(sess, args)
	case metaSearchTools:
		return s.metaSearch(sess, args)
	case metaGetToolSchema:
		return s.metaSchema(sess, args)
	case metaExecuteTool:
		return s.metaExecute(ctx, sess, args)
	default:
		return nil, fmt.Errorf("%s is not exposed in %s mode: %w", name, s.mode, domain.ErrToolNotFound)
	}
}

func (s *Server) metaList(sess *Session, args json.RawMessage) (any, error) {
	var params struct {
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
		Category string `json:"category"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	return jsonToolResult(sess.rc.List(params.Offset, params.Limit, params.Category))
}

func (s *Server) metaSearch(sess *Session, args json.RawMessage) (any, error) {
	var params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidParams)
	}
	if params.Limit <= 0 {
		params.Limit = defaultSearchLimit
	}
	if params.Limit > maxSearchLimit {
		params.Limit = maxSearchLimit
	}
	hits := sess.rc.Search(params.Query, params.Limit)
	return jsonToolResult(map[string]any{
		"tools": hits,
		"total": len(hits),
	})
}

func (s *Server) metaSchema(sess *Session, args json.RawMessage) (any, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidParams)
	}
	def, err := sess.rc.Schema(params.Name)
	if err != nil {
		return nil, err
	}
	return jsonToolResult(def)
}

func (s *Server) metaExecute(ctx context.Context, sess *Session, args json.RawMessage) (any, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidParams)
	}
	raw, err := sess.rc.Execute(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, err
	}
	return toolResult(raw), nil
}

func decodeArgs(args json.RawMessage, into any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidParams, err)
	}
	return nil
}

// jsonToolResult marshals a value and wraps it as text content.
func jsonToolResult(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(raw)}},
	}, nil
}

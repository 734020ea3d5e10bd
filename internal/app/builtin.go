package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/discovery"
)

const teardownTimeout = 10 * time.Second

func stdin() io.Reader  { return os.Stdin }
func stdout() io.Writer { return os.Stdout }

// builtinTools declares the engine's own introspection tools. Their
// handlers bind in registerBuiltinHandlers once the registry exists.
func (a *App) builtinTools() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        "engine_status",
			Description: "Report engine mode, catalog version, and per-server process state.",
			Category:    "diagnostics",
			Tags:        []string{"status", "health"},
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "engine_sources",
			Description: "List discovery sources with tool counts and availability.",
			Category:    "diagnostics",
			Tags:        []string{"catalog"},
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "suggest_tools",
			Description: "Rank catalog categories against request signals (domains, files, keywords, intent).",
			Category:    "diagnostics",
			Tags:        []string{"catalog", "relevance"},
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"domains": {"type": "array", "items": {"type": "string"}},
					"files": {"type": "array", "items": {"type": "string"}},
					"keywords": {"type": "array", "items": {"type": "string"}},
					"intent": {"type": "string"}
				}
			}`),
		},
	}
}

func (a *App) registerBuiltinHandlers() {
	defs := a.builtinTools()
	byName := make(map[string]domain.ToolDefinition, len(defs))
	for _, def := range defs {
		def.Origin = domain.OriginBuiltin
		byName[def.Name] = def
	}

	a.tools.RegisterHandler(domain.InvokerFunc{
		Def: byName["engine_status"],
		Fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			snapshot, err := a.discovery.Snapshot(ctx)
			if err != nil {
				return nil, fmt.Errorf("engine_status: %w", err)
			}
			return json.Marshal(map[string]any{
				"mode":            string(a.server.Mode()),
				"catalog_version": snapshot.Version,
				"catalog_tools":   len(snapshot.Tools),
				"servers":         a.manager.States(),
			})
		},
	})

	a.tools.RegisterHandler(domain.InvokerFunc{
		Def: byName["engine_sources"],
		Fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(map[string]any{
				"sources": a.discovery.Stats(ctx),
			})
		},
	})

	a.tools.RegisterHandler(domain.InvokerFunc{
		Def: byName["suggest_tools"],
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var signals discovery.Signals
			if len(args) > 0 {
				if err := json.Unmarshal(args, &signals); err != nil {
					return nil, fmt.Errorf("suggest_tools: %w: %s", domain.ErrInvalidParams, err)
				}
			}
			suggestions, err := a.discovery.Relevant(ctx, signals)
			if err != nil {
				return nil, fmt.Errorf("suggest_tools: %w", err)
			}
			return json.Marshal(map[string]any{
				"suggestions": suggestions,
			})
		},
	})
}

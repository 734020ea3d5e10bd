package domain

import (
	"context"
	"encoding/json"
)

// Invoker executes one tool call. Implementations wrap compiled-in
// handlers, agent operations, or live external process handles.
type Invoker interface {
	Definition() ToolDefinition
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// InvokerFunc adapts a plain function into an Invoker.
type InvokerFunc struct {
	Def ToolDefinition
	Fn  func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (f InvokerFunc) Definition() ToolDefinition { return f.Def }

func (f InvokerFunc) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f.Fn(ctx, args)
}

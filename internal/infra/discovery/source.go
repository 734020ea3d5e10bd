// Package discovery merges tool definitions from heterogeneous sources
// into immutable, versioned catalog snapshots.
package discovery

import (
	"context"

	"opmcpd/internal/domain"
)

// Source produces tool definitions for one origin. Discover must
// return complete definitions; the system never patches them up.
type Source interface {
	Name() string
	Type() domain.ToolOrigin
	Description() string
	Discover(ctx context.Context) ([]domain.ToolDefinition, error)
	Available(ctx context.Context) bool
}

// BuiltinSource serves a static set of compiled-in tools.
type BuiltinSource struct {
	name        string
	description string
	tools       []domain.ToolDefinition
}

func NewBuiltinSource(name, description string, tools []domain.ToolDefinition) *BuiltinSource {
	owned := make([]domain.ToolDefinition, len(tools))
	for i, tool := range tools {
		tool.Origin = domain.OriginBuiltin
		owned[i] = tool.Clone()
	}
	return &BuiltinSource{name: name, description: description, tools: owned}
}

func (s *BuiltinSource) Name() string             { return s.name }
func (s *BuiltinSource) Type() domain.ToolOrigin  { return domain.OriginBuiltin }
func (s *BuiltinSource) Description() string      { return s.description }
func (s *BuiltinSource) Available(context.Context) bool { return true }

func (s *BuiltinSource) Discover(context.Context) ([]domain.ToolDefinition, error) {
	out := make([]domain.ToolDefinition, len(s.tools))
	for i, tool := range s.tools {
		out[i] = tool.Clone()
	}
	return out, nil
}

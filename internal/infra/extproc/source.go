package extproc

import (
	"context"

	"opmcpd/internal/domain"
)

// CatalogSource adapts the manager into a discovery source so the
// aggregated catalog carries every ready server's namespaced tools.
type CatalogSource struct {
	manager *Manager
}

func NewCatalogSource(manager *Manager) *CatalogSource {
	return &CatalogSource{manager: manager}
}

func (s *CatalogSource) Name() string            { return "external" }
func (s *CatalogSource) Type() domain.ToolOrigin { return domain.OriginExternal }
func (s *CatalogSource) Description() string     { return "subprocess-hosted tool servers" }

func (s *CatalogSource) Available(context.Context) bool {
	return s.manager != nil
}

func (s *CatalogSource) Discover(context.Context) ([]domain.ToolDefinition, error) {
	return s.manager.Tools(), nil
}

package discovery

import (
	"context"
	"fmt"

	"opmcpd/internal/domain"
)

// MethodDescription is one callable method of a bus-exported service.
type MethodDescription struct {
	Name        string
	Description string
	InputSchema []byte
}

// ServiceDescription is one service exported on the system bus.
type ServiceDescription struct {
	Service     string
	Description string
	Category    string
	Methods     []MethodDescription
}

// ServiceCatalog abstracts the bus introspection layer. The engine
// consumes it as an opaque producer; parsing lives behind it.
type ServiceCatalog interface {
	Services(ctx context.Context) ([]ServiceDescription, error)
	Reachable(ctx context.Context) bool
}

// DbusSource exposes bus-exported service methods as tools named
// `<service>_<method>`.
type DbusSource struct {
	catalog ServiceCatalog
}

func NewDbusSource(catalog ServiceCatalog) *DbusSource {
	return &DbusSource{catalog: catalog}
}

func (s *DbusSource) Name() string            { return "dbus" }
func (s *DbusSource) Type() domain.ToolOrigin { return domain.OriginDbus }
func (s *DbusSource) Description() string     { return "system bus exported services" }

func (s *DbusSource) Available(ctx context.Context) bool {
	return s.catalog != nil && s.catalog.Reachable(ctx)
}

func (s *DbusSource) Discover(ctx context.Context) ([]domain.ToolDefinition, error) {
	services, err := s.catalog.Services(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bus services: %w", err)
	}
	var tools []domain.ToolDefinition
	for _, svc := range services {
		for _, method := range svc.Methods {
			tools = append(tools, domain.ToolDefinition{
				Name:        fmt.Sprintf("%s_%s", svc.Service, method.Name),
				Description: method.Description,
				InputSchema: method.InputSchema,
				Origin:      domain.OriginDbus,
				Category:    svc.Category,
				Tags:        []string{svc.Service},
			})
		}
	}
	return tools, nil
}

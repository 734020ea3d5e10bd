package telemetry

import (
	"time"

	"opmcpd/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveToolCall(_ domain.ToolOrigin, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveRoute(_ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveRestart(_ string, _ error) {}

func (n *NoopMetrics) SetActiveContexts(_ int) {}

func (n *NoopMetrics) SetCatalogSize(_ string, _ int) {}

var _ domain.Metrics = (*NoopMetrics)(nil)

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"opmcpd/internal/domain"
)

type PrometheusMetrics struct {
	toolCallDuration *prometheus.HistogramVec
	routeDuration    *prometheus.HistogramVec
	restarts         *prometheus.CounterVec
	activeContexts   prometheus.Gauge
	catalogSize      *prometheus.GaugeVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opmcpd_tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"origin", "status"},
		),
		routeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opmcpd_route_duration_seconds",
				Help:    "Duration of routed external server calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"server", "status"},
		),
		restarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opmcpd_process_restarts_total",
				Help: "Total number of external process restart attempts",
			},
			[]string{"server", "status"},
		),
		activeContexts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "opmcpd_active_contexts",
				Help: "Current number of live request contexts",
			},
		),
		catalogSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opmcpd_catalog_tools",
				Help: "Tool count per discovery source in the current snapshot",
			},
			[]string{"source"},
		),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (p *PrometheusMetrics) ObserveToolCall(origin domain.ToolOrigin, duration time.Duration, err error) {
	p.toolCallDuration.WithLabelValues(string(origin), statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRoute(server string, duration time.Duration, err error) {
	p.routeDuration.WithLabelValues(server, statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRestart(server string, err error) {
	p.restarts.WithLabelValues(server, statusLabel(err)).Inc()
}

func (p *PrometheusMetrics) SetActiveContexts(count int) {
	p.activeContexts.Set(float64(count))
}

func (p *PrometheusMetrics) SetCatalogSize(source string, count int) {
	p.catalogSize.WithLabelValues(source).Set(float64(count))
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)

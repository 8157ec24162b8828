package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects authentication metrics.
type Metrics interface {
	RecordVerification(outcome string)
	RecordScopeDecision(decision string)
	RecordKeySetRefresh(result string)
}

// PrometheusMetrics implements Metrics with Prometheus counters.
type PrometheusMetrics struct {
	registry      *prometheus.Registry
	verifications *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
}

// NewPrometheusMetrics registers the counters on a fresh registry, together
// with the Go runtime and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: reg,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heroes",
			Name:      "token_verifications_total",
			Help:      "Bearer token verifications by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heroes",
			Name:      "scope_decisions_total",
			Help:      "Authorization decisions by result.",
		}, []string{"decision"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heroes",
			Name:      "jwks_refresh_total",
			Help:      "Signing key set refreshes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.verifications,
		m.decisions,
		m.refreshes,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *PrometheusMetrics) RecordVerification(outcome string) {
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordScopeDecision(decision string) {
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *PrometheusMetrics) RecordKeySetRefresh(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordVerification(string)  {}
func (NopMetrics) RecordScopeDecision(string) {}
func (NopMetrics) RecordKeySetRefresh(string) {}

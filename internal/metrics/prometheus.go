package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dailybrief/internal/types"
	"dailybrief/internal/worker"
)

// Compile-time assertion that PrometheusMetrics implements worker.Metrics.
var _ worker.Metrics = (*PrometheusMetrics)(nil)

// PrometheusMetrics exposes delivery counters and a send latency histogram
// on a private registry, for self-hosted deployments scraping /metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheusMetrics builds and registers the collector set.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_attempts_total",
		Help:      "Digest delivery attempts by digest type and outcome.",
	}, []string{"digest_type", "outcome"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "send_latency_seconds",
		Help:      "Email provider round-trip time per send.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"digest_type"})

	registry.MustRegister(attempts, latency)

	return &PrometheusMetrics{
		registry: registry,
		attempts: attempts,
		latency:  latency,
	}
}

func (m *PrometheusMetrics) RecordDeliveryAttempt(_ context.Context, digestType types.DigestType, outcome string) {
	m.attempts.WithLabelValues(string(digestType), outcome).Inc()
}

func (m *PrometheusMetrics) ObserveSendLatency(_ context.Context, digestType types.DigestType, d time.Duration) {
	m.latency.WithLabelValues(string(digestType)).Observe(d.Seconds())
}

// Handler returns the scrape endpoint for this registry.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package musync

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// engine-owned metrics on their own registry (instead of the global one) so tests
// can run engines side by side without duplicate-registration panics
type engineMetrics struct {
	registry *prometheus.Registry

	itemOutcomes *prometheus.CounterVec
	drains       prometheus.Counter
	queueDepth   prometheus.Gauge
}

func newEngineMetrics() *engineMetrics {
	reg := prometheus.NewRegistry()

	m := &engineMetrics{
		registry: reg,
		itemOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muisto_queue_items_total",
			Help: "Drained queue items by outcome (incl. failures)",
		}, []string{"outcome"}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "muisto_drains_total",
			Help: "Drain passes started (single-flight, skipped ones not counted)",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "muisto_queue_depth",
			Help: "Non-terminal items in the sync queue after last drain",
		}),
	}

	reg.MustRegister(m.itemOutcomes)
	reg.MustRegister(m.drains)
	reg.MustRegister(m.queueDepth)

	return m
}

// exposed so the server can mount engine metrics and register its own HTTP
// counters in the same registry
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.metrics.registry
}

func (e *Engine) MetricsHTTPHandler() http.Handler {
	return promhttp.HandlerFor(e.metrics.registry, promhttp.HandlerOpts{})
}

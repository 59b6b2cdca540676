package muserver

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	httpRequests *prometheus.CounterVec
}

// server HTTP counters live in the engine's registry so /metrics exposes both
func newServerMetrics(registry *prometheus.Registry) *serverMetrics {
	m := &serverMetrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muisto_http_requests_total",
			Help: "HTTP server's handled requests",
		}, []string{"code", "method"}),
	}

	registry.MustRegister(m.httpRequests)

	return m
}

// instruments a HTTP handler
func (m *serverMetrics) WrapHTTPServer(actual http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := httpsnoop.CaptureMetrics(actual, w, r)

		m.httpRequests.With(prometheus.Labels{
			"code":   strconv.Itoa(stats.Code),
			"method": r.Method,
		}).Inc()
	})
}

package gateway

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the gateway's Prometheus collectors. Each server owns its
// registry so tests can run several servers side by side.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	streams  prometheus.Gauge
	messages *prometheus.CounterVec
	uploads  prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskline",
			Subsystem: "gateway",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deskline",
			Subsystem: "gateway",
			Name:      "streams_open",
			Help:      "Open realtime WebSocket streams.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskline",
			Subsystem: "gateway",
			Name:      "messages_total",
			Help:      "Messages stored, by sender and path.",
		}, []string{"sender", "path"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deskline",
			Subsystem: "gateway",
			Name:      "media_uploads_total",
			Help:      "Media files accepted for upload.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.streams, m.messages, m.uploads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// handler serves the registry in the Prometheus text format.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// metricsMiddleware counts requests by the route pattern the mux matched.
func metricsMiddleware(next http.Handler, m *metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
	})
}

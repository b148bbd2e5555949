package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the gateway's instrumentation surface, exposed on a separate
// listener so device trouble never takes the scrape endpoint down with it.
type Metrics struct {
	Requests     *prometheus.CounterVec
	DeviceErrors *prometheus.CounterVec
	ReadLatency  prometheus.Histogram

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ornament_requests_total",
			Help: "HTTP requests served, by attribute path and method",
		}, []string{"path", "method"}),
		DeviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ornament_device_errors_total",
			Help: "Failed device accesses, by attribute path and operation",
		}, []string{"path", "op"}),
		ReadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ornament_read_latency_seconds",
			Help:    "Wireless characteristic read latency",
			Buckets: prometheus.DefBuckets,
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Requests, m.DeviceErrors, m.ReadLatency)
	return m
}

// Handler serves the scrape endpoint for this gateway's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

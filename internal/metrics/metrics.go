// Package metrics exposes process-level Prometheus metrics for this
// service's own operability. It is unrelated to the Check Engine's
// querying of an external Prometheus for promql inspection items.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/histogram the server emits.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	RunsFinalized        *prometheus.CounterVec
	CheckEngineDuration  *prometheus.HistogramVec
	AgentLeaseReclaims   prometheus.Counter
}

// New registers and returns a Metrics bundle against the default registry.
func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inspector_http_requests_total",
			Help: "Total HTTP requests by method, path pattern and status code.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inspector_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		RunsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inspector_runs_finalized_total",
			Help: "Inspection runs finalized, by terminal status.",
		}, []string{"status"}),
		CheckEngineDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inspector_check_duration_seconds",
			Help:    "Check Engine evaluation latency in seconds, by check kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		AgentLeaseReclaims: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inspector_agent_lease_reclaims_total",
			Help: "Number of runs the stale-lease sweeper has reclaimed.",
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one completed HTTP request.
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for latency.
var defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	ConnectionErrors  *prometheus.CounterVec

	UpstreamDialDuration *prometheus.HistogramVec
	ResponsesTotal       *prometheus.CounterVec
	ResponseBytes        prometheus.Counter

	AdminRequestsTotal    *prometheus.CounterVec
	AdminRequestDuration  *prometheus.HistogramVec
	AdminRequestsInFlight prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forward_proxy_connections_total",
			Help: "Total accepted client connections.",
		}),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forward_proxy_connections_active",
			Help: "Number of client connections currently being handled.",
		}),

		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_proxy_connection_errors_total",
			Help: "Connections aborted, by the stage that failed.",
		}, []string{"stage"}),

		UpstreamDialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forward_proxy_upstream_dial_duration_seconds",
			Help:    "Upstream resolve and connect latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"result"}),

		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_proxy_responses_total",
			Help: "Relayed responses by access logging mode.",
		}, []string{"mode"}),

		ResponseBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forward_proxy_response_bytes_total",
			Help: "Bytes relayed from upstream servers to clients.",
		}),

		AdminRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_proxy_admin_requests_total",
			Help: "Total admin HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		AdminRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forward_proxy_admin_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		AdminRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forward_proxy_admin_requests_in_flight",
			Help: "Number of admin HTTP requests currently being processed.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsTotal,
		m.ConnectionsActive,
		m.ConnectionErrors,
		m.UpstreamDialDuration,
		m.ResponsesTotal,
		m.ResponseBytes,
		m.AdminRequestsTotal,
		m.AdminRequestDuration,
		m.AdminRequestsInFlight,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// adminPrefixes lists the fixed admin path label values (bounded cardinality).
var adminPrefixes = []string{"/healthz", "/proxy/status"}

// NormalizePath returns a bounded path label for Prometheus metrics. The
// configured scrape path is passed as metricsPath.
func NormalizePath(path, metricsPath string) string {
	for _, prefix := range adminPrefixes {
		if matchesPrefix(path, prefix) {
			return prefix
		}
	}
	if metricsPath != "" && matchesPrefix(path, metricsPath) {
		return metricsPath
	}
	return "other"
}

func matchesPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?")
}

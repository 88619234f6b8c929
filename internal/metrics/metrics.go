// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RewriteFailures *prometheus.CounterVec
	CookieDrops     *prometheus.CounterVec

	RelayConnections prometheus.Gauge
	RelayMessages    prometheus.Counter
	RelayEvictions   prometheus.Counter
	RelayRejections  prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_proxy_upstream_request_duration_seconds",
			Help:    "Origin call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_upstream_responses_total",
			Help: "Total origin responses by method and status code.",
		}, []string{"method", "status_code"}),

		RewriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_rewrite_failures_total",
			Help: "Content transforms that failed and returned the original body.",
		}, []string{"kind"}),

		CookieDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_proxy_cookie_drops_total",
			Help: "Set-Cookie records dropped by parsing or policy.",
		}, []string{"reason"}),

		RelayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_proxy_relay_connections",
			Help: "Open relay connections.",
		}),

		RelayMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirror_proxy_relay_messages_total",
			Help: "Inbound relay messages.",
		}),

		RelayEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirror_proxy_relay_evictions_total",
			Help: "Relay connections closed by the idle sweep.",
		}),

		RelayRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirror_proxy_relay_rejections_total",
			Help: "Relay upgrades rejected because the registry was full.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RewriteFailures,
		m.CookieDrops,
		m.RelayConnections,
		m.RelayMessages,
		m.RelayEvictions,
		m.RelayRejections,
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

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/health", "/api", "/proxy", "/ws-relay", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	if path == "/" {
		return "/"
	}
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}

// Package metrics provides Prometheus metrics for the API.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Lookup results recorded by DNSLookups.
const (
	LookupOK      = "ok"
	LookupBlocked = "blocked"
	LookupError   = "error"
	LookupCached  = "cached"
)

// Metrics holds all Prometheus metric collectors for the API.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Time to upstream response headers; the body is streamed afterwards.
	UpstreamDuration  prometheus.Histogram
	UpstreamResponses *prometheus.CounterVec

	DNSLookups        *prometheus.CounterVec
	FilteredAddresses prometheus.Counter
	RelayedBytes      prometheus.Counter
	DroppedHeaders    prometheus.Counter
	SearchResults     prometheus.Histogram
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eclipse_api_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eclipse_api_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eclipse_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eclipse_api_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eclipse_api_upstream_responses_total",
			Help: "Total upstream responses by status class.",
		}, []string{"status_class"}),

		DNSLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eclipse_api_dns_lookups_total",
			Help: "Restricted resolver lookups by result (ok, blocked, error, cached).",
		}, []string{"result"}),

		FilteredAddresses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eclipse_api_dns_filtered_addresses_total",
			Help: "Resolved addresses discarded because they are not globally routable.",
		}),

		RelayedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eclipse_api_relayed_bytes_total",
			Help: "Response body bytes relayed from upstream to clients.",
		}),

		DroppedHeaders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eclipse_api_relay_dropped_headers_total",
			Help: "Upstream headers not forwarded because they are hop-by-hop or invalid.",
		}),

		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eclipse_api_boxart_results",
			Help:    "Number of games returned per box-art search.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.DNSLookups,
		m.FilteredAddresses,
		m.RelayedBytes,
		m.DroppedHeaders,
		m.SearchResults,
	)

	return m
}

// StatusClass collapses an HTTP status code into a bounded label like "2xx".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
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
var knownPrefixes = []string{"/download", "/boxart", "/healthz", "/metrics"}

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

// Package metrics holds the prometheus collectors shared by the auth, realtime
// and HTTP layers. Collectors are package-level so any layer can record
// without plumbing; RegisterMetrics exposes them on a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcome labels for AuthOperations.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthOperations counts session operations by op and outcome kind.
var AuthOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "instant_auth_operations_total",
		Help: "Total number of auth operations by operation and outcome",
	},
	[]string{"op", "outcome"},
)

// RefreshReuseDetected counts refresh tokens presented after they left the live set.
var RefreshReuseDetected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "instant_auth_refresh_reuse_detected_total",
		Help: "Total number of refresh-token reuse detections (token family revoked)",
	},
)

// TokenSetConflicts counts compare-and-swap retries on a user's refresh-token set.
var TokenSetConflicts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "instant_auth_token_set_conflicts_total",
		Help: "Total number of stale refresh-token set swaps that were retried",
	},
)

// WSConnections is the number of admitted websocket connections.
var WSConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "instant_ws_connections",
		Help: "Current number of admitted websocket connections",
	},
)

// WSHandshakeRejects counts refused websocket handshakes by reason.
var WSHandshakeRejects = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "instant_ws_handshake_rejects_total",
		Help: "Total number of rejected websocket handshakes by reason",
	},
	[]string{"reason"},
)

// WSEvents counts inbound realtime events by type.
var WSEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "instant_ws_events_total",
		Help: "Total number of inbound websocket events by type",
	},
	[]string{"type"},
)

// WSDropped counts outbound envelopes dropped because a send queue was full.
var WSDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "instant_ws_dropped_total",
		Help: "Total number of outbound envelopes dropped under backpressure",
	},
)

// HTTPRequests counts served HTTP requests by method and status class.
var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "instant_http_requests_total",
		Help: "Total number of HTTP requests by method and status class",
	},
	[]string{"method", "class"},
)

// HTTPDuration observes HTTP request latency.
var HTTPDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "instant_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "class"},
)

// RegisterMetrics registers every collector of this package with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		AuthOperations,
		RefreshReuseDetected,
		TokenSetConflicts,
		WSConnections,
		WSHandshakeRejects,
		WSEvents,
		WSDropped,
		HTTPRequests,
		HTTPDuration,
	)
}

// NewRegistry returns a registry with runtime collectors and this package's metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	RegisterMetrics(reg)
	return reg
}

// RecordAuth increments AuthOperations.
func RecordAuth(op, outcome string) {
	AuthOperations.WithLabelValues(op, outcome).Inc()
}

// RecordHTTP records one served request.
func RecordHTTP(method, class string, d time.Duration) {
	HTTPRequests.WithLabelValues(method, class).Inc()
	HTTPDuration.WithLabelValues(method, class).Observe(d.Seconds())
}

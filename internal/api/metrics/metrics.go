// Package metrics defines the Prometheus collectors for the request pipeline.
// Collectors register with the default registry on package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pulse"

// ── HTTP ─────────────────────────────────────────────────────────────────────

// HTTPRequestsTotal counts completed requests.
// Labels:
//   - method: HTTP method
//   - route: matched route template, or "unmatched"
//   - status: response status code
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests handled.",
	},
	[]string{"method", "route", "status"},
)

// HTTPRequestDuration measures handler latency including middleware.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

// ── Auth ─────────────────────────────────────────────────────────────────────

// AuthAttemptsTotal counts authentication outcomes.
// Label:
//   - result: "success", "demo", or the error code (e.g. "INVALID_TOKEN")
var AuthAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_attempts_total",
		Help:      "Total number of authentication attempts, by result.",
	},
	[]string{"result"},
)

// ── Rate limiting ────────────────────────────────────────────────────────────

// RateLimitRejectionsTotal counts 429 responses.
// Label:
//   - rule: rejecting rule name, or "ip_block"
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_rejections_total",
		Help:      "Total number of requests rejected by the rate limiter.",
	},
	[]string{"rule"},
)

// RateLimitIPBlocksTotal counts IPs placed on the temporary blocklist.
var RateLimitIPBlocksTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_ip_blocks_total",
		Help:      "Total number of client IPs temporarily blocked.",
	},
)

// ── Errors and guards ────────────────────────────────────────────────────────

// ErrorsTotal counts translated error responses.
var ErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of error envelopes rendered, by status and code.",
	},
	[]string{"status", "code"},
)

// SuspiciousRequestsTotal counts requests whose URL matched an injection signature.
var SuspiciousRequestsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "suspicious_requests_total",
		Help:      "Total number of requests matching a suspicious URL pattern (logged, not blocked).",
	},
)

// PayloadRejectedTotal counts 413 responses issued before the body was read.
var PayloadRejectedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payload_rejected_total",
		Help:      "Total number of requests rejected for an oversized declared body.",
	},
)

// ── WebSocket ────────────────────────────────────────────────────────────────

// WebSocketConnections tracks open live-channel connections.
var WebSocketConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Current number of open WebSocket connections.",
	},
)

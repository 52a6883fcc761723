// Package metrics defines the Prometheus collectors the dispatcher and HTTP
// surface update, exposed at GET /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Requests counts every inbound proxied request by route category and
// final outcome ("ok", "client_error", "provider_rejected",
// "all_providers_failed").
var Requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccrouter_requests_total",
	Help: "Total proxied requests by route category and outcome.",
}, []string{"category", "outcome"})

// ProviderAttempts counts every per-provider attempt the dispatcher makes
// while walking a model mapping's fallback list, by provider name and
// result ("success", "transient", "rejected", "not_available").
var ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccrouter_provider_attempts_total",
	Help: "Total provider attempts by provider and result.",
}, []string{"provider", "result"})

// UpstreamLatency observes wall-clock seconds spent waiting on an upstream
// provider call, by provider name — covers both the full non-streaming
// round trip and, for streaming calls, the time until the stream has been
// fully forwarded (or the call failed to start).
var UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ccrouter_upstream_latency_seconds",
	Help:    "Upstream provider call latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"provider"})

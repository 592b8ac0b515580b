// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(
		Validations,
		StoredBytes,
		StoragePutDuration,
		RPCRequests,
		RateLimited,
		RateLimitPeers,
	)
}

// Validations counts validation requests by terminal outcome.
var Validations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sumgate",
	Subsystem: "validator",
	Name:      "requests_total",
	Help:      "Validation requests by outcome",
}, []string{"outcome"})

// StoredBytes counts payload bytes successfully written to storage.
var StoredBytes = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "sumgate",
	Subsystem: "storage",
	Name:      "stored_bytes_total",
	Help:      "Payload bytes written to object storage",
})

// StoragePutDuration observes storage put latency by result.
var StoragePutDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "sumgate",
	Subsystem: "storage",
	Name:      "put_duration_seconds",
	Help:      "Latency of object storage writes",
	Buckets:   prometheus.DefBuckets,
}, []string{"result"})

// RPCRequests counts handled RPCs by method and status code.
var RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sumgate",
	Subsystem: "grpc",
	Name:      "requests_total",
	Help:      "RPCs by method and status code",
}, []string{"method", "code"})

// RateLimited counts requests rejected by a rate limiter.
var RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sumgate",
	Subsystem: "ratelimit",
	Name:      "rejected_total",
	Help:      "Requests rejected by rate limiting",
}, []string{"scope"})

// RateLimitPeers reports the per-peer bucket cache: tracked peers and the
// running totals of evicted and expired ones.
var RateLimitPeers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "sumgate",
	Subsystem: "ratelimit",
	Name:      "peer_buckets",
	Help:      "Per-peer rate limit buckets by state",
}, []string{"state"})

// Package metrics exposes Prometheus instrumentation for the portal client.
// Counters only observe; no component behavior depends on them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PortalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_client_requests_total",
		Help: "Portal API calls by action and outcome.",
	}, []string{"action", "outcome"})

	PortalRetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_client_retries_exhausted_total",
		Help: "Calls that failed after the full retry budget.",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_client_cache_hits_total",
		Help: "Cache reads served from memory, by kind and freshness.",
	}, []string{"kind", "freshness"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_client_cache_misses_total",
		Help: "Cache reads that found no entry, by kind.",
	}, []string{"kind"})

	CacheRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_client_cache_refreshes_total",
		Help: "Background stale-entry refreshes scheduled, by kind.",
	}, []string{"kind"})

	PortalRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_client_request_duration_seconds",
		Help:    "Portal API call latency by action, including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	Resolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_client_resolves_total",
		Help: "Stream link resolutions by outcome.",
	}, []string{"outcome"})
)

// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

// Package metrics registers the Prometheus instrumentation for the sync
// engine: feed request latency, per-run generation and media counters,
// rate limiter pacing and circuit breaker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed client metrics
	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genmirror_feed_request_duration_seconds",
			Help:    "Duration of remote feed requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	FeedRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genmirror_feed_request_errors_total",
			Help: "Total number of normalized remote feed errors",
		},
		[]string{"endpoint", "code"},
	)

	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genmirror_feed_pages_fetched_total",
			Help: "Total number of feed pages fetched",
		},
	)

	RateLimiterWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genmirror_rate_limiter_wait_seconds",
			Help:    "Time spent pacing against the per-class rate limiters",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"class"}, // "page" or "asset"
	)

	// Archive metrics
	GenerationsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genmirror_generations_saved_total",
			Help: "Total number of generation snapshots persisted",
		},
	)

	MediaFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genmirror_media_fetched_total",
			Help: "Total number of media assets fetched from the remote source",
		},
	)

	MediaCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genmirror_media_copied_total",
			Help: "Total number of media files replicated by local copy",
		},
	)

	MediaPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genmirror_media_pruned_total",
			Help: "Total number of stale tag-directory copies removed",
		},
	)

	MediaUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genmirror_media_unavailable_total",
			Help: "Total number of assets skipped because the remote no longer serves them",
		},
	)

	// Sync engine metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genmirror_sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"}, // "done", "failed", "cancelled", "unauthorized"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genmirror_sync_duration_seconds",
			Help:    "Duration of complete sync runs in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
	)

	SyncRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genmirror_sync_retries_total",
			Help: "Total number of page fetch retries after server errors",
		},
	)

	SyncPageSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genmirror_sync_page_size",
			Help:    "Number of generations per fetched feed page",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genmirror_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genmirror_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genmirror_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)

// ObserveFeedRequest records the latency and error outcome of one remote
// request against the named endpoint.
func ObserveFeedRequest(endpoint string, start time.Time, errCode string) {
	FeedRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if errCode != "" {
		FeedRequestErrors.WithLabelValues(endpoint, errCode).Inc()
	}
}

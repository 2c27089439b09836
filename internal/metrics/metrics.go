// Package metrics exposes Prometheus collectors for the ingest pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_records_fetched_total",
			Help: "Total number of raw records fetched, labeled by source.",
		},
		[]string{"source"},
	)

	pagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_pages_fetched_total",
			Help: "Total number of pages fetched successfully, labeled by source.",
		},
		[]string{"source"},
	)

	fetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_fetch_errors_total",
			Help: "Total number of failed page fetches, labeled by source and error kind.",
		},
		[]string{"source", "kind"},
	)

	pollersStoppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_pollers_stopped_total",
			Help: "Total number of source poll loops that terminated on error.",
		},
		[]string{"source"},
	)

	sourceCursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostinv_source_cursor_skip",
			Help: "Current pagination offset per source.",
		},
		[]string{"source"},
	)

	recordsNormalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_records_normalized_total",
			Help: "Total number of raw records mapped to host records, labeled by source.",
		},
		[]string{"source"},
	)

	recordsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_records_dropped_total",
			Help: "Total number of records dropped before storage, labeled by reason.",
		},
		[]string{"reason"},
	)

	hostsUpsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_hosts_upserted_total",
			Help: "Total number of upserts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	queueOverflowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostinv_queue_overflow_total",
			Help: "Total number of items evicted or rejected by a full queue.",
		},
		[]string{"queue", "policy"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostinv_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records a successful page fetch and the new cursor position.
func ObservePage(source string, records int, skip int) {
	pagesFetchedTotal.WithLabelValues(source).Inc()
	if records > 0 {
		recordsFetchedTotal.WithLabelValues(source).Add(float64(records))
	}
	sourceCursor.WithLabelValues(source).Set(float64(skip))
}

// ObserveFetchError records a failed page fetch.
func ObserveFetchError(source, kind string) {
	fetchErrorsTotal.WithLabelValues(source, kind).Inc()
}

// ObservePollerStopped records a poll loop that will not run again.
func ObservePollerStopped(source string) {
	pollersStoppedTotal.WithLabelValues(source).Inc()
}

// ObserveNormalized records a raw record mapped by a source mapper.
func ObserveNormalized(source string) {
	recordsNormalizedTotal.WithLabelValues(source).Inc()
}

// ObserveDropped records a record discarded before it reached the store.
func ObserveDropped(reason string) {
	recordsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveUpsert records the outcome of a store write.
func ObserveUpsert(outcome string) {
	hostsUpsertedTotal.WithLabelValues(outcome).Inc()
}

// ObserveQueueOverflow records an item lost to a full queue.
func ObserveQueueOverflow(queue, policy string) {
	queueOverflowTotal.WithLabelValues(queue, policy).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

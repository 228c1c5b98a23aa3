// Package metrics defines the Prometheus collectors for ingestion,
// classification, profiling and recommendation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	EventsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_fetched_total",
			Help: "Total number of events fetched from relays by the ingestion loop",
		},
	)

	EventsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_indexed_total",
			Help: "Total number of events written to a topic collection",
		},
		[]string{"label"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_dropped_total",
			Help: "Total number of events dropped before or during indexing",
		},
		[]string{"reason"}, // "unindexable", "not_top_level", "others", "classify_error", "index_error"
	)

	IterationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_iteration_duration_seconds",
			Help:    "Duration of one ingestion loop iteration",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Classification
	ClassificationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classification_cache_hits_total",
			Help: "Total number of classification cache hits",
		},
	)

	ClassificationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classification_cache_misses_total",
			Help: "Total number of classification cache misses",
		},
	)

	ClassifierRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_requests_total",
			Help: "Total number of classifier requests by status",
		},
		[]string{"status"}, // "ok", "error", "rejected"
	)

	// Profiles
	Profiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profiles_total",
			Help: "Total number of profile builds by outcome",
		},
		[]string{"outcome"}, // "written", "skipped", "error"
	)

	// Relays
	RelayQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_query_errors_total",
			Help: "Total number of failed relay queries",
		},
		[]string{"relay"},
	)

	// Recommendation
	RecommendSubqueryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_subquery_failures_total",
			Help: "Total number of recommendation sub-queries that failed or timed out",
		},
		[]string{"label"},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Package metrics provides Prometheus metrics for the price sync pipeline.
// Scrape these at /metrics when running `pricesync serve`.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricesync_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Import Metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_records_total",
			Help: "Source records processed by outcome",
		},
		[]string{"outcome"}, // "updated", "capped", "zeroed", "not_found", "ambiguous", "skipped", "malformed", "error"
	)

	ImportRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_import_runs_total",
			Help: "Import runs by terminal state",
		},
		[]string{"kind", "state"}, // state: "closed" or "fatal"
	)

	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricesync_import_duration_seconds",
			Help:    "Wall time of an import run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"kind"},
	)

	// Pricing API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_api_requests_total",
			Help: "Pricing API requests by source and result",
		},
		[]string{"source", "result"}, // result: "ok", "not_found", "error"
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricesync_api_latency_seconds",
			Help:    "Pricing API call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)

	// Sanitizer Metrics
	SanitizerActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_sanitizer_actions_total",
			Help: "Sanitizer decisions that changed a price",
		},
		[]string{"action"}, // "capped", "zeroed"
	)

	// Matcher Metrics
	MatcherResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_matcher_resolutions_total",
			Help: "Card resolutions by confidence tier",
		},
		[]string{"confidence"}, // "exact_id", "exact_name_and_set", "exact_name", "extracted_number", "not_found", "ambiguous"
	)

	MatcherCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricesync_matcher_cache_hits_total",
			Help: "Matcher cache hit count",
		},
	)

	MatcherCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricesync_matcher_cache_misses_total",
			Help: "Matcher cache miss count",
		},
	)

	// Card Database Metrics
	CardDatabaseSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricesync_card_database_size",
			Help: "Number of cards in the catalog",
		},
	)

	PriceHistoryRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricesync_price_history_rows",
			Help: "Number of rows in price_history",
		},
	)
)

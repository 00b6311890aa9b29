// Package metrics provides Prometheus metrics for the price oracle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchesTotal counts adapter fetches by outcome (ok, timeout, unreachable, malformed, stale).
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_fetches_total",
			Help: "Total number of exchange adapter fetches",
		},
		[]string{"exchange", "outcome"},
	)

	// FetchDuration is a histogram of adapter fetch latency.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_fetch_duration_seconds",
			Help:    "Duration of exchange adapter fetches",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"exchange"},
	)

	// ExchangeHealth is a gauge of adapter health (1=last fetch ok, 0=failed).
	ExchangeHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_health",
			Help: "Health status of exchange adapters (1=healthy, 0=unhealthy)",
		},
		[]string{"exchange", "protocol"},
	)

	// ValidationRejectionsTotal counts observations dropped by the validator.
	ValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_rejections_total",
			Help: "Total number of observations rejected by the price validator",
		},
		[]string{"pair", "reason"},
	)

	// CandidatesTotal counts candidates produced by collection episodes.
	CandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_candidates_total",
			Help: "Total number of candidate submissions produced",
		},
		[]string{"pair", "exchange"},
	)

	// EpisodesTotal counts collection episodes by outcome (completed, skipped, deadline).
	EpisodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_episodes_total",
			Help: "Total number of collection episodes",
		},
		[]string{"outcome"},
	)

	// EpisodeDuration is a histogram of collection episode durations.
	EpisodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_episode_duration_seconds",
			Help:    "Duration of collection episodes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AdmissionsTotal counts admission decisions by phase and outcome.
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admissions_total",
			Help: "Total number of admission decisions",
		},
		[]string{"phase", "outcome"},
	)

	// PoolSize is the number of pending unsigned submissions.
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "submission_pool_size",
			Help: "Number of pending unsigned price submissions",
		},
	)

	// StoreCommitsTotal counts price store commits.
	StoreCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_commits_total",
			Help: "Total number of price store commits",
		},
		[]string{"backend", "status"},
	)

	// PriceValue is the latest admitted price per pair and exchange.
	PriceValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "price_value",
			Help: "Latest admitted price",
		},
		[]string{"pair", "exchange"},
	)

	// PriceAggregationDuration is a histogram of read-side aggregation duration.
	PriceAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// OutlierRejectionsTotal is a counter of prices excluded from aggregates.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier prices rejected",
		},
		[]string{"pair"},
	)

	// EventStreamFailoversTotal is a counter of height stream endpoint failovers.
	EventStreamFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventstream_failovers_total",
			Help: "Total number of event stream endpoint failovers",
		},
	)

	// LatestHeight is the last block height seen by the event stream.
	LatestHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstream_latest_height",
			Help: "Last block height received",
		},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		FetchesTotal,
		FetchDuration,
		ExchangeHealth,
		ValidationRejectionsTotal,
		CandidatesTotal,
		EpisodesTotal,
		EpisodeDuration,
		AdmissionsTotal,
		PoolSize,
		StoreCommitsTotal,
		PriceValue,
		PriceAggregationDuration,
		OutlierRejectionsTotal,
		EventStreamFailoversTotal,
		LatestHeight,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address and path.
func ServeHTTP(addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordFetch records one adapter fetch.
func RecordFetch(exchange, protocol, outcome string, duration time.Duration) {
	FetchesTotal.WithLabelValues(exchange, outcome).Inc()
	FetchDuration.WithLabelValues(exchange).Observe(duration.Seconds())
	val := 0.0
	if outcome == "ok" {
		val = 1.0
	}
	ExchangeHealth.WithLabelValues(exchange, protocol).Set(val)
}

// RecordValidationRejection records an observation dropped by the validator.
func RecordValidationRejection(pair, reason string) {
	ValidationRejectionsTotal.WithLabelValues(pair, reason).Inc()
}

// RecordCandidate records a candidate produced by the collector.
func RecordCandidate(pair, exchange string) {
	CandidatesTotal.WithLabelValues(pair, exchange).Inc()
}

// RecordEpisode records a completed or skipped collection episode.
func RecordEpisode(outcome string, duration time.Duration) {
	EpisodesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		EpisodeDuration.Observe(duration.Seconds())
	}
}

// RecordAdmission records an admission decision. phase is "validate" or "apply".
func RecordAdmission(phase, outcome string) {
	AdmissionsTotal.WithLabelValues(phase, outcome).Inc()
}

// RecordPoolSize records the pending pool size.
func RecordPoolSize(n int) {
	PoolSize.Set(float64(n))
}

// RecordStoreCommit records a price store commit.
func RecordStoreCommit(backend, status string) {
	StoreCommitsTotal.WithLabelValues(backend, status).Inc()
}

// RecordPrice records the latest admitted price.
func RecordPrice(pair, exchange string, price float64) {
	PriceValue.WithLabelValues(pair, exchange).Set(price)
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(method string, duration time.Duration) {
	PriceAggregationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordOutlierRejection records an outlier rejection.
func RecordOutlierRejection(pair string) {
	OutlierRejectionsTotal.WithLabelValues(pair).Inc()
}

// RecordFailover records an event stream failover.
func RecordFailover() {
	EventStreamFailoversTotal.Inc()
}

// RecordHeight records the latest block height.
func RecordHeight(height uint64) {
	LatestHeight.Set(float64(height))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the evaluation runtime:
// - Session lifecycle and action execution
// - Tile fetching and panorama stitching
// - Cache efficiency (metadata, panorama images)
// - Perspective rendering
// - Preload progress

var (
	// Session Metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of running evaluation sessions",
		},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_total",
			Help: "Total number of sessions by terminal status",
		},
		[]string{"status"}, // "completed", "timeout", "stopped", "error"
	)

	SessionSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_steps",
			Help:    "Number of steps taken per finished session",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500},
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_duration_seconds",
			Help:    "Wall-clock duration of finished sessions",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// Action Metrics
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_total",
			Help: "Total number of executed actions",
		},
		[]string{"type", "result"}, // type: "move", "rotation", "stop"; result: "ok", "error"
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "action_duration_seconds",
			Help:    "End-to-end action execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	// Tile Fetch Metrics
	TileFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_fetches_total",
			Help: "Total number of tile fetch attempts",
		},
		[]string{"result"}, // "ok", "retry", "error"
	)

	TileFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tile_fetch_duration_seconds",
			Help:    "Duration of individual tile fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TileSessionRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_session_refreshes_total",
			Help: "Total number of provider tile-session token refreshes",
		},
	)

	// Panorama Build Metrics
	PanoramaBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panorama_builds_total",
			Help: "Total number of panorama build attempts",
		},
		[]string{"result"}, // "ok", "error"
	)

	PanoramaStitchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panorama_stitch_duration_seconds",
			Help:    "Duration of tile stitching per panorama in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	PanoramaBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panorama_build_duration_seconds",
			Help:    "Total fetch+stitch+persist duration per panorama in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "metadata", "location", "panorama"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Render Metrics
	RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "render_duration_seconds",
			Help:    "Perspective render duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	RenderErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "render_errors_total",
			Help: "Total number of failed perspective renders",
		},
	)

	// Link Fetcher Metrics
	LinkFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_fetches_total",
			Help: "Total number of neighbor-link lookups",
		},
		[]string{"result"}, // "ok", "error"
	)

	LinkWorkerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "link_worker_restarts_total",
			Help: "Total number of link-fetcher worker restarts",
		},
	)

	// Preload Metrics
	PreloadActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "preload_active_jobs",
			Help: "Current number of preload jobs in progress",
		},
	)

	PreloadPanoramasDone = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "preload_panoramas_done_total",
			Help: "Total number of panoramas processed by preload jobs",
		},
	)

	PreloadErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "preload_errors_total",
			Help: "Total number of panorama failures during preload",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)
)

// RecordAction records metrics for an executed action.
func RecordAction(actionType string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ActionsTotal.WithLabelValues(actionType, result).Inc()
	ActionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordSessionEnd records metrics for a session reaching a terminal status.
func RecordSessionEnd(status string, steps int, elapsed time.Duration) {
	SessionsActive.Dec()
	SessionsTotal.WithLabelValues(status).Inc()
	SessionSteps.Observe(float64(steps))
	SessionDuration.Observe(elapsed.Seconds())
}

// RecordTileFetch records the outcome of a single tile fetch attempt.
func RecordTileFetch(duration time.Duration, err error) {
	if err != nil {
		TileFetchesTotal.WithLabelValues("error").Inc()
		return
	}
	TileFetchesTotal.WithLabelValues("ok").Inc()
	TileFetchDuration.Observe(duration.Seconds())
}

// RecordPanoramaBuild records a full panorama build (fetch+stitch+persist).
func RecordPanoramaBuild(duration time.Duration, err error) {
	if err != nil {
		PanoramaBuildsTotal.WithLabelValues("error").Inc()
		return
	}
	PanoramaBuildsTotal.WithLabelValues("ok").Inc()
	PanoramaBuildDuration.Observe(duration.Seconds())
}

// RecordCacheAccess records a hit or miss on the named cache tier.
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cacheType).Inc()
	} else {
		CacheMisses.WithLabelValues(cacheType).Inc()
	}
}

// RecordRender records a perspective render.
func RecordRender(duration time.Duration, err error) {
	if err != nil {
		RenderErrors.Inc()
		return
	}
	RenderDuration.Observe(duration.Seconds())
}

// RecordLinkFetch records a neighbor-link lookup outcome.
func RecordLinkFetch(err error) {
	if err != nil {
		LinkFetchesTotal.WithLabelValues("error").Inc()
		return
	}
	LinkFetchesTotal.WithLabelValues("ok").Inc()
}

// RecordAPIRequest records an API request with its final status code.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the active request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// Package observability exposes the application's Prometheus metrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream vector tile fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile cache lookups by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_renders_total",
			Help: "Renderer invocations by outcome.",
		},
		[]string{"outcome"},
	)

	renderDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tile_render_duration_seconds",
			Help:    "Duration of renderer invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	inflightOps = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tile_inflight_operations",
			Help: "Coalesced operations currently in flight.",
		},
		[]string{"kind"},
	)

	sweepDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_sweep_deletions_total",
			Help: "Files deleted by the cleanup sweeper.",
		},
		[]string{"kind"},
	)

	sweepPassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_sweep_passes_total",
			Help: "Completed cleanup sweep passes.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstream(outcome string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func IncCacheHit(kind string)      { cacheResults.WithLabelValues(kind, "hit").Inc() }
func IncCacheMiss(kind string)     { cacheResults.WithLabelValues(kind, "miss").Inc() }
func IncCacheSentinel(kind string) { cacheResults.WithLabelValues(kind, "sentinel").Inc() }

func ObserveRender(outcome string, durationSeconds float64) {
	rendersTotal.WithLabelValues(outcome).Inc()
	renderDurationSeconds.Observe(durationSeconds)
}

func SetInflight(kind string, n int) { inflightOps.WithLabelValues(kind).Set(float64(n)) }

func AddSweepDeletions(kind string, n int) {
	sweepDeletionsTotal.WithLabelValues(kind).Add(float64(n))
}

func IncSweepPass() { sweepPassesTotal.Inc() }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

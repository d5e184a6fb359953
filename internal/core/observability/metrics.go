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

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valuecount_cache_results_total",
			Help: "Value-count cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "valuecount_cache_op_seconds",
			Help:    "Duration of cache backend operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "ok"},
	)

	aggregationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregation_compute_seconds",
			Help:    "Duration of zonal aggregation computations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	rasterSourceSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raster_source_fetch_seconds",
			Help:    "Latency of raster value-count fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"ok"},
	)

	invalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valuecount_invalidations_total",
			Help: "Cache invalidation events by kind.",
		},
		[]string{"kind"},
	)

	invalidatedResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "valuecount_invalidated_results_total",
			Help: "Number of cached results deleted by invalidation.",
		},
	)

	ingestFeaturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_features_total",
			Help: "Ingested features by outcome.",
		},
		[]string{"outcome"},
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

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpSeconds.WithLabelValues(op, strconv.FormatBool(err == nil)).Observe(durationSeconds)
}

func ObserveAggregation(durationSeconds float64) {
	aggregationSeconds.Observe(durationSeconds)
}

func ObserveRasterFetch(err error, durationSeconds float64) {
	rasterSourceSeconds.WithLabelValues(strconv.FormatBool(err == nil)).Observe(durationSeconds)
}

func ObserveInvalidation(kind string, deleted int) {
	invalidationsTotal.WithLabelValues(kind).Inc()
	invalidatedResultsTotal.Add(float64(deleted))
}

func IncIngestFeature(outcome string) {
	ingestFeaturesTotal.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// One Call API request rate per endpoint tier. Watch for: error vs success ratio,
	// legacy share creeping up (primary endpoint degrading).
	ForecastAPICallsTotal *prometheus.CounterVec

	// Forecast API latency per request. Watch for: p95 > 2s (upstream degradation).
	ForecastAPIDuration *prometheus.HistogramVec

	// Primary-to-legacy endpoint fallbacks that ended in success.
	ForecastFallbacksTotal prometheus.Counter

	// Resolve/fetch pipeline failures by stable category.
	ForecastFailuresTotal *prometheus.CounterVec

	// Geocoding API calls by direction (direct/reverse) and status.
	GeocodeCallsTotal *prometheus.CounterVec

	// Geocoding API latency by direction.
	GeocodeDuration *prometheus.HistogramVec

	// Place-resolution memo hits (no geocoding call issued).
	PlaceCacheHitsTotal prometheus.Counter

	// Forecast cache hits. Hit rate = hits/(hits+forecastApiCallsTotal).
	CacheHitsTotal *prometheus.CounterVec

	// Cache backend errors by operation (get/set). Nonzero only with memcached.
	CacheErrorsTotal *prometheus.CounterVec

	// Concurrent misses on one key detected (stampede), and how concurrent they got.
	CacheStampedeDetectedTotal prometheus.Counter
	CacheStampedeConcurrency   prometheus.Histogram

	// Time spent waiting on a coalesced upstream fetch.
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Cache warming runs, failures, and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Total forecast lookups. Watch for: traffic volume, rate() for QPS.
	ForecastQueriesTotal prometheus.Counter

	// Per-place query count (allow-list; others go to "other").
	ForecastQueriesByPlaceTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 half-open, 2 open).
	circuitBreakerState *prometheus.GaugeVec

	// In-flight requests remaining when shutdown drain began.
	shutdownInFlight prometheus.Gauge

	// trackedPlaces is built from config; used to resolve the place label for metrics.
	trackedPlacesMu sync.RWMutex
	trackedPlaces   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiCallsTotal",
			Help: "Total One Call API requests by endpoint tier (primary/legacy) and status",
		},
		[]string{"endpoint", "status"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "One Call API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)
	ForecastFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastFallbacksTotal",
			Help: "Forecast fetches served by the legacy endpoint after a primary failure",
		},
	)
	ForecastFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastFailuresTotal",
			Help: "Resolve/fetch pipeline failures by category",
		},
		[]string{"category"},
	)
	GeocodeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocodeCallsTotal",
			Help: "Geocoding API calls by direction (direct/reverse) and status",
		},
		[]string{"direction", "status"},
	)
	GeocodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geocodeDurationSeconds",
			Help:    "Geocoding API latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"direction"},
	)
	PlaceCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "placeCacheHitsTotal",
			Help: "Place-resolution memo hits (query resolved without a geocoding call)",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Forecast cache hits. Misses show up as forecastApiCallsTotal increments.",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation (get/set)",
		},
		[]string{"operation"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Times more than one request missed the same forecast key concurrently",
		},
	)
	CacheStampedeConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent miss count observed when a stampede was detected",
			Buckets: []float64{2, 3, 5, 10, 25, 50},
		},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting for a coalesced upstream fetch",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs that had at least one failed place",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	ForecastQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastQueriesTotal",
			Help: "Total number of forecast lookups",
		},
	)
	ForecastQueriesByPlaceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastQueriesByPlaceTotal",
			Help: "Forecast queries by place (allow-list; others use place=other)",
		},
		[]string{"place"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per component (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	shutdownInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests remaining when shutdown drain began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ForecastAPICallsTotal, ForecastAPIDuration, ForecastFallbacksTotal, ForecastFailuresTotal,
		GeocodeCallsTotal, GeocodeDuration, PlaceCacheHitsTotal,
		CacheHitsTotal, CacheErrorsTotal,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		RequestCoalescingWaitSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		ForecastQueriesTotal, ForecastQueriesByPlaceTotal,
		RateLimitDeniedTotal,
		circuitBreakerState, shutdownInFlight,
	)
}

// SetTrackedPlaces sets the allow-list for place metrics. Non-tracked places increment "other".
func SetTrackedPlaces(places []string) {
	trackedPlacesMu.Lock()
	defer trackedPlacesMu.Unlock()
	trackedPlaces = make(map[string]struct{}, len(places))
	for _, p := range places {
		trackedPlaces[normalizePlaceForMetrics(p)] = struct{}{}
	}
}

// RecordForecastQuery records a forecast lookup for the given place label.
func RecordForecastQuery(place string) {
	ForecastQueriesTotal.Inc()
	p := normalizePlaceForMetrics(place)
	trackedPlacesMu.RLock()
	_, ok := trackedPlaces[p] // nil map read is safe in Go
	trackedPlacesMu.RUnlock()
	if ok {
		ForecastQueriesByPlaceTotal.WithLabelValues(p).Inc()
	} else {
		ForecastQueriesByPlaceTotal.WithLabelValues("other").Inc()
	}
}

func normalizePlaceForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// SetCircuitBreakerState records the breaker state for a component
// (0 closed, 1 half-open, 2 open).
func SetCircuitBreakerState(component string, state float64) {
	circuitBreakerState.WithLabelValues(component).Set(state)
}

// RecordShutdownInFlight records how many requests were still in flight when
// shutdown drain began.
func RecordShutdownInFlight(count int64) {
	shutdownInFlight.Set(float64(count))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

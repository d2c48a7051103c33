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

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo API call rate per endpoint (geocoding, forecast, archive).
	// Watch for: error vs success ratio.
	OpenMeteoCallsTotal *prometheus.CounterVec

	// Open-Meteo latency per endpoint. Archive calls span ten years of hourly
	// data and run far slower than the others; watch p95 per endpoint.
	OpenMeteoDuration *prometheus.HistogramVec

	// Retry attempts against Open-Meteo. Watch for: high retries = unstable upstream.
	OpenMeteoRetriesTotal prometheus.Counter

	// Circuit breaker state transitions per endpoint.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Cache hits by payload type (geocode, current, historical).
	CacheHitsTotal *prometheus.CounterVec

	// Cache backend errors by operation and reason.
	CacheErrorsTotal *prometheus.CounterVec

	// Completed anomaly analyses. Watch for: traffic volume, rate() for QPS.
	AnalysesTotal prometheus.Counter

	// Per-city analysis count (allow-list; others go to "other"). Watch for: top cities, traffic distribution.
	AnalysesByCityTotal *prometheus.CounterVec

	// Severity outcomes per metric. Watch for: Extreme spikes (real events or bad baselines).
	AnomalySeverityTotal *prometheus.CounterVec

	// Cache warming runs and failures.
	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// trackedCities is built from config; used to resolve the city label.
	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}
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
	OpenMeteoCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openMeteoApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"endpoint", "status"},
	)
	OpenMeteoDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openMeteoApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint", "status"},
	)
	OpenMeteoRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openMeteoApiRetriesTotal",
			Help: "Total number of retry attempts for Open-Meteo API calls",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions per Open-Meteo endpoint",
		},
		[]string{"endpoint", "from", "to"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by payload type",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and reason",
		},
		[]string{"operation", "reason"},
	)
	AnalysesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analysesTotal",
			Help: "Total number of completed anomaly analyses",
		},
	)
	AnalysesByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysesByCityTotal",
			Help: "Anomaly analyses by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	AnomalySeverityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalySeverityTotal",
			Help: "Anomaly classification outcomes per metric",
		},
		[]string{"metric", "severity"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs that had at least one failure",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		OpenMeteoCallsTotal, OpenMeteoDuration, OpenMeteoRetriesTotal,
		CircuitBreakerTransitionsTotal,
		CacheHitsTotal, CacheErrorsTotal,
		AnalysesTotal, AnalysesByCityTotal, AnomalySeverityTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal,
		RateLimitDeniedTotal,
	)
}

// SetTrackedCities sets the allow-list for the city metric label. Non-tracked
// cities are recorded as "other" to keep label cardinality bounded.
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// MetricCityLabel resolves a city to its metric label ("other" unless tracked).
func MetricCityLabel(city string) string {
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

func normalizeCityForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// RecordAnalysis records a completed analysis for a city and its per-metric
// severities. The city label is resolved through the tracked-city allow-list.
func RecordAnalysis(city string, severities map[string]string) {
	AnalysesTotal.Inc()
	AnalysesByCityTotal.WithLabelValues(MetricCityLabel(city)).Inc()
	for metric, severity := range severities {
		AnomalySeverityTotal.WithLabelValues(metric, severity).Inc()
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

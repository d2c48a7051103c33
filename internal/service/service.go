package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/analysis"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/cache"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/client"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/observability"
)

// Config holds the tunables for the analysis pipeline. Geocoded coordinates
// and the historical archive barely change, so they cache for a day; current
// conditions cache for an hour to respect upstream rate limits.
type Config struct {
	GeocodeTTL    time.Duration
	CurrentTTL    time.Duration
	HistoricalTTL time.Duration

	BaselineYears    int
	AnomalyThreshold float64

	CoalesceEnabled bool
	CoalesceTimeout time.Duration
}

// AnalysisService orchestrates the anomaly pipeline: geocode the city, fetch
// current conditions and the ten-year ERA5 baseline (each cache-aside), then
// score the current readings against the seasonal distribution.
type AnalysisService struct {
	client    client.ClimateClient
	cache     cache.Cache
	cfg       Config
	coalescer *requestCoalescer[models.HistoricalSeries] // nil if disabled
	now       func() time.Time
}

// NewAnalysisService creates an AnalysisService with the provided dependencies.
func NewAnalysisService(cl client.ClimateClient, c cache.Cache, cfg Config) *AnalysisService {
	if cfg.BaselineYears <= 0 {
		cfg.BaselineYears = 10
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = analysis.DefaultThreshold
	}
	var coalescer *requestCoalescer[models.HistoricalSeries]
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer[models.HistoricalSeries](cfg.CoalesceTimeout)
	}
	return &AnalysisService{
		client:    cl,
		cache:     c,
		cfg:       cfg,
		coalescer: coalescer,
		now:       time.Now,
	}
}

// Analyze runs the full pipeline for a city and returns the anomaly report.
// An empty historical sample is not an error; the report carries Undefined
// classifications instead.
func (s *AnalysisService) Analyze(ctx context.Context, city string) (models.AnomalyReport, error) {
	key := normalizeCity(city)
	start := time.Now()
	logger := loggerFromContext(ctx)

	coords, err := s.lookupCoordinates(ctx, key)
	if err != nil {
		return models.AnomalyReport{}, fmt.Errorf("geocode %s: %w", key, err)
	}

	current, err := s.lookupCurrent(ctx, coords)
	if err != nil {
		return models.AnomalyReport{}, fmt.Errorf("current conditions for %s: %w", key, err)
	}

	history, err := s.lookupHistorical(ctx, coords)
	if err != nil {
		return models.AnomalyReport{}, fmt.Errorf("historical climate for %s: %w", key, err)
	}

	report := analysis.Analyze(current, history, s.now(), s.cfg.AnomalyThreshold)
	report.City = displayCity(coords, key)
	report.Coordinates = coords
	report.BaselineYears = s.cfg.BaselineYears

	severities := make(map[string]string, len(report.Metrics))
	for _, a := range report.Metrics {
		severities[string(a.Metric)] = string(a.Severity)
	}
	observability.RecordAnalysis(key, severities)

	if logger != nil {
		logger.Debug("analysis served",
			zap.String("city", key),
			zap.Int("metrics", len(report.Metrics)),
			zap.Duration("duration", time.Since(start)))
	}
	return report, nil
}

// lookupCoordinates resolves the city via cache, falling back to the geocoding API.
func (s *AnalysisService) lookupCoordinates(ctx context.Context, key string) (models.Coordinates, error) {
	cacheKey := "geo:" + key
	var coords models.Coordinates
	if s.cacheGet(ctx, cacheKey, "geocode", &coords) {
		return coords, nil
	}

	coords, err := s.client.Geocode(ctx, key)
	if err != nil {
		return models.Coordinates{}, err
	}
	s.cacheSet(ctx, cacheKey, coords, s.cfg.GeocodeTTL)
	return coords, nil
}

// lookupCurrent fetches current conditions via cache, falling back to the forecast API.
func (s *AnalysisService) lookupCurrent(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error) {
	cacheKey := fmt.Sprintf("current:%.4f,%.4f", coords.Latitude, coords.Longitude)
	var current models.CurrentConditions
	if s.cacheGet(ctx, cacheKey, "current", &current) {
		return current, nil
	}

	current, err := s.client.GetCurrentConditions(ctx, coords)
	if err != nil {
		return models.CurrentConditions{}, err
	}
	s.cacheSet(ctx, cacheKey, current, s.cfg.CurrentTTL)
	return current, nil
}

// lookupHistorical fetches the ERA5 baseline via cache. Misses are coalesced
// when enabled so concurrent requests for one location trigger a single
// archive query.
func (s *AnalysisService) lookupHistorical(ctx context.Context, coords models.Coordinates) (models.HistoricalSeries, error) {
	cacheKey := fmt.Sprintf("hist:%.4f,%.4f:%dy", coords.Latitude, coords.Longitude, s.cfg.BaselineYears)
	var history models.HistoricalSeries
	if s.cacheGet(ctx, cacheKey, "historical", &history) {
		return history, nil
	}

	fetch := func() (models.HistoricalSeries, error) {
		return s.client.GetHistoricalClimate(ctx, coords, s.cfg.BaselineYears)
	}

	var err error
	if s.coalescer != nil {
		history, err = s.coalescer.GetOrDo(ctx, cacheKey, fetch)
	} else {
		history, err = fetch()
	}
	if err != nil {
		return models.HistoricalSeries{}, err
	}
	s.cacheSet(ctx, cacheKey, history, s.cfg.HistoricalTTL)
	return history, nil
}

// cacheGet reads and decodes a cached payload. Cache failures are non-fatal:
// they are recorded and treated as a miss.
func (s *AnalysisService) cacheGet(ctx context.Context, key, cacheType string, out interface{}) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", "decode").Inc()
		return false
	}
	observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
	return true
}

// cacheSet encodes and stores a payload. Failures are recorded but never
// propagated; serving the analysis matters more than populating the cache.
func (s *AnalysisService) cacheSet(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", "encode").Inc()
		return
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// normalizeCity normalizes city names by trimming whitespace and lowercasing.
// Used to ensure consistent cache keys and API requests regardless of input format.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// displayCity prefers the geocoder's canonical name over the raw user input.
func displayCity(coords models.Coordinates, fallback string) string {
	if coords.Name != "" {
		return coords.Name
	}
	return fallback
}

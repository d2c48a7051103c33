package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/client"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
)

type mockClimateClient struct {
	coords     models.Coordinates
	geocodeErr error

	current    models.CurrentConditions
	currentErr error

	history       models.HistoricalSeries
	historyErr    error
	historyCalls  int32
	historyDelay  time.Duration
	pingErr       error
}

func (m *mockClimateClient) Geocode(ctx context.Context, city string) (models.Coordinates, error) {
	return m.coords, m.geocodeErr
}

func (m *mockClimateClient) GetCurrentConditions(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error) {
	return m.current, m.currentErr
}

func (m *mockClimateClient) GetHistoricalClimate(ctx context.Context, coords models.Coordinates, yearsBack int) (models.HistoricalSeries, error) {
	atomic.AddInt32(&m.historyCalls, 1)
	if m.historyDelay > 0 {
		select {
		case <-ctx.Done():
			return models.HistoricalSeries{}, ctx.Err()
		case <-time.After(m.historyDelay):
		}
	}
	return m.history, m.historyErr
}

func (m *mockClimateClient) Ping(ctx context.Context) error {
	return m.pingErr
}

type mockCache struct {
	data map[string][]byte
	err  error
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

func julyHistory() models.HistoricalSeries {
	obs := make([]models.Observation, 0, 10)
	for year := 2016; year < 2026; year++ {
		obs = append(obs, models.Observation{
			Time:  time.Date(year, time.July, 10, 14, 0, 0, 0, time.UTC),
			Value: 28 + float64(year%3), // 28, 29, 30 spread
		})
	}
	return models.HistoricalSeries{
		Series: map[models.Metric][]models.Observation{
			models.MetricTemperature: obs,
		},
	}
}

func defaultConfig() Config {
	return Config{
		GeocodeTTL:       24 * time.Hour,
		CurrentTTL:       time.Hour,
		HistoricalTTL:    24 * time.Hour,
		BaselineYears:    10,
		AnomalyThreshold: 2.0,
	}
}

func fixedJulyClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, time.July, 20, 14, 0, 0, 0, time.UTC)
	}
}

// TestAnalyze_FullPipeline verifies the happy path: geocode, fetch, analyze,
// with the report carrying the geocoder's canonical city name.
func TestAnalyze_FullPipeline(t *testing.T) {
	mockClient := &mockClimateClient{
		coords:  models.Coordinates{Name: "London", Latitude: 51.5, Longitude: -0.12},
		current: models.CurrentConditions{Temperature: 29, Timestamp: fixedJulyClock()()},
		history: julyHistory(),
	}
	svc := NewAnalysisService(mockClient, &mockCache{}, defaultConfig())
	svc.now = fixedJulyClock()

	report, err := svc.Analyze(context.Background(), "  LONDON ")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if report.City != "London" {
		t.Errorf("City = %q, want London", report.City)
	}
	if report.BaselineYears != 10 {
		t.Errorf("BaselineYears = %d, want 10", report.BaselineYears)
	}
	a, ok := report.Anomaly(models.MetricTemperature)
	if !ok {
		t.Fatal("report missing temperature entry")
	}
	if a.Severity != models.SeverityNormal {
		t.Errorf("Severity = %v, want Normal (z=%v)", a.Severity, a.ZScore)
	}
}

// TestAnalyze_CityNotFound verifies the geocoding sentinel is preserved
// through wrapping so handlers can map it to a 404.
func TestAnalyze_CityNotFound(t *testing.T) {
	mockClient := &mockClimateClient{
		geocodeErr: fmt.Errorf("%w: %q", client.ErrCityNotFound, "atlantis"),
	}
	svc := NewAnalysisService(mockClient, &mockCache{}, defaultConfig())

	_, err := svc.Analyze(context.Background(), "atlantis")
	if !errors.Is(err, client.ErrCityNotFound) {
		t.Fatalf("Analyze() error = %v, want ErrCityNotFound", err)
	}
}

// TestAnalyze_UpstreamFailure verifies upstream errors propagate.
func TestAnalyze_UpstreamFailure(t *testing.T) {
	mockClient := &mockClimateClient{
		coords:     models.Coordinates{Name: "London", Latitude: 51.5, Longitude: -0.12},
		currentErr: client.ErrUpstreamFailure,
	}
	svc := NewAnalysisService(mockClient, &mockCache{}, defaultConfig())

	_, err := svc.Analyze(context.Background(), "london")
	if !errors.Is(err, client.ErrUpstreamFailure) {
		t.Fatalf("Analyze() error = %v, want ErrUpstreamFailure", err)
	}
}

// TestAnalyze_EmptyHistory verifies an empty archive yields a report with
// Undefined classifications, not an error.
func TestAnalyze_EmptyHistory(t *testing.T) {
	mockClient := &mockClimateClient{
		coords:  models.Coordinates{Name: "McMurdo", Latitude: -77.8, Longitude: 166.6},
		current: models.CurrentConditions{Temperature: -20},
	}
	svc := NewAnalysisService(mockClient, &mockCache{}, defaultConfig())
	svc.now = fixedJulyClock()

	report, err := svc.Analyze(context.Background(), "mcmurdo")
	if err != nil {
		t.Fatalf("Analyze() error = %v, want nil for empty history", err)
	}
	for _, a := range report.Metrics {
		if a.Severity != models.SeverityUndefined {
			t.Errorf("metric %s severity = %v, want Undefined", a.Metric, a.Severity)
		}
	}
}

// TestAnalyze_CachePopulated verifies the pipeline populates geocode, current,
// and historical cache entries on a cold run.
func TestAnalyze_CachePopulated(t *testing.T) {
	mockClient := &mockClimateClient{
		coords:  models.Coordinates{Name: "Lima", Latitude: -12.0464, Longitude: -77.0428},
		current: models.CurrentConditions{Temperature: 18},
		history: julyHistory(),
	}
	c := &mockCache{data: make(map[string][]byte)}
	svc := NewAnalysisService(mockClient, c, defaultConfig())
	svc.now = fixedJulyClock()

	if _, err := svc.Analyze(context.Background(), "Lima"); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	for _, key := range []string{
		"geo:lima",
		"current:-12.0464,-77.0428",
		"hist:-12.0464,-77.0428:10y",
	} {
		if _, ok := c.data[key]; !ok {
			t.Errorf("cache missing key %q after analysis", key)
		}
	}
}

// TestAnalyze_GeocodeCacheHit verifies a cached geocode result short-circuits
// the geocoding API call.
func TestAnalyze_GeocodeCacheHit(t *testing.T) {
	cached, _ := json.Marshal(models.Coordinates{Name: "Lima", Latitude: -12.0464, Longitude: -77.0428})
	c := &mockCache{data: map[string][]byte{"geo:lima": cached}}

	mockClient := &mockClimateClient{
		geocodeErr: errors.New("geocoding must not be called"),
		current:    models.CurrentConditions{Temperature: 18},
		history:    julyHistory(),
	}
	svc := NewAnalysisService(mockClient, c, defaultConfig())
	svc.now = fixedJulyClock()

	report, err := svc.Analyze(context.Background(), "Lima")
	if err != nil {
		t.Fatalf("Analyze() error = %v (geocode cache hit expected)", err)
	}
	if report.Coordinates.Latitude != -12.0464 {
		t.Errorf("Coordinates.Latitude = %v, want cached -12.0464", report.Coordinates.Latitude)
	}
}

// TestAnalyze_CacheErrorFallsThrough verifies cache failures degrade to
// upstream fetches instead of failing the request.
func TestAnalyze_CacheErrorFallsThrough(t *testing.T) {
	mockClient := &mockClimateClient{
		coords:  models.Coordinates{Name: "Lima", Latitude: -12.05, Longitude: -77.04},
		current: models.CurrentConditions{Temperature: 18},
		history: julyHistory(),
	}
	svc := NewAnalysisService(mockClient, &mockCache{err: errors.New("cache timeout")}, defaultConfig())
	svc.now = fixedJulyClock()

	if _, err := svc.Analyze(context.Background(), "lima"); err != nil {
		t.Fatalf("Analyze() error = %v, want nil (cache errors are non-fatal)", err)
	}
}

// TestAnalyze_CoalescesHistoricalFetches verifies concurrent cold requests for
// one location trigger a single archive call when coalescing is enabled.
func TestAnalyze_CoalescesHistoricalFetches(t *testing.T) {
	mockClient := &mockClimateClient{
		coords:       models.Coordinates{Name: "Lima", Latitude: -12.05, Longitude: -77.04},
		current:      models.CurrentConditions{Temperature: 18},
		history:      julyHistory(),
		historyDelay: 50 * time.Millisecond,
	}
	cfg := defaultConfig()
	cfg.CoalesceEnabled = true
	cfg.CoalesceTimeout = 2 * time.Second
	// Cache errors force every request down the fetch path.
	svc := NewAnalysisService(mockClient, &mockCache{err: errors.New("cache down")}, cfg)
	svc.now = fixedJulyClock()

	const concurrent = 5
	errCh := make(chan error, concurrent)
	for i := 0; i < concurrent; i++ {
		go func() {
			_, err := svc.Analyze(context.Background(), "lima")
			errCh <- err
		}()
	}
	for i := 0; i < concurrent; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
	}

	if n := atomic.LoadInt32(&mockClient.historyCalls); n != 1 {
		t.Errorf("archive calls = %d, want 1 (coalesced)", n)
	}
}

func TestNormalizeCity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: " Lima ", want: "lima"},
		{in: "NEW YORK", want: "new york"},
		{in: "tokyo", want: "tokyo"},
	}
	for _, tc := range tests {
		if got := normalizeCity(tc.in); got != tc.want {
			t.Errorf("normalizeCity(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

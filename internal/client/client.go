package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/observability"
)

// ClimateClient is the outbound interface to the weather data provider.
type ClimateClient interface {
	Geocode(ctx context.Context, city string) (models.Coordinates, error)
	GetCurrentConditions(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error)
	GetHistoricalClimate(ctx context.Context, coords models.Coordinates, yearsBack int) (models.HistoricalSeries, error)
	Ping(ctx context.Context) error
}

var (
	ErrCityNotFound    = errors.New("city not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit breaker open")
)

// Endpoint names used for metrics labels and circuit breakers.
const (
	endpointGeocoding = "geocoding"
	endpointForecast  = "forecast"
	endpointArchive   = "archive"
)

// Config holds the Open-Meteo endpoint URLs and resilience settings.
type Config struct {
	GeocodingURL string
	ForecastURL  string
	ArchiveURL   string

	// Timeout applies to geocoding and forecast calls. ArchiveTimeout applies
	// to the historical archive, whose responses span ten years of hourly data.
	Timeout        time.Duration
	ArchiveTimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// OpenMeteoClient talks to the free Open-Meteo APIs: geocoding for city lookup,
// forecast for current conditions, and the ERA5 archive for the historical
// baseline. No API key is required by any of them.
type OpenMeteoClient struct {
	cfg      Config
	client   *http.Client
	breakers map[string]*gobreaker.CircuitBreaker
	now      func() time.Time
}

// NewOpenMeteoClient creates a client from the given config, applying defaults
// for any unset resilience values.
func NewOpenMeteoClient(cfg Config) (*OpenMeteoClient, error) {
	if cfg.GeocodingURL == "" || cfg.ForecastURL == "" || cfg.ArchiveURL == "" {
		return nil, fmt.Errorf("open-meteo client: all endpoint URLs are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, 3)
	for _, endpoint := range []string{endpointGeocoding, endpointForecast, endpointArchive} {
		endpoint := endpoint
		breakers[endpoint] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        endpoint,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.CircuitBreakerTransitionsTotal.WithLabelValues(endpoint, from.String(), to.String()).Inc()
			},
		})
	}

	return &OpenMeteoClient{
		cfg:      cfg,
		client:   &http.Client{},
		breakers: breakers,
		now:      time.Now,
	}, nil
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
		Timezone  string  `json:"timezone"`
	} `json:"results"`
}

// Geocode resolves a city name to coordinates via the geocoding endpoint.
// Returns ErrCityNotFound when the lookup yields no results.
func (c *OpenMeteoClient) Geocode(ctx context.Context, city string) (models.Coordinates, error) {
	params := url.Values{}
	params.Set("name", city)
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")

	var resp geocodingResponse
	if err := c.getJSON(ctx, endpointGeocoding, c.cfg.GeocodingURL, params, c.cfg.Timeout, &resp); err != nil {
		return models.Coordinates{}, fmt.Errorf("geocode %q: %w", city, err)
	}
	if len(resp.Results) == 0 {
		return models.Coordinates{}, fmt.Errorf("%w: %q", ErrCityNotFound, city)
	}

	r := resp.Results[0]
	return models.Coordinates{
		Name:      r.Name,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Country:   r.Country,
		Timezone:  r.Timezone,
	}, nil
}

type forecastResponse struct {
	Current struct {
		Time          string  `json:"time"`
		Temperature   float64 `json:"temperature_2m"`
		Humidity      float64 `json:"relative_humidity_2m"`
		Precipitation float64 `json:"precipitation"`
		WindSpeed     float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

// GetCurrentConditions fetches the current readings for the coordinates.
func (c *OpenMeteoClient) GetCurrentConditions(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(coords.Latitude))
	params.Set("longitude", formatCoord(coords.Longitude))
	params.Set("current", climateVariables())
	params.Set("timezone", "auto")

	var resp forecastResponse
	if err := c.getJSON(ctx, endpointForecast, c.cfg.ForecastURL, params, c.cfg.Timeout, &resp); err != nil {
		return models.CurrentConditions{}, fmt.Errorf("current conditions: %w", err)
	}

	return models.CurrentConditions{
		Temperature:   resp.Current.Temperature,
		Humidity:      resp.Current.Humidity,
		Precipitation: resp.Current.Precipitation,
		WindSpeed:     resp.Current.WindSpeed,
		Timestamp:     parseAPITime(resp.Current.Time, c.now),
	}, nil
}

type archiveResponse struct {
	Hourly struct {
		Time          []string   `json:"time"`
		Temperature   []*float64 `json:"temperature_2m"`
		Humidity      []*float64 `json:"relative_humidity_2m"`
		Precipitation []*float64 `json:"precipitation"`
		WindSpeed     []*float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
}

// GetHistoricalClimate fetches yearsBack years of ERA5 hourly data ending today.
// Null readings in the hourly arrays are dropped.
func (c *OpenMeteoClient) GetHistoricalClimate(ctx context.Context, coords models.Coordinates, yearsBack int) (models.HistoricalSeries, error) {
	if yearsBack <= 0 {
		yearsBack = 10
	}
	end := c.now()
	start := end.AddDate(0, 0, -365*yearsBack)

	params := url.Values{}
	params.Set("latitude", formatCoord(coords.Latitude))
	params.Set("longitude", formatCoord(coords.Longitude))
	params.Set("start_date", start.Format("2006-01-02"))
	params.Set("end_date", end.Format("2006-01-02"))
	params.Set("hourly", climateVariables())
	params.Set("timezone", "auto")

	var resp archiveResponse
	if err := c.getJSON(ctx, endpointArchive, c.cfg.ArchiveURL, params, c.cfg.ArchiveTimeout, &resp); err != nil {
		return models.HistoricalSeries{}, fmt.Errorf("historical climate: %w", err)
	}

	series := models.HistoricalSeries{
		Start:  start,
		End:    end,
		Series: make(map[models.Metric][]models.Observation, 4),
	}
	columns := map[models.Metric][]*float64{
		models.MetricTemperature:   resp.Hourly.Temperature,
		models.MetricHumidity:      resp.Hourly.Humidity,
		models.MetricPrecipitation: resp.Hourly.Precipitation,
		models.MetricWindSpeed:     resp.Hourly.WindSpeed,
	}
	for i, raw := range resp.Hourly.Time {
		t, err := time.Parse(apiTimeLayout, raw)
		if err != nil {
			continue
		}
		for metric, values := range columns {
			if i >= len(values) || values[i] == nil {
				continue
			}
			series.Series[metric] = append(series.Series[metric], models.Observation{
				Time:  t,
				Value: *values[i],
			})
		}
	}

	return series, nil
}

// Ping checks upstream reachability by geocoding a known city with a short
// timeout. Used by health checks.
func (c *OpenMeteoClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.Geocode(ctx, "London"); err != nil {
		return fmt.Errorf("upstream ping: %w", err)
	}
	return nil
}

// getJSON runs a GET with retries, per-endpoint circuit breaking, and metrics,
// decoding the JSON body into out.
func (c *OpenMeteoClient) getJSON(ctx context.Context, endpoint, baseURL string, params url.Values, timeout time.Duration, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.OpenMeteoRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.callAPI(ctx, endpoint, baseURL, params, timeout)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("parse %s response: %w", endpoint, err)
			}
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, endpoint, baseURL string, params url.Values, timeout time.Duration) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := buildRequest(reqCtx, baseURL, params)
	if err != nil {
		observability.OpenMeteoCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	corrID := extractCorrelationID(ctx)
	if corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	result, err := c.breakers[endpoint].Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := handleErrorResponse(resp); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return body, nil
	})

	duration := time.Since(start).Seconds()
	if err != nil {
		observability.OpenMeteoCallsTotal.WithLabelValues(endpoint, statusLabelForError(err)).Inc()
		observability.OpenMeteoDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, endpoint)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, err
	}

	observability.OpenMeteoCallsTotal.WithLabelValues(endpoint, "success").Inc()
	observability.OpenMeteoDuration.WithLabelValues(endpoint, "success").Observe(duration)

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected circuit breaker result", ErrUpstreamFailure)
	}
	return body, nil
}

func buildRequest(ctx context.Context, baseURL string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "connection refused") {
		return true
	}

	return false
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.cfg.RetryMaxDelay) {
		delay = float64(c.cfg.RetryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabelForError(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamFailure):
		return "server_error"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	default:
		return "error"
	}
}

// apiTimeLayout is the ISO8601 minute-resolution format Open-Meteo uses with
// timezone=auto (local time, no offset).
const apiTimeLayout = "2006-01-02T15:04"

func parseAPITime(raw string, now func() time.Time) time.Time {
	if t, err := time.Parse(apiTimeLayout, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return now()
}

// climateVariables returns the comma-separated Open-Meteo variable list shared
// by the current and hourly queries.
func climateVariables() string {
	metrics := models.AllMetrics()
	fields := make([]string, 0, len(metrics))
	for _, m := range metrics {
		fields = append(fields, m.APIField())
	}
	return strings.Join(fields, ",")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

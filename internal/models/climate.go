package models

import "time"

// Metric identifies one of the climate variables the dashboard analyzes.
type Metric string

const (
	MetricTemperature   Metric = "temperature"
	MetricHumidity      Metric = "humidity"
	MetricPrecipitation Metric = "precipitation"
	MetricWindSpeed     Metric = "wind_speed"
)

// AllMetrics returns the analyzed metrics in display order.
func AllMetrics() []Metric {
	return []Metric{MetricTemperature, MetricHumidity, MetricPrecipitation, MetricWindSpeed}
}

// APIField returns the Open-Meteo hourly/current variable name for the metric.
func (m Metric) APIField() string {
	switch m {
	case MetricTemperature:
		return "temperature_2m"
	case MetricHumidity:
		return "relative_humidity_2m"
	case MetricPrecipitation:
		return "precipitation"
	case MetricWindSpeed:
		return "wind_speed_10m"
	}
	return string(m)
}

// Unit returns the display unit for the metric.
func (m Metric) Unit() string {
	switch m {
	case MetricTemperature:
		return "°C"
	case MetricHumidity:
		return "%"
	case MetricPrecipitation:
		return "mm"
	case MetricWindSpeed:
		return "km/h"
	}
	return ""
}

// Label returns a human-readable name for the metric.
func (m Metric) Label() string {
	switch m {
	case MetricTemperature:
		return "Temperature"
	case MetricHumidity:
		return "Humidity"
	case MetricPrecipitation:
		return "Precipitation"
	case MetricWindSpeed:
		return "Wind Speed"
	}
	return string(m)
}

// Coordinates is a geocoded location.
type Coordinates struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
}

// CurrentConditions holds the current readings for a location.
type CurrentConditions struct {
	Temperature   float64   `json:"temperature"`
	Humidity      float64   `json:"humidity"`
	Precipitation float64   `json:"precipitation"`
	WindSpeed     float64   `json:"windSpeed"`
	Timestamp     time.Time `json:"timestamp"`
}

// Value returns the reading for the given metric.
func (c CurrentConditions) Value(m Metric) (float64, bool) {
	switch m {
	case MetricTemperature:
		return c.Temperature, true
	case MetricHumidity:
		return c.Humidity, true
	case MetricPrecipitation:
		return c.Precipitation, true
	case MetricWindSpeed:
		return c.WindSpeed, true
	}
	return 0, false
}

// Observation is a single hourly reading from the historical archive.
type Observation struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// HistoricalSeries holds hourly archive data per metric. Null readings from the
// upstream API are dropped during parsing, so series lengths may differ.
type HistoricalSeries struct {
	Start  time.Time                `json:"start"`
	End    time.Time                `json:"end"`
	Series map[Metric][]Observation `json:"series"`
}

// Empty reports whether the series contains no observations for any metric.
func (h HistoricalSeries) Empty() bool {
	for _, obs := range h.Series {
		if len(obs) > 0 {
			return false
		}
	}
	return true
}

// Severity classifies how anomalous a reading is relative to its seasonal baseline.
type Severity string

const (
	SeverityNormal    Severity = "Normal"
	SeverityModerate  Severity = "Moderate"
	SeverityExtreme   Severity = "Extreme"
	SeverityUndefined Severity = "Undefined" // sample too small or zero variance
)

// MetricAnomaly is the per-metric analysis result.
type MetricAnomaly struct {
	Metric     Metric   `json:"metric"`
	Unit       string   `json:"unit"`
	Current    float64  `json:"current"`
	Mean       float64  `json:"mean"`
	StdDev     float64  `json:"stdDev"`
	ZScore     float64  `json:"zScore"`
	Delta      float64  `json:"delta"` // current − mean
	SampleSize int      `json:"sampleSize"`
	IsAnomaly  bool     `json:"isAnomaly"`
	Severity   Severity `json:"severity"`
	Undefined  bool     `json:"undefined"`
}

// Distribution is a fixed-width binning of a seasonal sample, rendered behind
// the current reading on the dashboard.
type Distribution struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	BinWidth float64 `json:"binWidth"`
	Counts   []int   `json:"counts"`
}

// BinIndex returns the bin a value falls into, clamped to the distribution
// range. Returns -1 for an empty distribution.
func (d Distribution) BinIndex(v float64) int {
	if len(d.Counts) == 0 {
		return -1
	}
	if d.BinWidth == 0 {
		return 0
	}
	idx := int((v - d.Min) / d.BinWidth)
	if idx < 0 {
		return 0
	}
	if idx >= len(d.Counts) {
		return len(d.Counts) - 1
	}
	return idx
}

// MaxCount returns the largest bin count, used to scale rendered bars.
func (d Distribution) MaxCount() int {
	max := 0
	for _, c := range d.Counts {
		if c > max {
			max = c
		}
	}
	return max
}

// AnomalyReport is the full analysis for one city at one point in time.
type AnomalyReport struct {
	City          string            `json:"city"`
	Coordinates   Coordinates       `json:"coordinates"`
	ObservedAt    time.Time         `json:"observedAt"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	Month         time.Month        `json:"month"`
	Hour          int               `json:"hour"`
	BaselineYears int               `json:"baselineYears"`
	Metrics       []MetricAnomaly   `json:"metrics"`
	Current       CurrentConditions `json:"current"`

	// Distributions holds the seasonal histograms behind the dashboard charts,
	// keyed by metric. Only populated for metrics with distribution charts.
	Distributions map[Metric]Distribution `json:"distributions,omitempty"`
}

// Anomaly returns the entry for the given metric, if present.
func (r AnomalyReport) Anomaly(m Metric) (MetricAnomaly, bool) {
	for _, a := range r.Metrics {
		if a.Metric == m {
			return a, true
		}
	}
	return MetricAnomaly{}, false
}

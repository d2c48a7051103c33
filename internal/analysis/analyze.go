package analysis

import (
	"time"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
)

// Analyze scores every metric of the current conditions against its seasonal
// baseline in the historical series. The month and hour for seasonal filtering
// come from the observation timestamp, which is local to the queried location
// like the archive timestamps; at is the generation time and the fallback when
// the observation carries no timestamp. Metrics missing from the history are
// skipped; an empty history yields entries with Undefined severity so callers
// can report "analysis unavailable" instead of an error.
func Analyze(current models.CurrentConditions, history models.HistoricalSeries, at time.Time, threshold float64) models.AnomalyReport {
	seasonAt := current.Timestamp
	if seasonAt.IsZero() {
		seasonAt = at
	}
	report := models.AnomalyReport{
		ObservedAt:  current.Timestamp,
		GeneratedAt: at,
		Month:       seasonAt.Month(),
		Hour:        seasonAt.Hour(),
		Current:     current,
	}

	for _, metric := range models.AllMetrics() {
		value, ok := current.Value(metric)
		if !ok {
			continue
		}
		obs := history.Series[metric]
		if len(obs) == 0 && !history.Empty() {
			// Metric absent from the archive response; nothing to score against.
			continue
		}

		sample := SeasonalSubset(obs, seasonAt.Month(), seasonAt.Hour())
		score := Score(value, sample)
		severity := ClassifyResult(score, threshold)

		report.Metrics = append(report.Metrics, models.MetricAnomaly{
			Metric:     metric,
			Unit:       metric.Unit(),
			Current:    value,
			Mean:       score.Mean,
			StdDev:     score.StdDev,
			ZScore:     score.Z,
			Delta:      value - score.Mean,
			SampleSize: score.SampleSize,
			IsAnomaly:  severity == models.SeverityModerate || severity == models.SeverityExtreme,
			Severity:   severity,
			Undefined:  score.Undefined,
		})
	}

	// The dashboard charts temperature and humidity distributions.
	for _, metric := range []models.Metric{models.MetricTemperature, models.MetricHumidity} {
		d := SeasonalDistribution(history, metric, seasonAt, DefaultHistogramBins)
		if len(d.Counts) == 0 {
			continue
		}
		if report.Distributions == nil {
			report.Distributions = make(map[models.Metric]models.Distribution, 2)
		}
		report.Distributions[metric] = d
	}

	return report
}

// SeasonalDistribution bins the seasonal subset of a metric's history for the
// dashboard distribution chart.
func SeasonalDistribution(history models.HistoricalSeries, metric models.Metric, at time.Time, bins int) models.Distribution {
	sample := SeasonalSubset(history.Series[metric], at.Month(), at.Hour())
	return NewDistribution(sample, bins)
}

package views

import (
	"fmt"
	"strings"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
)

// BuildReportView converts an anomaly report into its renderable form. All
// number formatting happens here so the template stays plain.
func BuildReportView(report models.AnomalyReport) ReportView {
	rv := ReportView{
		City:          report.City,
		Country:       report.Coordinates.Country,
		Coordinates:   fmt.Sprintf("%.4f, %.4f", report.Coordinates.Latitude, report.Coordinates.Longitude),
		ObservedAt:    report.ObservedAt.Format("2 Jan 2006 15:04 MST"),
		SeasonLabel:   fmt.Sprintf("%s around %02d:00", report.Month, report.Hour),
		BaselineYears: report.BaselineYears,
	}

	for _, a := range report.Metrics {
		rv.Cards = append(rv.Cards, buildCard(a))
	}

	// Chart order matches the card order for the charted metrics.
	for _, metric := range []models.Metric{models.MetricTemperature, models.MetricHumidity} {
		d, ok := report.Distributions[metric]
		if !ok || len(d.Counts) == 0 {
			continue
		}
		a, _ := report.Anomaly(metric)
		rv.Charts = append(rv.Charts, buildChart(metric, d, a))
	}

	return rv
}

func buildCard(a models.MetricAnomaly) MetricCard {
	card := MetricCard{
		Label:      a.Metric.Label(),
		Value:      fmt.Sprintf("%.1f %s", a.Current, a.Unit),
		SampleSize: a.SampleSize,
		Severity:   string(a.Severity),
		CSSClass:   strings.ToLower(string(a.Severity)),
		Undefined:  a.Undefined,
	}
	if a.Undefined {
		card.Delta = "no seasonal baseline"
		card.ZScore = "n/a"
		card.Mean = "n/a"
		card.StdDev = "n/a"
		return card
	}
	card.Delta = fmt.Sprintf("%+.1f %s vs seasonal mean", a.Delta, a.Unit)
	card.ZScore = fmt.Sprintf("%.2f", a.ZScore)
	card.Mean = fmt.Sprintf("%.1f %s", a.Mean, a.Unit)
	card.StdDev = fmt.Sprintf("%.1f %s", a.StdDev, a.Unit)
	return card
}

func buildChart(metric models.Metric, d models.Distribution, a models.MetricAnomaly) ChartView {
	chart := ChartView{
		Label:    fmt.Sprintf("%s (%s)", metric.Label(), metric.Unit()),
		MinLabel: fmt.Sprintf("%.1f", d.Min),
		MaxLabel: fmt.Sprintf("%.1f", d.Max),
	}

	maxCount := d.MaxCount()
	currentBin := d.BinIndex(a.Current)
	meanBin := -1
	if !a.Undefined {
		meanBin = d.BinIndex(a.Mean)
	}

	for i, count := range d.Counts {
		pct := 0
		if maxCount > 0 {
			pct = count * 100 / maxCount
		}
		if count > 0 && pct < 2 {
			pct = 2 // keep occupied bins visible
		}
		chart.Bars = append(chart.Bars, ChartBar{
			HeightPct: pct,
			Current:   i == currentBin,
			Mean:      i == meanBin,
		})
	}
	return chart
}

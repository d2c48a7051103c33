package views

import (
	"testing"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
)

func TestBuildReportView_Cards(t *testing.T) {
	rv := BuildReportView(sampleReport())

	if len(rv.Cards) != 2 {
		t.Fatalf("Cards = %d, want 2", len(rv.Cards))
	}

	temp := rv.Cards[0]
	if temp.Label != "Temperature" {
		t.Errorf("Label = %q, want Temperature", temp.Label)
	}
	if temp.Value != "34.2 °C" {
		t.Errorf("Value = %q, want \"34.2 °C\"", temp.Value)
	}
	if temp.Delta != "+6.1 °C vs seasonal mean" {
		t.Errorf("Delta = %q, want signed delta", temp.Delta)
	}
	if temp.CSSClass != "moderate" {
		t.Errorf("CSSClass = %q, want moderate", temp.CSSClass)
	}

	humidity := rv.Cards[1]
	if humidity.Delta != "-3.0 % vs seasonal mean" {
		t.Errorf("Delta = %q, want negative delta with sign", humidity.Delta)
	}
}

func TestBuildReportView_UndefinedCard(t *testing.T) {
	report := models.AnomalyReport{
		Metrics: []models.MetricAnomaly{
			{
				Metric: models.MetricWindSpeed, Unit: "km/h",
				Current: 12, Severity: models.SeverityUndefined, Undefined: true,
			},
		},
	}

	rv := BuildReportView(report)

	card := rv.Cards[0]
	if card.ZScore != "n/a" {
		t.Errorf("ZScore = %q, want n/a for undefined metric", card.ZScore)
	}
	if card.CSSClass != "undefined" {
		t.Errorf("CSSClass = %q, want undefined", card.CSSClass)
	}
}

func TestBuildReportView_ChartMarksBins(t *testing.T) {
	rv := BuildReportView(sampleReport())

	if len(rv.Charts) != 1 {
		t.Fatalf("Charts = %d, want 1 (no humidity distribution)", len(rv.Charts))
	}
	chart := rv.Charts[0]
	if len(chart.Bars) != 30 {
		t.Fatalf("Bars = %d, want 30", len(chart.Bars))
	}

	var hasCurrent, hasMean bool
	for _, b := range chart.Bars {
		if b.Current {
			hasCurrent = true
		}
		if b.Mean {
			hasMean = true
		}
	}
	if !hasCurrent {
		t.Error("no bar marked as current reading")
	}
	if !hasMean {
		t.Error("no bar marked as seasonal mean")
	}
	if chart.MinLabel != "20.0" || chart.MaxLabel != "36.0" {
		t.Errorf("axis labels = [%s, %s], want [20.0, 36.0]", chart.MinLabel, chart.MaxLabel)
	}
}

func TestBuildReportView_OccupiedBinsStayVisible(t *testing.T) {
	report := models.AnomalyReport{
		Metrics: []models.MetricAnomaly{
			{Metric: models.MetricTemperature, Unit: "°C", Current: 25, Mean: 25},
		},
		Distributions: map[models.Metric]models.Distribution{
			models.MetricTemperature: {Min: 0, Max: 100, BinWidth: 50, Counts: []int{1, 200}},
		},
	}

	rv := BuildReportView(report)

	bars := rv.Charts[0].Bars
	if bars[0].HeightPct < 2 {
		t.Errorf("tiny occupied bin height = %d%%, want >= 2", bars[0].HeightPct)
	}
	if bars[1].HeightPct != 100 {
		t.Errorf("tallest bin height = %d%%, want 100", bars[1].HeightPct)
	}
}

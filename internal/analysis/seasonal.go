package analysis

import (
	"time"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
)

// SeasonalSubset filters observations to those matching both the calendar
// month and hour of day, controlling for seasonal and diurnal cycles before a
// baseline is computed. When no observation matches month and hour it falls
// back to month-only; when that is also empty it returns the whole series.
func SeasonalSubset(obs []models.Observation, month time.Month, hour int) []float64 {
	out := filterValues(obs, func(t time.Time) bool {
		return t.Month() == month && t.Hour() == hour
	})
	if len(out) > 0 {
		return out
	}

	out = filterValues(obs, func(t time.Time) bool {
		return t.Month() == month
	})
	if len(out) > 0 {
		return out
	}

	return filterValues(obs, func(time.Time) bool { return true })
}

func filterValues(obs []models.Observation, keep func(time.Time) bool) []float64 {
	var out []float64
	for _, o := range obs {
		if keep(o.Time) {
			out = append(out, o.Value)
		}
	}
	return out
}

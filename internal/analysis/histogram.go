package analysis

import (
	"math"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
)

// DefaultHistogramBins is the bin count used by the dashboard distribution chart.
const DefaultHistogramBins = 30

// NewDistribution bins values into the given number of equal-width bins.
// Returns a zero-value Distribution for an empty sample. A sample with no
// spread yields a single bin holding every value.
func NewDistribution(values []float64, bins int) models.Distribution {
	if len(values) == 0 {
		return models.Distribution{}
	}
	if bins <= 0 {
		bins = DefaultHistogramBins
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min == max {
		return models.Distribution{Min: min, Max: max, BinWidth: 0, Counts: []int{len(values)}}
	}

	width := (max - min) / float64(bins)
	counts := make([]int, bins)
	for _, v := range values {
		idx := int(math.Floor((v - min) / width))
		if idx >= bins { // max lands in the last bin
			idx = bins - 1
		}
		counts[idx]++
	}
	return models.Distribution{Min: min, Max: max, BinWidth: width, Counts: counts}
}

package analysis

import (
	"math"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
)

// Classify maps an absolute Z-score to a severity. threshold is the Normal/
// Moderate boundary; Extreme begins at twice the threshold. Boundaries are
// closed on the left: |Z| = threshold is Moderate, |Z| = 2*threshold is Extreme.
func Classify(z, threshold float64) models.Severity {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	absZ := math.Abs(z)
	switch {
	case absZ >= threshold*2:
		return models.SeverityExtreme
	case absZ >= threshold:
		return models.SeverityModerate
	default:
		return models.SeverityNormal
	}
}

// ClassifyResult maps a ScoreResult to a severity, handling undefined scores.
func ClassifyResult(r ScoreResult, threshold float64) models.Severity {
	if r.Undefined {
		return models.SeverityUndefined
	}
	return Classify(r.Z, threshold)
}

package analysis

import "math"

// DefaultThreshold is the |Z| boundary between Normal and Moderate. Extreme
// starts at twice the threshold.
const DefaultThreshold = 2.0

// ScoreResult holds the Z-score computation for one metric. Undefined is set
// when the sample is too small (< 2 values) or has zero variance; in that case
// Z is 0 and must not be interpreted.
type ScoreResult struct {
	Z          float64
	Mean       float64
	StdDev     float64
	SampleSize int
	Undefined  bool
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev returns the sample standard deviation (n-1 denominator) of
// values around mean. Returns 0 for samples with fewer than two elements.
func SampleStdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// Score computes the Z-score of current against the sample. A sample with
// fewer than two values or zero standard deviation yields an Undefined result
// rather than dividing by zero.
func Score(current float64, sample []float64) ScoreResult {
	n := len(sample)
	if n < 2 {
		return ScoreResult{SampleSize: n, Mean: Mean(sample), Undefined: true}
	}

	mean := Mean(sample)
	stdDev := SampleStdDev(sample, mean)
	if stdDev == 0 {
		return ScoreResult{Mean: mean, StdDev: stdDev, SampleSize: n, Undefined: true}
	}

	return ScoreResult{
		Z:          (current - mean) / stdDev,
		Mean:       mean,
		StdDev:     stdDev,
		SampleSize: n,
	}
}

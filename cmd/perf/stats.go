package perf

import "math"

// roundStats summarizes the ns/op of several rounds of the same benchmark
type roundStats struct {
	StdDeviation float64
	Min          float64
	Max          float64
	Mean         float64
}

// newRoundStats computes the population standard deviation, minimum,
// maximum and mean of values
func newRoundStats(values []float64) roundStats {
	if len(values) == 0 {
		return roundStats{}
	}

	min := values[0]
	max := values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	return roundStats{
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(values))),
		Min:          min,
		Max:          max,
		Mean:         mean,
	}
}

package monitor

import (
	"math"
	"sort"
)

// mean returns the arithmetic mean of values, or 0 for an empty slice
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// median returns the middle value (average of the two middle values for
// even-length input)
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// percentile computes the pth percentile using linear interpolation
// between the two nearest ranks
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) == 1 {
		return values[0]
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// stddev returns the population standard deviation of values
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sumSquares := 0.0
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

// slope returns the least-squares linear regression slope of values over
// their index positions 0..n-1
func slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	meanX := float64(n-1) / 2
	meanY := mean(values)

	numerator := 0.0
	denominator := 0.0
	for i, v := range values {
		dx := float64(i) - meanX
		numerator += dx * (v - meanY)
		denominator += dx * dx
	}
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// ewma computes the exponentially weighted moving average of values,
// seeded with the first value and blended with weight alpha
func ewma(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	smoothed := values[0]
	for _, v := range values[1:] {
		smoothed = alpha*v + (1-alpha)*smoothed
	}
	return smoothed
}

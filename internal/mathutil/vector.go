package mathutil

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SquaredDistance returns the squared Euclidean distance between a and b.
func SquaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// MinAbsDiff returns the smallest |a[i]-b[i]|. It returns +Inf for empty input.
func MinAbsDiff(a, b []float64) float64 {
	m := math.Inf(1)
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d < m {
			m = d
		}
	}
	return m
}

// MaxAbsDiff returns the largest |a[i]-b[i]|.
func MaxAbsDiff(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, math.Inf(1))
}

// SizeSpread summarises cluster sizes as mean and standard deviation.
func SizeSpread(sizes []int) (mean, std float64) {
	if len(sizes) == 0 {
		return 0, 0
	}
	xs := make([]float64, len(sizes))
	for i, s := range sizes {
		xs[i] = float64(s)
	}
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

// Package distance implements the pluggable scalar distance functions
// spec.md §2 item 2 requires: Euclidean and windowed DTW over equal-length
// numeric arrays. Non-goals (spec.md §1) exclude ad-hoc metrics beyond
// these two.
package distance

import "math"

// Func computes a distance (or squared distance, for Euclidean — see
// EuclideanSquared) between two equal-length sequences.
type Func func(a, b []float64) float64

// Euclidean returns the L2 distance between a and b. Panics if the
// sequences differ in length; callers are expected to align lengths
// upstream (preprocess.AlignUniform).
func Euclidean(a, b []float64) float64 {
	return math.Sqrt(EuclideanSquared(a, b))
}

// EuclideanSquared returns the squared L2 distance. Used directly wherever
// a threshold comparison can avoid the sqrt (R-tree MBR distance, spec.md
// §4.3 "sum over dimensions of squared axis-separation").
func EuclideanSquared(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("distance: sequences must have equal length")
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// DTW computes windowed dynamic time warping distance between a and b with
// a Sakoe-Chiba band of the given radius. radius <= 0 or radius > len(a)
// means unconstrained (band width = max(len(a), len(b))).
func DTW(a, b []float64, radius int) float64 {
	n, m := len(a), len(b)
	if radius <= 0 || radius > n {
		radius = n
		if m > radius {
			radius = m
		}
	}

	const inf = math.MaxFloat64 / 2
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := range prev {
		prev[j] = inf
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		for j := range curr {
			curr[j] = inf
		}
		lo := i - radius
		if lo < 1 {
			lo = 1
		}
		hi := i + radius
		if hi > m {
			hi = m
		}
		for j := lo; j <= hi; j++ {
			cost := a[i-1] - b[j-1]
			cost *= cost
			best := prev[j]
			if prev[j-1] < best {
				best = prev[j-1]
			}
			if curr[j-1] < best {
				best = curr[j-1]
			}
			curr[j] = cost + best
		}
		prev, curr = curr, prev
	}
	return math.Sqrt(prev[m])
}

// ByName resolves a distance function by the config.DistanceFunc string tag.
func ByName(name string) (Func, bool) {
	switch name {
	case "Euclidean":
		return Euclidean, true
	case "DTW":
		return func(a, b []float64) float64 { return DTW(a, b, 0) }, true
	default:
		return nil, false
	}
}

package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float64) {
	norm := L2Norm(x)
	if norm == 0 {
		return
	}
	for i := range x {
		x[i] /= norm
	}
}

// L2Norm returns the Euclidean norm of x.
func L2Norm(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

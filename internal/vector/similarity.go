// Package vector provides similarity helpers and a brute-force in-memory vector index.
package vector

import "math"

// CosineSimilarity returns the cosine of the angle between a and b. The
// shorter vector is treated as zero-padded to the longer one's length.
// Returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	for _, v := range a[n:] {
		na += v * v
	}
	for _, v := range b[n:] {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

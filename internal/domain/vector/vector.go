// Package vector provides the similarity math shared by search and tests.
package vector

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Returns 0 when either vector is empty or has zero magnitude, and 0 when
// the dimensions differ (callers validate dimensions before scoring).
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

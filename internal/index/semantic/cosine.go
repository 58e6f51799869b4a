package semantic

import "math"

// Cosine returns the cosine similarity dot(a,b)/(|a|*|b|) of two vectors.
// Defined as 0 when either vector has zero norm. Callers must ensure equal
// dimensions; the index validates query dimensions up front.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

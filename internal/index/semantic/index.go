// Package semantic ranks courses by embedding-space similarity to a query.
package semantic

import (
	"fmt"

	"github.com/kailas-cloud/coursedex/internal/domain"
)

// Index maps every catalog course to a fixed-dimension vector. Immutable
// after Build; safe for unsynchronized concurrent reads.
type Index struct {
	vectors map[string][]float32 // keyed by course ID
	dim     int
}

// newIndex validates dimensional consistency across all course vectors.
// The dimension is discovered from the first vector, not configured.
func newIndex(vectors map[string][]float32) (*Index, error) {
	dim := 0
	for id, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("course %s: %w", id, domain.ErrMissingVector)
		}
		if dim == 0 {
			dim = len(vec)
			continue
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("course %s has dim %d, index has dim %d: %w",
				id, len(vec), dim, domain.ErrVectorDimMismatch)
		}
	}
	return &Index{vectors: vectors, dim: dim}, nil
}

// Len returns the number of indexed courses.
func (ix *Index) Len() int { return len(ix.vectors) }

// Dim returns the vector dimensionality discovered at build time.
func (ix *Index) Dim() int { return ix.dim }

// ValidateQueryVector rejects a query vector whose dimensionality does not
// match the cached course vectors. A mismatch is a configuration error
// (wrong model or dimensions setting), not a per-course data problem.
func (ix *Index) ValidateQueryVector(vec []float32) error {
	if len(vec) != ix.dim {
		return fmt.Errorf("query dim %d, index dim %d: %w", len(vec), ix.dim, domain.ErrVectorDimMismatch)
	}
	return nil
}

// Score returns the cosine similarity between the query vector and a course
// vector. The second return is false for courses outside the index.
func (ix *Index) Score(queryVec []float32, courseID string) (float64, bool) {
	vec, ok := ix.vectors[courseID]
	if !ok {
		return 0, false
	}
	return Cosine(queryVec, vec), true
}

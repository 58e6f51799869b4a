package rec

import "github.com/kailas-cloud/coursedex/internal/domain/course"

// Recommendation is a single ranked hit. Score components are ephemeral:
// computed per request, never persisted.
type Recommendation struct {
	course   *course.Course
	combined float64
	lexical  float64 // raw BM25 score, unbounded above
	semantic float64 // raw cosine similarity in [-1, 1]
}

// NewRecommendation creates a ranked recommendation.
func NewRecommendation(c *course.Course, combined, lexical, semantic float64) Recommendation {
	return Recommendation{course: c, combined: combined, lexical: lexical, semantic: semantic}
}

// Course returns the recommended course record.
func (r *Recommendation) Course() *course.Course { return r.course }

// CombinedScore returns the blended score in [0, 1].
func (r *Recommendation) CombinedScore() float64 { return r.combined }

// LexicalScore returns the raw keyword-frequency score.
func (r *Recommendation) LexicalScore() float64 { return r.lexical }

// SemanticScore returns the raw cosine similarity.
func (r *Recommendation) SemanticScore() float64 { return r.semantic }

package recommend

import (
	"context"

	"github.com/kailas-cloud/coursedex/internal/domain/course"
)

// CatalogReader is the read-only view of a loaded course snapshot.
type CatalogReader interface {
	All() []*course.Course
	Len() int
	Version() string
	Schools() []string
	Departments() []string
	Levels() []string
}

// CatalogLoader produces a fresh catalog snapshot on build and reload.
type CatalogLoader interface {
	Load() (CatalogReader, error)
}

// LoaderFunc adapts a function to CatalogLoader.
type LoaderFunc func() (CatalogReader, error)

// Load implements CatalogLoader.
func (f LoaderFunc) Load() (CatalogReader, error) { return f() }

// LexicalIndex scores pre-tokenized query terms against one course.
type LexicalIndex interface {
	Score(queryTokens []string, courseID string) float64
}

// SemanticIndex scores a query vector against one course and validates the
// query vector's dimensionality.
type SemanticIndex interface {
	ValidateQueryVector(vec []float32) error
	Score(queryVec []float32, courseID string) (float64, bool)
	Dim() int
}

// SemanticBuilder vectorizes a catalog into a semantic index.
type SemanticBuilder interface {
	Build(ctx context.Context, courses []*course.Course) (SemanticIndex, error)
}

// SemanticBuilderFunc adapts a function to SemanticBuilder.
type SemanticBuilderFunc func(ctx context.Context, courses []*course.Course) (SemanticIndex, error)

// Build implements SemanticBuilder.
func (f SemanticBuilderFunc) Build(ctx context.Context, courses []*course.Course) (SemanticIndex, error) {
	return f(ctx, courses)
}

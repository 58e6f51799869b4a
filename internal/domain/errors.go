package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery signals a blank or whitespace-only query.
	ErrEmptyQuery = errors.New("empty query")
	// ErrQueryTooLong signals a query over the maximum length.
	ErrQueryTooLong = errors.New("query too long")
	// ErrInvalidTopK signals a non-positive top_k.
	ErrInvalidTopK = errors.New("invalid top_k")
	// ErrInvalidFilter signals a filter on an unknown field.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrIndexNotReady signals that the retrieval indexes have not been built yet.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrRetrievalUnavailable signals an embedding service failure or timeout
	// during query vectorization. Hybrid results are never served with a
	// silently zeroed semantic component.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrVectorDimMismatch signals a dimension mismatch between the query
	// vector and the cached course vectors.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrMissingVector signals a course without a cached embedding at build time.
	ErrMissingVector = errors.New("missing course vector")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrCourseNotFound signals a missing course in the catalog.
	ErrCourseNotFound = errors.New("course not found")
)

// InvalidFilterError wraps ErrInvalidFilter with the offending field name.
type InvalidFilterError struct {
	Field string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("%s: unknown field %q", ErrInvalidFilter.Error(), e.Field)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

// NewInvalidFilter creates an invalid filter error for a field name.
func NewInvalidFilter(field string) error {
	return &InvalidFilterError{Field: field}
}

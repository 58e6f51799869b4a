// Package rec holds the recommend request and result value objects.
package rec

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
)

// Request parameter limits.
const (
	// MaxQueryLength is the maximum allowed interest query length.
	MaxQueryLength = 4096
	// DefaultTopK is applied by the transport when the caller omits top_k.
	DefaultTopK = 10
	// MaxTopK caps the number of recommendations per request.
	MaxTopK = 100
)

// allowedFilterFields is the categorical filter whitelist. Every entry must
// have a matching case in course.FieldValue.
var allowedFilterFields = map[string]struct{}{
	course.FieldSchool:     {},
	course.FieldDepartment: {},
	course.FieldLevel:      {},
}

// Request is a validated recommend query.
type Request struct {
	query   string
	filters map[string]string
	topK    int
}

// New validates and normalizes recommend parameters.
// Blank queries, non-positive topK, and unknown filter fields are rejected;
// topK above MaxTopK is clamped. Empty filter values mean "no restriction"
// on that field and are dropped.
func New(query string, filters map[string]string, topK int) (Request, error) {
	if strings.TrimSpace(query) == "" {
		return Request{}, domain.ErrEmptyQuery
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query is %d chars (max %d): %w", len(query), MaxQueryLength, domain.ErrQueryTooLong)
	}
	if topK <= 0 {
		return Request{}, fmt.Errorf("top_k must be positive, got %d: %w", topK, domain.ErrInvalidTopK)
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	kept := make(map[string]string, len(filters))
	for field, value := range filters {
		if _, ok := allowedFilterFields[field]; !ok {
			return Request{}, domain.NewInvalidFilter(field)
		}
		if value == "" {
			continue
		}
		kept[field] = value
	}

	return Request{query: query, filters: kept, topK: topK}, nil
}

// Query returns the interest query text.
func (r *Request) Query() string { return r.query }

// Filters returns the conjunctive exact-match filters.
func (r *Request) Filters() map[string]string { return r.filters }

// TopK returns the requested number of recommendations.
func (r *Request) TopK() int { return r.topK }

// Matches reports whether a course satisfies every filter.
func (r *Request) Matches(c *course.Course) bool {
	for field, want := range r.filters {
		got, ok := c.FieldValue(field)
		if !ok || got != want {
			return false
		}
	}
	return true
}

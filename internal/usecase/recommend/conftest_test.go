package recommend

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
	"github.com/kailas-cloud/coursedex/internal/domain/rec"
)

// --- Mocks ---

type mockCatalog struct {
	courses []*course.Course
	version string
}

func (m *mockCatalog) All() []*course.Course { return m.courses }
func (m *mockCatalog) Len() int              { return len(m.courses) }
func (m *mockCatalog) Version() string       { return m.version }
func (m *mockCatalog) Schools() []string     { return []string{"Engineering"} }
func (m *mockCatalog) Departments() []string { return []string{"Computer Science"} }
func (m *mockCatalog) Levels() []string      { return []string{"Graduate", "Undergraduate"} }

type mockSemIndex struct {
	sims        map[string]float64
	dim         int
	validateErr error
}

func (m *mockSemIndex) ValidateQueryVector(_ []float32) error { return m.validateErr }
func (m *mockSemIndex) Dim() int                              { return m.dim }

func (m *mockSemIndex) Score(_ []float32, courseID string) (float64, bool) {
	sim, ok := m.sims[courseID]
	return sim, ok
}

type mockEmbedder struct {
	vec    []float32
	err    error
	block  bool
	called int
}

func (m *mockEmbedder) Embed(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	m.called++
	if m.block {
		<-ctx.Done()
		return domain.EmbeddingResult{}, ctx.Err()
	}
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

// --- Helpers ---

// threeCourses is the canonical example catalog: A matches "deep learning" in
// title and description, B is unrelated, C shares title terms only.
func threeCourses() []*course.Course {
	return []*course.Course{
		{
			Offering: "EN.601.482", Section: "01",
			Title: "Deep Learning", Description: "neural networks",
			Department: "Computer Science", School: "Engineering", Level: "Graduate",
		},
		{
			Offering: "EN.601.315", Section: "01",
			Title: "Databases", Description: "relational algebra",
			Department: "Computer Science", School: "Engineering", Level: "Undergraduate",
		},
		{
			Offering: "EN.601.419", Section: "01",
			Title: "Deep Databases for Learning Systems", Description: "storage for training",
			Department: "Computer Science", School: "Engineering", Level: "Graduate",
		},
	}
}

const (
	idA = "EN.601.482-01"
	idB = "EN.601.315-01"
	idC = "EN.601.419-01"
)

// newTestService wires a ready engine over the given catalog and similarities.
func newTestService(t *testing.T, courses []*course.Course, sims map[string]float64, emb *mockEmbedder) *Service {
	t.Helper()

	cat := &mockCatalog{courses: courses, version: "test"}
	loader := LoaderFunc(func() (CatalogReader, error) { return cat, nil })
	builder := SemanticBuilderFunc(func(_ context.Context, _ []*course.Course) (SemanticIndex, error) {
		return &mockSemIndex{sims: sims, dim: len(emb.vec)}, nil
	})

	svc := New(loader, builder, emb, zap.NewNop())
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return svc
}

func mustRequest(t *testing.T, query string, filters map[string]string, topK int) *rec.Request {
	t.Helper()
	r, err := rec.New(query, filters, topK)
	if err != nil {
		t.Fatalf("rec.New: %v", err)
	}
	return &r
}

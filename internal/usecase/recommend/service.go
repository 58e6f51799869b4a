// Package recommend is the hybrid retrieval engine: it blends lexical and
// semantic rankings of the course catalog into one filtered, ranked list.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
	"github.com/kailas-cloud/coursedex/internal/domain/rec"
	"github.com/kailas-cloud/coursedex/internal/index/lexical"
)

// DefaultEmbedTimeout bounds the query vectorization round-trip.
const DefaultEmbedTimeout = 10 * time.Second

// snapshot is one complete, immutable build of catalog plus both indexes.
// Queries read whichever snapshot was current when they loaded the pointer;
// a reload swaps the pointer atomically, never exposing a partial build.
type snapshot struct {
	catalog  CatalogReader
	lexical  LexicalIndex
	semantic SemanticIndex
}

// FilterOptions lists the distinct values accepted by each categorical filter.
type FilterOptions struct {
	Schools     []string
	Departments []string
	Levels      []string
}

// Service is the retrieval engine. Construct with New, then call Reload once
// before serving queries; Recommend fails with ErrIndexNotReady until the
// first build completes.
type Service struct {
	loader       CatalogLoader
	semBuilder   SemanticBuilder
	embedder     domain.Embedder
	lexOpts      lexical.Options
	weights      Weights
	embedTimeout time.Duration
	logger       *zap.Logger

	snap atomic.Pointer[snapshot]
}

// New creates the engine. No indexes are built yet; call Reload.
func New(
	loader CatalogLoader,
	semBuilder SemanticBuilder,
	embedder domain.Embedder,
	logger *zap.Logger,
) *Service {
	return &Service{
		loader:       loader,
		semBuilder:   semBuilder,
		embedder:     embedder,
		weights:      Weights{}.withDefaults(),
		embedTimeout: DefaultEmbedTimeout,
		logger:       logger,
	}
}

// WithLexicalOptions overrides BM25 parameters.
func (s *Service) WithLexicalOptions(opts lexical.Options) *Service {
	s.lexOpts = opts
	return s
}

// WithWeights overrides the blend weights.
func (s *Service) WithWeights(w Weights) *Service {
	s.weights = w.withDefaults()
	return s
}

// WithEmbedTimeout overrides the query vectorization timeout.
func (s *Service) WithEmbedTimeout(d time.Duration) *Service {
	if d > 0 {
		s.embedTimeout = d
	}
	return s
}

// Reload loads a fresh catalog snapshot, rebuilds both indexes, and swaps
// them in atomically. Concurrent queries keep reading the previous complete
// snapshot until the swap. An embedding failure aborts the reload and leaves
// the previous snapshot serving.
func (s *Service) Reload(ctx context.Context) error {
	cat, err := s.loader.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	courses := cat.All()
	lexIx := lexical.Build(courses, s.lexOpts)

	semIx, err := s.semBuilder.Build(ctx, courses)
	if err != nil {
		return fmt.Errorf("build semantic index: %w", err)
	}

	s.snap.Store(&snapshot{catalog: cat, lexical: lexIx, semantic: semIx})
	s.logger.Info("Retrieval indexes built",
		zap.Int("courses", cat.Len()),
		zap.String("catalog_version", cat.Version()),
		zap.Int("vector_dim", semIx.Dim()),
	)
	return nil
}

// Ready reports whether a complete snapshot is serving.
func (s *Service) Ready() bool {
	return s.snap.Load() != nil
}

// Filters returns the distinct filter vocabularies of the current snapshot.
func (s *Service) Filters() (FilterOptions, error) {
	snap := s.snap.Load()
	if snap == nil {
		return FilterOptions{}, domain.ErrIndexNotReady
	}
	return FilterOptions{
		Schools:     snap.catalog.Schools(),
		Departments: snap.catalog.Departments(),
		Levels:      snap.catalog.Levels(),
	}, nil
}

// CatalogInfo describes the serving snapshot.
type CatalogInfo struct {
	Version   string
	Courses   int
	VectorDim int
}

// Info returns version and size of the serving snapshot.
func (s *Service) Info() (CatalogInfo, error) {
	snap := s.snap.Load()
	if snap == nil {
		return CatalogInfo{}, domain.ErrIndexNotReady
	}
	return CatalogInfo{
		Version:   snap.catalog.Version(),
		Courses:   snap.catalog.Len(),
		VectorDim: snap.semantic.Dim(),
	}, nil
}

// Recommend ranks the catalog against the request. Filters reduce the
// candidate subset before scoring; both rankers run over the same subset;
// scores are normalized, blended, and truncated to the request's topK
// (clamped to the candidate count). An empty candidate subset yields an
// empty result, not an error.
func (s *Service) Recommend(ctx context.Context, req *rec.Request) ([]rec.Recommendation, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, domain.ErrIndexNotReady
	}

	candidates := filterCandidates(snap.catalog.All(), req)
	if len(candidates) == 0 {
		return []rec.Recommendation{}, nil
	}

	queryVec, err := s.embedQuery(ctx, req.Query())
	if err != nil {
		return nil, err
	}
	if err := snap.semantic.ValidateQueryVector(queryVec); err != nil {
		return nil, err
	}

	queryTokens := lexical.Tokenize(req.Query())

	lexRaw := make([]float64, len(candidates))
	semRaw := make([]float64, len(candidates))
	for i, c := range candidates {
		lexRaw[i] = snap.lexical.Score(queryTokens, c.ID())
		sim, ok := snap.semantic.Score(queryVec, c.ID())
		if !ok {
			// Build-time policy guarantees every course a vector; a miss here
			// means the snapshot is inconsistent.
			return nil, fmt.Errorf("course %s: %w", c.ID(), domain.ErrMissingVector)
		}
		semRaw[i] = sim
	}

	return combine(candidates, lexRaw, semRaw, s.weights, req.TopK()), nil
}

// embedQuery vectorizes the query text with a bounded timeout. Any provider
// failure surfaces as ErrRetrievalUnavailable: the engine never degrades to
// lexical-only scoring, because a hybrid result with a silently zeroed
// semantic component would misrepresent ranking quality.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	res, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("vectorize query timed out: %w", domain.ErrRetrievalUnavailable)
		}
		return nil, fmt.Errorf("vectorize query: %w: %w", domain.ErrRetrievalUnavailable, err)
	}
	return res.Embedding, nil
}

// filterCandidates applies the conjunctive categorical filters. Filters are
// scoring-independent, so applying them before scoring is equivalent to
// applying them after.
func filterCandidates(all []*course.Course, req *rec.Request) []*course.Course {
	if len(req.Filters()) == 0 {
		return all
	}
	out := make([]*course.Course, 0, len(all))
	for _, c := range all {
		if req.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

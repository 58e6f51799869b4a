package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
)

// Build concurrency defaults.
const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// VectorCache persists vectors keyed by (course id, content hash).
type VectorCache interface {
	Get(ctx context.Context, courseID, contentHash string) ([]float32, bool)
	Put(ctx context.Context, courseID, contentHash string, vec []float32) error
}

// Builder vectorizes the catalog and assembles the semantic index.
type Builder struct {
	embedder    domain.Embedder
	cache       VectorCache
	batchSize   int
	concurrency int
	logger      *zap.Logger
}

// NewBuilder creates a semantic index builder.
func NewBuilder(embedder domain.Embedder, cache VectorCache, logger *zap.Logger) *Builder {
	return &Builder{
		embedder:    embedder,
		cache:       cache,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
}

// WithBatching overrides batch size and worker count.
func (b *Builder) WithBatching(batchSize, concurrency int) *Builder {
	if batchSize > 0 {
		b.batchSize = batchSize
	}
	if concurrency > 0 {
		b.concurrency = concurrency
	}
	return b
}

// Build produces the index for the full catalog. Cached vectors are reused;
// the rest are fetched from the embedding service in concurrent batches and
// written back to the cache. Any embedding failure aborts the build: a course
// without a vector is a fatal configuration error, never a silent zero score.
func (b *Builder) Build(ctx context.Context, courses []*course.Course) (*Index, error) {
	vectors := make(map[string][]float32, len(courses))
	var missing []*course.Course

	for _, c := range courses {
		if vec, ok := b.cache.Get(ctx, c.ID(), c.ContentHash()); ok {
			vectors[c.ID()] = vec
			continue
		}
		missing = append(missing, c)
	}

	b.logger.Info("Building semantic index",
		zap.Int("courses", len(courses)),
		zap.Int("cached", len(vectors)),
		zap.Int("to_vectorize", len(missing)),
	)

	if len(missing) > 0 {
		if err := b.vectorize(ctx, missing, vectors); err != nil {
			return nil, err
		}
	}

	return newIndex(vectors)
}

// vectorize embeds the given courses in batches over a bounded worker pool
// and merges the results into vectors.
func (b *Builder) vectorize(ctx context.Context, courses []*course.Course, vectors map[string][]float32) error {
	pool, err := ants.NewPool(b.concurrency)
	if err != nil {
		return fmt.Errorf("create embed pool: %w", err)
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)

	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for start := 0; start < len(courses); start += b.batchSize {
		end := min(start+b.batchSize, len(courses))
		batch := courses[start:end]

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				setErr(ctx.Err())
				return
			}
			embeddings, err := b.embedBatch(ctx, batch)
			if err != nil {
				setErr(err)
				return
			}
			mu.Lock()
			for i, c := range batch {
				vectors[c.ID()] = embeddings[i]
			}
			mu.Unlock()
			b.persistBatch(ctx, batch, embeddings)
		})
		if submitErr != nil {
			wg.Done()
			setErr(fmt.Errorf("submit embed batch: %w", submitErr))
			break
		}
	}

	wg.Wait()
	return firstErr
}

func (b *Builder) embedBatch(ctx context.Context, batch []*course.Course) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.EmbedText()
	}

	var (
		res domain.BatchEmbeddingResult
		err error
	)
	if be, ok := b.embedder.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, texts)
	} else {
		res, err = domain.BatchFallback(ctx, b.embedder, texts)
	}
	if err != nil {
		return nil, fmt.Errorf("vectorize batch of %d: %w", len(batch), err)
	}
	if len(res.Embeddings) != len(batch) {
		return nil, fmt.Errorf("vectorize batch: got %d embeddings for %d texts: %w",
			len(res.Embeddings), len(batch), domain.ErrEmbeddingProviderError)
	}
	return res.Embeddings, nil
}

// persistBatch writes vectors back to the cache. Persistence failures only
// cost a re-vectorization on the next start, so they are logged, not fatal.
func (b *Builder) persistBatch(ctx context.Context, batch []*course.Course, embeddings [][]float32) {
	for i, c := range batch {
		if err := b.cache.Put(ctx, c.ID(), c.ContentHash(), embeddings[i]); err != nil {
			b.logger.Warn("Failed to persist course vector",
				zap.String("course_id", c.ID()), zap.Error(err))
		}
	}
}

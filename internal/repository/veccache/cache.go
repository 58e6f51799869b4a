// Package veccache persists course embedding vectors in a key-value store so
// process restarts skip re-vectorization.
package veccache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/db"
)

const keyPrefix = "coursedex:vec:"

// store is the consumer interface for the vector cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Cache stores one vector per (course id, content hash). Keying by content
// hash means a course whose text changed misses the cache and is
// re-vectorized instead of served a stale vector.
type Cache struct {
	store      store
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a vector cache. cacheTotal is a counter vec with label
// "result" ("hit"/"miss"), passed explicitly; may be nil.
func New(s store, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{store: s, cacheTotal: cacheTotal, logger: logger}
}

// Get returns the cached vector for a course at a specific content hash.
func (c *Cache) Get(ctx context.Context, courseID, contentHash string) ([]float32, bool) {
	data, err := c.store.Get(ctx, cacheKey(courseID, contentHash))
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached vector",
				zap.String("course_id", courseID), zap.Error(err))
		}
		c.incCache("miss")
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil || len(vec) == 0 {
		c.logger.Warn("Failed to parse cached vector",
			zap.String("course_id", courseID), zap.Error(err))
		c.incCache("miss")
		return nil, false
	}

	c.incCache("hit")
	return vec, true
}

// Put stores a vector for a course at a specific content hash.
func (c *Cache) Put(ctx context.Context, courseID, contentHash string, vec []float32) error {
	if err := c.store.Set(ctx, cacheKey(courseID, contentHash), vectorToBytes(vec)); err != nil {
		return fmt.Errorf("cache vector for %s: %w", courseID, err)
	}
	return nil
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func cacheKey(courseID, contentHash string) string {
	return keyPrefix + courseID + ":" + contentHash
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

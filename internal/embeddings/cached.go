package embeddings

import (
	"context"
	"sync/atomic"

	"github.com/contex-io/contex/pkg/contracts"
)

// CachedEncoder wraps a driver with the content-addressed cache so each
// distinct text is embedded at most once per TTL window.
type CachedEncoder struct {
	driver contracts.EmbeddingDriver
	cache  contracts.EmbeddingCache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEncoder wraps driver with cache. A nil cache disables caching.
func NewCachedEncoder(driver contracts.EmbeddingDriver, cache contracts.EmbeddingCache) *CachedEncoder {
	return &CachedEncoder{driver: driver, cache: cache}
}

func (e *CachedEncoder) Kind() string      { return e.driver.Kind() }
func (e *CachedEncoder) Dimensions() int   { return e.driver.Dimensions() }
func (e *CachedEncoder) MaxBatchSize() int { return e.driver.MaxBatchSize() }

// Encode resolves each text from the cache, batches the misses through
// the driver, and back-fills the cache. Output order matches input.
func (e *CachedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if e.cache == nil {
		return e.driver.Encode(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, t := range texts {
		if vec, ok := e.cache.Get(ctx, t); ok {
			vectors[i] = vec
			e.hits.Add(1)
			continue
		}
		e.misses.Add(1)
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		encoded, err := e.driver.Encode(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range encoded {
			vectors[missIdx[j]] = vec
			e.cache.Set(ctx, missTexts[j], vec)
		}
	}
	return vectors, nil
}

// EncodeOne embeds a single text through the cache.
func (e *CachedEncoder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// HealthCheck delegates to the underlying driver.
func (e *CachedEncoder) HealthCheck(ctx context.Context) error {
	return e.driver.HealthCheck(ctx)
}

// Stats reports cache hit/miss counters.
func (e *CachedEncoder) Stats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

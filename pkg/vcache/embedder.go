package vcache

import "context"

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// CachedEmbedder fronts an Embedder with a Cache, keyed by the input text.
type CachedEmbedder struct {
	inner Embedder
	cache *Cache
}

// NewCachedEmbedder wraps inner with the given cache.
func NewCachedEmbedder(inner Embedder, cache *Cache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Embed returns the cached vector when present, otherwise calls through
// and stores the result. Provider failures are never cached.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}
	v, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Put(text, v)
	return v, nil
}

// EmbedBatch serves cached texts locally and forwards only the misses in
// one provider call, preserving input order in the result.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := e.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range fetched {
		e.cache.Put(missing[j], v)
		out[missingIdx[j]] = v
	}
	return out, nil
}

// Stats exposes the underlying cache counters.
func (e *CachedEmbedder) Stats() Stats { return e.cache.Stats() }

package llm

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/tmc/langchaingo/llms/ollama"
)

// EmbeddingError reports a failed embedding call. The batch that caused
// it is not partially committed; the caller may retry the whole batch.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// EmbedderConfig configures the embedding provider. QueryPrefix and
// PassagePrefix support models with query/document asymmetry (e5-style
// "query: " / "passage: "); both default to empty for symmetric models.
type EmbedderConfig struct {
	Model         string
	BaseURL       string
	Dimension     int
	QueryPrefix   string
	PassagePrefix string
	Normalize     bool
	CacheSize     int
}

// CacheStats reports embedding cache effectiveness.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// embeddingClient is the slice of the underlying model the embedder
// needs. *ollama.LLM satisfies it.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder converts text into fixed-dimension vectors, caching results
// keyed by model identity and prefixed text.
type Embedder struct {
	config EmbedderConfig
	client embeddingClient

	mu     sync.Mutex
	cache  map[string][]float32
	hits   int64
	misses int64
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.CacheSize == 0 {
		config.CacheSize = 10000
	}

	client, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return newEmbedder(config, client), nil
}

func newEmbedder(config EmbedderConfig, client embeddingClient) *Embedder {
	return &Embedder{
		config: config,
		client: client,
		cache:  make(map[string][]float32),
	}
}

func (e *Embedder) ModelName() string { return e.config.Model }

func (e *Embedder) Dimension() int { return e.config.Dimension }

// Embed returns one vector per input text, in input order. Cached texts
// are served without a model call; the remainder goes out as a single
// batch. The batch is all-or-nothing: on failure nothing is cached and
// no partial result is returned.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	e.mu.Lock()
	for i, text := range texts {
		key := e.cacheKey(e.config.PassagePrefix + text)
		if vec, ok := e.cache[key]; ok {
			vectors[i] = vec
			e.hits++
		} else {
			missing = append(missing, e.config.PassagePrefix+text)
			missingIdx = append(missingIdx, i)
			e.misses++
		}
	}
	e.mu.Unlock()

	if len(missing) == 0 {
		return vectors, nil
	}

	computed, err := e.client.CreateEmbedding(ctx, missing)
	if err != nil {
		return nil, &EmbeddingError{Model: e.config.Model, Err: err}
	}
	if len(computed) != len(missing) {
		return nil, &EmbeddingError{
			Model: e.config.Model,
			Err:   fmt.Errorf("model returned %d vectors for %d texts", len(computed), len(missing)),
		}
	}

	// Check every vector before caching anything so a shape failure
	// leaves the cache untouched, same as a call failure.
	for _, vec := range computed {
		if len(vec) != e.config.Dimension {
			return nil, &EmbeddingError{
				Model: e.config.Model,
				Err:   fmt.Errorf("vector dimension %d, expected %d", len(vec), e.config.Dimension),
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for j, vec := range computed {
		if e.config.Normalize {
			vec = normalizeL2(vec)
		}
		vectors[missingIdx[j]] = vec
		if len(e.cache) < e.config.CacheSize {
			e.cache[e.cacheKey(missing[j])] = vec
		}
	}

	return vectors, nil
}

// EmbedQuery embeds a single query with the query-side prefix.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	prefixed := e.config.QueryPrefix + text

	e.mu.Lock()
	if vec, ok := e.cache[e.cacheKey(prefixed)]; ok {
		e.hits++
		e.mu.Unlock()
		return vec, nil
	}
	e.misses++
	e.mu.Unlock()

	computed, err := e.client.CreateEmbedding(ctx, []string{prefixed})
	if err != nil {
		return nil, &EmbeddingError{Model: e.config.Model, Err: err}
	}
	if len(computed) != 1 || len(computed[0]) != e.config.Dimension {
		return nil, &EmbeddingError{
			Model: e.config.Model,
			Err:   fmt.Errorf("unexpected embedding shape for query"),
		}
	}

	vec := computed[0]
	if e.config.Normalize {
		vec = normalizeL2(vec)
	}

	e.mu.Lock()
	if len(e.cache) < e.config.CacheSize {
		e.cache[e.cacheKey(prefixed)] = vec
	}
	e.mu.Unlock()

	return vec, nil
}

// Stats returns cache hit/miss counters.
func (e *Embedder) Stats() CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CacheStats{Size: len(e.cache), Hits: e.hits, Misses: e.misses}
}

// cacheKey includes model identity so a model switch never serves a
// stale vector.
func (e *Embedder) cacheKey(text string) string {
	return e.config.Model + "\x00" + text
}

func normalizeL2(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

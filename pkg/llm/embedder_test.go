package llm

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient produces deterministic vectors and counts model calls.
type fakeClient struct {
	dim   int
	calls int
	fail  error
}

func (f *fakeClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32(len(text)+i+j) + 1
		}
		out[i] = vec
	}
	return out, nil
}

func testConfig(dim int) EmbedderConfig {
	return EmbedderConfig{
		Model:     "test-model",
		Dimension: dim,
		CacheSize: 100,
	}
}

func TestEmbed_PreservesOrder(t *testing.T) {
	client := &fakeClient{dim: 4}
	e := newEmbedder(testConfig(4), client)

	texts := []string{"alpha", "bb", "gamma gamma"}
	vectors, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// Vector i must derive from text i
	for i, text := range texts {
		assert.Equal(t, float32(len(text)+i+1), vectors[i][0])
	}
}

func TestEmbed_CacheHitOnSecondCall(t *testing.T) {
	client := &fakeClient{dim: 4}
	e := newEmbedder(testConfig(4), client)

	first, err := e.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)

	stats := e.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	second, err := e.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls, "cached text must not hit the model")

	stats = e.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	assert.Equal(t, first[0], second[0], "cached vector must be bit-identical")
}

func TestEmbed_PartialCacheStillOrdersCorrectly(t *testing.T) {
	client := &fakeClient{dim: 4}
	e := newEmbedder(testConfig(4), client)

	_, err := e.Embed(context.Background(), []string{"cached"})
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"new one", "cached", "another"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(len("cached")+0+1), vectors[1][0])
}

func TestEmbed_BatchFailureIsAllOrNothing(t *testing.T) {
	client := &fakeClient{dim: 4, fail: fmt.Errorf("model down")}
	e := newEmbedder(testConfig(4), client)

	_, err := e.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)

	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, "test-model", embErr.Model)
	assert.Equal(t, 0, e.Stats().Size, "failed batch must not populate the cache")
}

func TestEmbed_DimensionMismatchFails(t *testing.T) {
	client := &fakeClient{dim: 3}
	e := newEmbedder(testConfig(4), client)

	_, err := e.Embed(context.Background(), []string{"text"})
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
}

// skewedClient returns a valid vector for the first text and a
// wrong-dimension vector for every later one.
type skewedClient struct {
	dim int
}

func (c *skewedClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		d := c.dim
		if i > 0 {
			d = c.dim - 1
		}
		out[i] = make([]float32, d)
	}
	return out, nil
}

func TestEmbed_MidBatchShapeFailureLeavesCacheEmpty(t *testing.T) {
	e := newEmbedder(testConfig(4), &skewedClient{dim: 4})

	_, err := e.Embed(context.Background(), []string{"good", "bad"})
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 0, e.Stats().Size, "a shape failure must not populate the cache")
}

func TestEmbedQuery_AppliesQueryPrefix(t *testing.T) {
	client := &fakeClient{dim: 4}
	config := testConfig(4)
	config.QueryPrefix = "query: "
	config.PassagePrefix = "passage: "
	e := newEmbedder(config, client)

	_, err := e.Embed(context.Background(), []string{"shared"})
	require.NoError(t, err)

	// Different prefix means a different cache key: the query-mode
	// embedding of the same text must miss.
	_, err = e.EmbedQuery(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)

	_, err = e.EmbedQuery(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls, "second query embedding must be cached")
}

func TestEmbed_Normalization(t *testing.T) {
	client := &fakeClient{dim: 4}
	config := testConfig(4)
	config.Normalize = true
	e := newEmbedder(config, client)

	vectors, err := e.Embed(context.Background(), []string{"normalize me"})
	require.NoError(t, err)

	var sum float64
	for _, v := range vectors[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}

func TestEmbed_EmptyInput(t *testing.T) {
	client := &fakeClient{dim: 4}
	e := newEmbedder(testConfig(4), client)

	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, 0, client.calls)
}

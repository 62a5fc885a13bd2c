package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thothlabs/thoth/internal/errors"
)

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStatic_UnitNormAndShape(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	texts := []string{"hello world", "a longer piece of text about databases", "short"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for _, v := range vecs {
		assert.Len(t, v, StaticDimensions)
		assert.InDelta(t, 1.0, vectorNorm(v), 1e-5)
	}
}

func TestStatic_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	a, err := e.Embed(context.Background(), "deterministic input")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "deterministic input")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := e.Embed(context.Background(), "different input")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestStatic_RejectsBlankInput(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()
	ctx := context.Background()

	_, err := e.EmbedBatch(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	_, err = e.EmbedBatch(ctx, []string{"fine", "   \t\n"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	_, err = e.Embed(ctx, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestStatic_ClosedEmbedderFails(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
}

// countingEmbedder records how many texts reach the inner embedder.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int64
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCached_ServesHitsWithoutInnerCalls(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	e := NewCachedEmbedder(inner, 10)
	defer e.Close()
	ctx := context.Background()

	first, err := e.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())

	second, err := e.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	// Only the new text reaches the inner embedder.
	assert.EqualValues(t, 3, inner.calls.Load())
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, first[1], second[1])

	assert.Equal(t, inner.Dimensions(), e.Dimensions())
	assert.Equal(t, inner.ModelName(), e.ModelName())
}

func TestOllama_EmbedBatch(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		out := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			out.Embeddings[i] = []float32{3, 4, 0, 0}
		}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:       srv.URL,
		Model:      "test-model",
		Dimensions: 4,
		SkipProbe:  true,
	})
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.EqualValues(t, 1, requests.Load())

	// Server vectors are normalized before returning.
	assert.InDelta(t, 0.6, float64(vecs[0][0]), 1e-5)
	assert.InDelta(t, 0.8, float64(vecs[0][1]), 1e-5)
	assert.InDelta(t, 1.0, vectorNorm(vecs[0]), 1e-5)

	assert.Equal(t, 4, e.Dimensions())
	assert.Equal(t, "test-model", e.ModelName())
}

func TestOllama_DimensionProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := ollamaEmbedResponse{Embeddings: [][]float32{make([]float32, 8)}}
		out.Embeddings[0][0] = 1
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 8, e.Dimensions())
}

func TestOllama_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := ollamaEmbedResponse{Embeddings: [][]float32{{1, 2}}}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, SkipProbe: true,
	})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}

func TestOllama_ClientErrorNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, SkipProbe: true,
	})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.EqualValues(t, 1, requests.Load(), "4xx responses must not be retried")
}

func TestNewEmbedder_EnvOverride(t *testing.T) {
	t.Setenv("EMBEDDER", "static")
	t.Setenv("EMBED_CACHE", "off")

	e, err := NewEmbedder(context.Background(), ProviderOllama)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, "static", e.ModelName())
	assert.IsType(t, &StaticEmbedder{}, e)
}

func TestNewEmbedder_DefaultWrapsCache(t *testing.T) {
	t.Setenv("EMBEDDER", "")
	t.Setenv("EMBED_CACHE", "")

	e, err := NewEmbedder(context.Background(), ProviderStatic)
	require.NoError(t, err)
	defer e.Close()
	assert.IsType(t, &CachedEmbedder{}, e)
}

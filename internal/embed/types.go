// Package embed generates dense vector embeddings for chunk text.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// StaticDimensions is the embedding dimension of the hash-based embedder.
	StaticDimensions = 256

	// DefaultOllamaDimensions is the embedding dimension assumed for Ollama
	// models when detection is skipped.
	DefaultOllamaDimensions = 768

	// DefaultOllamaHost is the Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the embedding model requested from Ollama.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultRequestTimeout bounds a single embedding HTTP request.
	DefaultRequestTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text. All vectors are
// L2-normalized, so cosine distance equals 1 - dot(u, v).
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	// The input must be non-empty and every entry must contain non-space
	// characters.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, stable for the life of
	// the embedder.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit L2 norm in place. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
	return v
}

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/thothlabs/thoth/internal/errors"
)

// OllamaConfig configures the Ollama HTTP embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int
	Timeout    time.Duration

	// SkipProbe disables the startup dimension probe, for tests.
	SkipProbe bool
}

// OllamaEmbedder generates embeddings through Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client *http.Client
	config OllamaConfig
	dims   int
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama embedder and probes the model's
// dimension unless one is configured.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	e := &OllamaEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		dims:   cfg.Dimensions,
	}

	if e.dims == 0 && !cfg.SkipProbe {
		probe, err := e.request(ctx, []string{"dimension probe"})
		if err != nil {
			return nil, err
		}
		if len(probe) == 0 || len(probe[0]) == 0 {
			return nil, errors.Internal("ollama returned an empty probe embedding", nil)
		}
		e.dims = len(probe[0])
	}
	if e.dims == 0 {
		e.dims = DefaultOllamaDimensions
	}

	return e, nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Transient HTTP
// failures are retried with backoff.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}

	vecs, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
		return e.request(ctx, texts)
	})
	if err != nil {
		return nil, err
	}

	if len(vecs) != len(texts) {
		return nil, errors.Internal(fmt.Sprintf(
			"ollama returned %d embeddings for %d inputs", len(vecs), len(texts)), nil)
	}
	for i := range vecs {
		if e.dims > 0 && len(vecs[i]) != e.dims {
			return nil, errors.New(errors.ErrCodeDimensionMismatch, fmt.Sprintf(
				"embedding %d has dimension %d, want %d", i, len(vecs[i]), e.dims), nil)
		}
		vecs[i] = normalizeVector(vecs[i])
	}
	return vecs, nil
}

// request performs one /api/embed call.
func (e *OllamaEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, errors.Internal("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Internal("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetworkTimeout, "ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := errors.New(errors.ErrCodeEmbeddingFailed, fmt.Sprintf(
			"ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
		if resp.StatusCode >= 500 {
			err.Retryable = true
		}
		return nil, err
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "decode embed response", err)
	}
	return out.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

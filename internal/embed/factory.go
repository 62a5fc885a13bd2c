package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Provider selects an embedding backend.
type Provider string

const (
	// ProviderStatic uses hash-based embeddings. No external service.
	ProviderStatic Provider = "static"

	// ProviderOllama uses an Ollama server for real model embeddings.
	ProviderOllama Provider = "ollama"
)

// NewEmbedder creates an embedder for the given provider. The EMBEDDER
// environment variable overrides the argument; THOTH_OLLAMA_HOST and
// THOTH_OLLAMA_MODEL configure the Ollama backend. All embedders are
// wrapped with an LRU cache unless EMBED_CACHE disables it.
func NewEmbedder(ctx context.Context, provider Provider) (Embedder, error) {
	if env := os.Getenv("EMBEDDER"); env != "" {
		provider = Provider(strings.ToLower(env))
	}
	if provider == "" {
		provider = ProviderStatic
	}

	var (
		embedder Embedder
		err      error
	)
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()
	case ProviderOllama:
		embedder, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:  os.Getenv("THOTH_OLLAMA_HOST"),
			Model: os.Getenv("THOTH_OLLAMA_MODEL"),
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("embedder ready",
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if !cacheDisabled() {
		embedder = NewCachedEmbedder(embedder, DefaultCacheSize)
	}
	return embedder, nil
}

func cacheDisabled() bool {
	switch strings.ToLower(os.Getenv("EMBED_CACHE")) {
	case "false", "0", "off", "disabled":
		return true
	default:
		return false
	}
}

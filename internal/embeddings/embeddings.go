// Package embeddings provides embedding generation via multiple providers.
//
// Embeddings are required for every downstream decision (cache lookup,
// vector search, writeback), so there is no degraded mode: any failure
// propagates as a hard error to the caller.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
//
// EmbedDocuments preserves input order: the vector at index i always
// belongs to the text at index i.
type Provider interface {
	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type: "openai" or "gemini".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// APIKey is the provider API key.
	APIKey string `koanf:"api_key"`

	// BaseURL overrides the provider API endpoint. Optional.
	BaseURL string `koanf:"base_url"`

	// BatchSize is the maximum texts per upstream request (default 20).
	BatchSize int `koanf:"batch_size"`

	// BatchInterval is the minimum spacing between sub-batches, expressed
	// as requests-per-second budget of the upstream provider (default 2/s).
	BatchPerSecond float64 `koanf:"batch_per_second"`
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates an embedding provider based on the configuration,
// wrapped with rate-limit-aware batching.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "openai", "":
		base, err = NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "gemini":
		base, err = NewGeminiProvider(ctx, GeminiConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewBatchProvider(base, BatchConfig{
		BatchSize:      cfg.BatchSize,
		BatchPerSecond: cfg.BatchPerSecond,
	}), nil
}

// dimensionForModel returns the embedding dimension for known model names.
// Falls back to fallback when the model is unknown.
func dimensionForModel(model string, fallback int) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-004":
		return 768
	case "gemini-embedding-001":
		return 3072
	default:
		return fallback
	}
}

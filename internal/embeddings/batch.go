package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Batching defaults. Providers throttle large embedding bursts, so
// ingestion-sized inputs are split into fixed-size sub-batches issued
// sequentially with a short delay between them.
const (
	DefaultBatchSize      = 20
	DefaultBatchPerSecond = 2
)

// BatchConfig holds configuration for the batching wrapper.
type BatchConfig struct {
	// BatchSize is the maximum texts per upstream request (default 20).
	BatchSize int

	// BatchPerSecond is the sub-batch rate budget (default 2/s).
	BatchPerSecond float64
}

// ApplyDefaults sets default values for unset fields.
func (c *BatchConfig) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPerSecond <= 0 {
		c.BatchPerSecond = DefaultBatchPerSecond
	}
}

// BatchProvider wraps a Provider and splits large EmbedDocuments calls
// into rate-limited sub-batches. Output order matches input order: each
// sub-batch result is appended in sequence.
type BatchProvider struct {
	inner   Provider
	config  BatchConfig
	limiter *rate.Limiter
}

// NewBatchProvider wraps a provider with batching.
func NewBatchProvider(inner Provider, cfg BatchConfig) *BatchProvider {
	cfg.ApplyDefaults()
	return &BatchProvider{
		inner:   inner,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.BatchPerSecond), 1),
	}
}

// EmbedQuery delegates to the wrapped provider.
func (b *BatchProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return b.inner.EmbedQuery(ctx, text)
}

// EmbedDocuments splits texts into sub-batches, issues them sequentially
// respecting the rate budget, and concatenates results in input order.
// Any sub-batch failure aborts the whole call.
func (b *BatchProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.config.BatchSize {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limit: %w", err)
		}

		end := start + b.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := b.inner.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// Dimension returns the wrapped provider's dimension.
func (b *BatchProvider) Dimension() int {
	return b.inner.Dimension()
}

// Close closes the wrapped provider.
func (b *BatchProvider) Close() error {
	return b.inner.Close()
}

package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultGeminiEmbeddingModel is used when no model is configured.
const DefaultGeminiEmbeddingModel = "text-embedding-004"

// GeminiConfig holds configuration for the Gemini embedding provider.
type GeminiConfig struct {
	// APIKey is the Gemini API key (required).
	APIKey string

	// Model is the embedding model (default: text-embedding-004).
	Model string
}

// GeminiProvider generates embeddings via the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
	metrics   *Metrics
}

// NewGeminiProvider creates a new Gemini embedding provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiEmbeddingModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		dimension: dimensionForModel(cfg.Model, 768),
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments generates embeddings for multiple texts, preserving order.
func (p *GeminiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, nil)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	if len(resp.Embeddings) != len(texts) {
		genErr = fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(resp.Embeddings), len(texts))
		return nil, genErr
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *GeminiProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op, the underlying client is stateless HTTP.
func (p *GeminiProvider) Close() error {
	return nil
}

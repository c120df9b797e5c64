// Package cache implements a semantic response cache. Answered
// questions are stored with their query embeddings; a later question
// that is close enough in embedding space reuses the stored answer
// without touching the LLM.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLookupFailed indicates a cache lookup could not be performed.
	// Callers should treat it as a miss.
	ErrLookupFailed = errors.New("cache lookup failed")
)

// timeNow is a variable for testing.
var timeNow = time.Now

const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// cache hit.
	DefaultSimilarityThreshold = 0.85

	// DefaultRecentWindow is how many recent entries per owner are
	// compared on lookup.
	DefaultRecentWindow = 100
)

// Entry is a cached question/answer pair with its query embedding.
type Entry struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	Source          string    `json:"source"`
	Model           string    `json:"model"`
	DocumentSources []string  `json:"document_sources,omitempty"`
	Embedding       []float32 `json:"-"`
	UsageCount      int       `json:"usage_count"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
}

// Repository persists cache entries.
type Repository interface {
	// Insert stores a new entry.
	Insert(ctx context.Context, entry Entry) error

	// Recent returns up to limit entries for the owner, newest first.
	Recent(ctx context.Context, owner string, limit int) ([]Entry, error)

	// Touch increments the usage count and updates last_used_at.
	Touch(ctx context.Context, id string, lastUsedAt time.Time) error

	// DeleteOlderThan removes entries last used before the cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Embedder produces query embeddings for cache comparison.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Result is the outcome of a cache lookup.
type Result struct {
	Hit        bool
	Entry      *Entry
	Similarity float64
}

// Config holds semantic cache configuration.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity for a hit.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// RecentWindow is how many recent entries per owner to compare.
	RecentWindow int `koanf:"recent_window"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = DefaultRecentWindow
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold must be in [0, 1], got %v", ErrInvalidConfig, c.SimilarityThreshold)
	}
	if c.RecentWindow < 0 {
		return fmt.Errorf("%w: recent window must be non-negative, got %d", ErrInvalidConfig, c.RecentWindow)
	}
	return nil
}

// Cache is the semantic cache service.
type Cache struct {
	repo     Repository
	embedder Embedder
	cfg      Config
	logger   *zap.Logger
}

// New creates a semantic cache.
func New(repo Repository, embedder Embedder, cfg Config, logger *zap.Logger) (*Cache, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{repo: repo, embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Lookup searches the owner's recent entries for a semantically
// equivalent question. A hit touches the entry's usage stats. Errors
// mean the lookup could not run; the caller decides whether that is
// fatal (the engine treats it as a miss).
func (c *Cache) Lookup(ctx context.Context, owner, question string) (Result, error) {
	tracer := otel.Tracer("answerd.cache")
	ctx, span := tracer.Start(ctx, "cache.lookup")
	defer span.End()

	vector, err := c.embedder.EmbedQuery(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return Result{}, fmt.Errorf("%w: embed question: %w", ErrLookupFailed, err)
	}

	entries, err := c.repo.Recent(ctx, owner, c.cfg.RecentWindow)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository failed")
		return Result{}, fmt.Errorf("%w: load recent entries: %w", ErrLookupFailed, err)
	}

	span.SetAttributes(attribute.Int("cache.candidates", len(entries)))

	// Strict > keeps the first-seen entry among equal maxima.
	best := -1
	bestScore := 0.0
	for i := range entries {
		score := Cosine(vector, entries[i].Embedding)
		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best == -1 || bestScore < c.cfg.SimilarityThreshold {
		span.SetStatus(codes.Ok, "miss")
		return Result{Hit: false, Similarity: bestScore}, nil
	}

	hit := entries[best]
	if err := c.repo.Touch(ctx, hit.ID, timeNow().UTC()); err != nil {
		// A stale usage counter is not worth failing the hit for.
		c.logger.Warn("cache touch failed",
			zap.String("entry_id", hit.ID),
			zap.Error(err),
		)
	}

	span.SetAttributes(attribute.Float64("cache.similarity", bestScore))
	span.SetStatus(codes.Ok, "hit")
	return Result{Hit: true, Entry: &hit, Similarity: bestScore}, nil
}

// Store persists an answered question for future lookups.
func (c *Cache) Store(ctx context.Context, owner, question, answer, source, model string, documentSources []string, embedding []float32) error {
	tracer := otel.Tracer("answerd.cache")
	ctx, span := tracer.Start(ctx, "cache.store")
	defer span.End()

	now := timeNow().UTC()
	entry := Entry{
		ID:              uuid.New().String(),
		Owner:           owner,
		Question:        question,
		Answer:          answer,
		Source:          source,
		Model:           model,
		DocumentSources: documentSources,
		Embedding:       embedding,
		UsageCount:      1,
		CreatedAt:       now,
		LastUsedAt:      now,
	}

	if err := c.repo.Insert(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return fmt.Errorf("store cache entry: %w", err)
	}

	span.SetStatus(codes.Ok, "stored")
	return nil
}

// EvictOlderThan removes entries not used in the last N days and
// returns how many were removed.
func (c *Cache) EvictOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive, got %d", ErrInvalidConfig, days)
	}

	cutoff := timeNow().UTC().AddDate(0, 0, -days)
	removed, err := c.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict cache entries: %w", err)
	}

	c.logger.Info("cache eviction completed",
		zap.Int("days", days),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// Cosine computes the cosine similarity of two vectors. Mismatched
// lengths or a zero-norm vector yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("answerd.vectorstore.chromem")

// ChromemConfig holds configuration for chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/answerd/vectorstore"
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// Collection is the collection name.
	// Default: "answerd_knowledge"
	Collection string `koanf:"collection"`

	// VectorSize is the expected embedding dimension.
	// Must match the embedding provider's output dimension.
	VectorSize int `koanf:"vector_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/answerd/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "answerd_knowledge"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements the Store interface using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, persistence to gob files.
// Vectors are always supplied precomputed, so the store never calls an
// embedding provider itself.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
	ready  atomic.Bool
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}
	store.ready.Store(true)

	logger.Info("ChromemStore initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection", config.Collection),
	)

	return store, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// rejectEmbeddingFunc is installed as the collection embedding func. All
// vectors reach the store precomputed; a call here means a caller forgot one.
func rejectEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: vectors must be precomputed", ErrNotSupported)
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}
	return collection, nil
}

// Upsert stores chunks with their precomputed vectors.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if !s.ready.Load() {
		return ErrStoreNotReady
	}
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if len(chunks) != len(vectors) {
		span.SetStatus(codes.Error, "length mismatch")
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = fmt.Sprintf("chunk_%d_%d", timeNow().UnixNano(), i)
			s.logger.Warn("auto-generated chunk ID - caller should provide explicit IDs",
				zap.String("generated_id", id),
				zap.Int("index", i),
			)
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   chunk.Content,
			Metadata:  metadataToString(chunk.Metadata),
			Embedding: vectors[i],
		}
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding chunks: %w", err)
	}

	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("upserted chunks to chromem",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(chunks)),
	)
	return nil
}

// Search returns up to topK results ordered by descending similarity.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("top_k", topK))

	if !s.ready.Load() {
		return nil, ErrStoreNotReady
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", ErrInvalidConfig)
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chromem requires nResults <= doc count.
	count := collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: metadataFromString(r.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// DeleteByDocument removes all chunks of a document, best-effort.
//
// chromem supports server-side metadata filter deletes natively; the
// id-list fallbacks exist for backends without filter semantics and are
// reported as unsupported here.
func (s *ChromemStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByDocument")
	defer span.End()

	span.SetAttributes(attribute.String("document_id", documentID))

	if !s.ready.Load() {
		s.logger.Warn("delete skipped, store not ready", zap.String("document_id", documentID))
		return nil
	}

	strategies := []deleteStrategy{
		{
			name: "metadata_filter",
			run: func(ctx context.Context) error {
				collection, err := s.collection()
				if err != nil {
					return err
				}
				return collection.Delete(ctx, map[string]string{MetaDocumentID: documentID}, nil)
			},
		},
		{
			name: "filter_fetch_ids",
			run: func(ctx context.Context) error {
				return fmt.Errorf("%w: chromem has no id listing", ErrNotSupported)
			},
		},
		{
			name: "full_scan",
			run: func(ctx context.Context) error {
				return fmt.Errorf("%w: chromem has no full scan", ErrNotSupported)
			},
		},
	}

	return runDeleteLadder(ctx, s.logger, documentID, strategies)
}

// Stats reports chunk count and availability.
func (s *ChromemStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Collection: s.config.Collection}

	if !s.ready.Load() {
		return stats, nil
	}
	stats.Available = true

	collection, err := s.collection()
	if err != nil {
		return stats, err
	}
	stats.Count = collection.Count()
	return stats, nil
}

// Close marks the store unavailable. chromem persists on write, so there
// is nothing to flush.
func (s *ChromemStore) Close() error {
	s.ready.Store(false)
	return nil
}

// metadataToString converts metadata to chromem's string map format.
func metadataToString(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// metadataFromString converts chromem's string map back to generic metadata.
func metadataFromString(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

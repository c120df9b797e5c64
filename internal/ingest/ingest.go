// Package ingest turns documents into embedded chunks in the vector
// store. Re-indexing a document deletes its previous chunks first so a
// document never exists in two generations at once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

var (
	// ErrEmptyDocument indicates a document with no extractable text.
	ErrEmptyDocument = errors.New("empty document")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	// DefaultChunkSize is the target chunk size in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap between adjacent chunks.
	DefaultChunkOverlap = 150
)

// Document is a unit of text to index.
type Document struct {
	// ID identifies the document across re-indexes. Empty means a new
	// ID is assigned.
	ID string

	// FileName is the original file name, kept as chunk metadata.
	FileName string

	// Text is the extracted document text.
	Text string

	// Source tags where the document came from: upload, text, or
	// ai_generated.
	Source string
}

// Embedder produces embeddings for document chunks.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds ingestion configuration.
type Config struct {
	// ChunkSize is the target chunk size in characters.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is the overlap between adjacent chunks.
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, chunk size), got %d", ErrInvalidConfig, c.ChunkOverlap)
	}
	return nil
}

// Ingestor chunks, embeds, and stores documents.
type Ingestor struct {
	store    vectorstore.Store
	embedder Embedder
	splitter textsplitter.RecursiveCharacter
	logger   *zap.Logger
}

// New creates an ingestor.
func New(store vectorstore.Store, embedder Embedder, cfg Config, logger *zap.Logger) (*Ingestor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
	)

	return &Ingestor{
		store:    store,
		embedder: embedder,
		splitter: splitter,
		logger:   logger,
	}, nil
}

// Index chunks and embeds a document and upserts it into the vector
// store. Existing chunks for the same document ID are removed first so
// the store never holds two generations. Returns the document ID and
// the number of chunks written.
func (ing *Ingestor) Index(ctx context.Context, doc Document) (string, int, error) {
	tracer := otel.Tracer("answerd.ingest")
	ctx, span := tracer.Start(ctx, "ingest.index")
	defer span.End()

	if doc.Text == "" {
		return "", 0, ErrEmptyDocument
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Source == "" {
		doc.Source = vectorstore.SourceUpload
	}
	span.SetAttributes(attribute.String("document.id", doc.ID))

	// Advisory delete: failure is logged inside the store and never
	// blocks the new generation.
	if err := ing.store.DeleteByDocument(ctx, doc.ID); err != nil {
		ing.logger.Warn("pre-index delete failed",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}

	texts, err := ing.splitter.SplitText(doc.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "split failed")
		return "", 0, fmt.Errorf("splitting document %s: %w", doc.ID, err)
	}
	if len(texts) == 0 {
		return "", 0, ErrEmptyDocument
	}

	vectors, err := ing.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return "", 0, fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}

	chunks := make([]vectorstore.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = vectorstore.Chunk{
			ID:      fmt.Sprintf("%s-%d", doc.ID, i),
			Content: text,
			Metadata: map[string]interface{}{
				vectorstore.MetaDocumentID:  doc.ID,
				vectorstore.MetaFileName:    doc.FileName,
				vectorstore.MetaChunkIndex:  strconv.Itoa(i),
				vectorstore.MetaTotalChunks: strconv.Itoa(len(texts)),
				vectorstore.MetaSource:      doc.Source,
			},
		}
	}

	if err := ing.store.Upsert(ctx, chunks, vectors); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return "", 0, fmt.Errorf("storing document %s: %w", doc.ID, err)
	}

	ing.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.String("file_name", doc.FileName),
		zap.Int("chunks", len(chunks)),
	)

	span.SetAttributes(attribute.Int("document.chunks", len(chunks)))
	span.SetStatus(codes.Ok, "indexed")
	return doc.ID, len(chunks), nil
}

// Remove deletes all chunks of a document from the vector store.
func (ing *Ingestor) Remove(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document ID required", ErrInvalidConfig)
	}
	return ing.store.DeleteByDocument(ctx, documentID)
}

// FormatAnswerChunk renders a generated question/answer pair as the
// text of a single knowledge chunk.
func FormatAnswerChunk(question, answer string) string {
	return fmt.Sprintf("Q:\n%s\n\nA:\n%s", question, answer)
}

// IndexAnswer stores a generated answer as a one-chunk document so
// future related questions can retrieve it.
func (ing *Ingestor) IndexAnswer(ctx context.Context, question, answer string) (string, error) {
	id, _, err := ing.Index(ctx, Document{
		Text:   FormatAnswerChunk(question, answer),
		Source: vectorstore.SourceAIGenerated,
	})
	return id, err
}

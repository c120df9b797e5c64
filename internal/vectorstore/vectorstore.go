// Package vectorstore defines the interface for vector storage operations.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrStoreNotReady is returned for reads/writes issued before the store
	// has finished initializing. Callers can choose to degrade instead of crash.
	ErrStoreNotReady = errors.New("vector store not ready")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLengthMismatch is returned when chunk and vector counts differ on upsert.
	ErrLengthMismatch = errors.New("chunk and vector counts do not match")

	// ErrEmptyChunks indicates empty or nil chunks.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrNotSupported indicates a backend does not implement an optional operation.
	ErrNotSupported = errors.New("operation not supported by backend")
)

// Metadata keys carried on every stored chunk.
const (
	MetaDocumentID  = "document_id"
	MetaFileName    = "file_name"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaSource      = "source"
	MetaOwner       = "owner"
)

// Provenance values for the "source" metadata key.
const (
	SourceUpload      = "upload"
	SourceAIGenerated = "ai_generated"
	SourceText        = "text"
)

// Chunk is a unit of ingested, embeddable text.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// Content is the text content of the chunk.
	Content string

	// Metadata contains additional key-value pairs for filtering.
	// Common fields: document_id, file_name, chunk_index, total_chunks, source, owner.
	Metadata map[string]interface{}
}

// SearchResult represents a search result from the vector store.
// Scores are similarities in [0,1], 1 = identical.
type SearchResult struct {
	// ID is the chunk identifier.
	ID string

	// Content is the chunk text content.
	Content string

	// Score is the similarity score (higher = more similar).
	Score float32

	// Metadata contains the chunk metadata.
	Metadata map[string]interface{}
}

// Stats reports the state of the store without erroring on an
// uninitialized backend.
type Stats struct {
	// Count is the number of chunks in the collection.
	Count int `json:"count"`

	// Collection is the collection name.
	Collection string `json:"collection"`

	// Available is false while the store has not finished initializing.
	Available bool `json:"available"`
}

// Store is the interface for vector storage operations.
//
// The store holds (vector, text, metadata) tuples. Embedding happens
// upstream; every method that touches vectors receives them precomputed,
// so implementations never need to call an embedding provider.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant gRPC client
type Store interface {
	// Upsert stores chunks with their precomputed vectors.
	// len(chunks) must equal len(vectors); ErrLengthMismatch otherwise.
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Search returns up to topK results ordered by descending similarity.
	// An empty store yields an empty slice, not an error.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)

	// DeleteByDocument removes all chunks belonging to a document.
	//
	// Deletion is advisory cleanup before a re-write, not a correctness
	// requirement: the call never propagates failure. Implementations try an
	// ordered ladder of strategies (server-side filter delete, filter-fetch
	// then delete-by-id, full scan then delete-by-id); each failed attempt is
	// logged as a warning. Duplicate chunks after total failure are tolerable.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Stats reports chunk count and availability. A store that has not
	// finished initializing reports Available=false instead of erroring.
	Stats(ctx context.Context) (Stats, error)

	// Close closes the vector store connection and releases resources.
	Close() error
}

// DistanceToSimilarity converts a native distance metric to a similarity
// score in [0,1]. Backends that already return similarities do not use it.
func DistanceToSimilarity(distance float32) float32 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

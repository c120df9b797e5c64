package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

// fakeStore records Upsert and DeleteByDocument calls.
type fakeStore struct {
	chunks    []vectorstore.Chunk
	vectors   [][]float32
	deleted   []string
	upsertErr error
	deleteErr error
}

func (f *fakeStore) Upsert(_ context.Context, chunks []vectorstore.Chunk, vectors [][]float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.chunks = append(f.chunks, chunks...)
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ []float32, _ int) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) DeleteByDocument(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return f.deleteErr
}

func (f *fakeStore) Stats(_ context.Context) (vectorstore.Stats, error) {
	return vectorstore.Stats{}, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeEmbedder returns one distinct vector per text.
type fakeEmbedder struct {
	err   error
	calls [][]string
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), float32(i)}
	}
	return out, nil
}

func newTestIngestor(t *testing.T, store *fakeStore, embedder *fakeEmbedder) *Ingestor {
	t.Helper()
	ing, err := New(store, embedder, Config{}, nil)
	require.NoError(t, err)
	return ing
}

func TestIndexChunksAndStores(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	ing := newTestIngestor(t, store, embedder)

	// Long enough to split into several chunks.
	text := strings.Repeat("Go is a statically typed compiled language. ", 80)
	id, count, err := ing.Index(context.Background(), Document{FileName: "go.md", Text: text})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Greater(t, count, 1)
	require.Len(t, store.chunks, count)
	require.Len(t, store.vectors, count)

	// Old generation removed before the new one is written.
	require.Len(t, store.deleted, 1)
	assert.Equal(t, id, store.deleted[0])

	first := store.chunks[0]
	assert.Equal(t, id, first.Metadata[vectorstore.MetaDocumentID])
	assert.Equal(t, "go.md", first.Metadata[vectorstore.MetaFileName])
	assert.Equal(t, "0", first.Metadata[vectorstore.MetaChunkIndex])
	assert.Equal(t, vectorstore.SourceUpload, first.Metadata[vectorstore.MetaSource])

	last := store.chunks[count-1]
	assert.Equal(t, id, last.Metadata[vectorstore.MetaDocumentID])
}

func TestIndexKeepsDocumentID(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(t, store, &fakeEmbedder{})

	id, _, err := ing.Index(context.Background(), Document{ID: "doc-1", Text: "short text"})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)
	assert.Equal(t, []string{"doc-1"}, store.deleted)
}

func TestIndexDeleteFailureDoesNotBlock(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("store down")}
	ing := newTestIngestor(t, store, &fakeEmbedder{})

	_, count, err := ing.Index(context.Background(), Document{Text: "short text"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, store.chunks, 1)
}

func TestIndexEmptyDocument(t *testing.T) {
	ing := newTestIngestor(t, &fakeStore{}, &fakeEmbedder{})

	_, _, err := ing.Index(context.Background(), Document{Text: ""})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestIndexEmbedFailure(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(t, store, &fakeEmbedder{err: errors.New("quota")})

	_, _, err := ing.Index(context.Background(), Document{Text: "short text"})
	require.Error(t, err)
	assert.Empty(t, store.chunks, "nothing stored on embed failure")
}

func TestRemove(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(t, store, &fakeEmbedder{})

	require.NoError(t, ing.Remove(context.Background(), "doc-1"))
	assert.Equal(t, []string{"doc-1"}, store.deleted)

	assert.ErrorIs(t, ing.Remove(context.Background(), ""), ErrInvalidConfig)
}

func TestIndexAnswer(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(t, store, &fakeEmbedder{})

	id, err := ing.IndexAnswer(context.Background(), "what is Go?", "A language.")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, store.chunks, 1)

	chunk := store.chunks[0]
	assert.Equal(t, vectorstore.SourceAIGenerated, chunk.Metadata[vectorstore.MetaSource])
	assert.Contains(t, chunk.Content, "Q:\nwhat is Go?")
	assert.Contains(t, chunk.Content, "A:\nA language.")
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{ChunkSize: 100, ChunkOverlap: 100}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Config{ChunkSize: -1}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Config{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, cfg.ChunkOverlap)
}

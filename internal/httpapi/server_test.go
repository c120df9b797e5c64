package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/answerd/internal/engine"
	"github.com/fyrsmithlabs/answerd/internal/ingest"
	"github.com/fyrsmithlabs/answerd/internal/llm"
	"github.com/fyrsmithlabs/answerd/internal/session"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

type fakeEngine struct {
	lastReq engine.Request
	resp    *engine.Response
	err     error
}

func (f *fakeEngine) Answer(_ context.Context, req engine.Request) (*engine.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeSessions struct {
	session *session.Session
	err     error
}

func (f *fakeSessions) Create(_ context.Context, owner string) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &session.Session{ID: "sess-1", Owner: owner, History: []session.Message{}}, nil
}

func (f *fakeSessions) Get(_ context.Context, _, _ string) (*session.Session, error) {
	return f.session, f.err
}

func (f *fakeSessions) Clear(_ context.Context, _, _ string) error  { return f.err }
func (f *fakeSessions) Delete(_ context.Context, _, _ string) error { return f.err }

func (f *fakeSessions) List(_ context.Context, _ string) ([]*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil {
		return nil, nil
	}
	return []*session.Session{f.session}, nil
}

type fakeIngestor struct {
	lastDoc ingest.Document
	removed []string
	err     error
}

func (f *fakeIngestor) Index(_ context.Context, doc ingest.Document) (string, int, error) {
	f.lastDoc = doc
	if f.err != nil {
		return "", 0, f.err
	}
	return "doc-1", 3, nil
}

func (f *fakeIngestor) Remove(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return f.err
}

type fakeStats struct {
	stats vectorstore.Stats
	err   error
}

func (f *fakeStats) Stats(_ context.Context) (vectorstore.Stats, error) {
	return f.stats, f.err
}

type serverFixture struct {
	server   *Server
	engine   *fakeEngine
	sessions *fakeSessions
	ingestor *fakeIngestor
	stats    *fakeStats
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()
	fx := &serverFixture{
		engine:   &fakeEngine{resp: &engine.Response{Answer: "hi", ResponseSource: engine.SourceAIGenerated}},
		sessions: &fakeSessions{},
		ingestor: &fakeIngestor{},
		stats:    &fakeStats{stats: vectorstore.Stats{Count: 42, Collection: "answerd_knowledge", Available: true}},
	}
	srv, err := NewServer(fx.engine, fx.sessions, fx.ingestor, fx.stats, Config{}, nil)
	require.NoError(t, err)
	fx.server = srv
	return fx
}

func (fx *serverFixture) do(t *testing.T, method, path string, body *bytes.Buffer, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(ownerHeader, "alice")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func TestChatJSON(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/chat",
		jsonBody(t, map[string]any{"message": "what is Go?", "top_k": 3, "model": "gpt-4o"}),
		map[string]string{"Content-Type": "application/json"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", fx.engine.lastReq.Owner)
	assert.Equal(t, "what is Go?", fx.engine.lastReq.Message)
	assert.Equal(t, 3, fx.engine.lastReq.TopK)
	assert.Equal(t, "gpt-4o", fx.engine.lastReq.Model)
	assert.True(t, fx.engine.lastReq.IncludeHistory, "history defaults on")

	var resp engine.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hi", resp.Answer)
}

func TestChatIncludeHistoryFalse(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/chat",
		jsonBody(t, map[string]any{"message": "hi?", "include_history": false}),
		map[string]string{"Content-Type": "application/json"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fx.engine.lastReq.IncludeHistory)
}

func TestChatMissingOwner(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "empty message", err: engine.ErrEmptyMessage, want: http.StatusBadRequest},
		{name: "invalid request", err: engine.ErrInvalidRequest, want: http.StatusBadRequest},
		{name: "permission denied", err: session.ErrPermissionDenied, want: http.StatusForbidden},
		{name: "session not found", err: session.ErrNotFound, want: http.StatusNotFound},
		{name: "provider failure", err: llm.ErrGenerationFailed, want: http.StatusBadGateway},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.engine.err = tt.err

			rec := fx.do(t, http.MethodPost, "/api/v1/chat",
				jsonBody(t, map[string]any{"message": "hi"}),
				map[string]string{"Content-Type": "application/json"})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestChatMultipartWithFile(t *testing.T) {
	fx := newFixture(t)

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("message", "summarize this"))
	fw, err := w.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("meeting notes content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec := fx.do(t, http.MethodPost, "/api/v1/chat", buf,
		map[string]string{"Content-Type": w.FormDataContentType()})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fx.engine.lastReq.File)
	assert.Equal(t, "notes.txt", fx.engine.lastReq.File.Name)
	assert.Equal(t, "meeting notes content", fx.engine.lastReq.File.ExtractedText)
	assert.Equal(t, "summarize this", fx.engine.lastReq.Message)
}

func TestSessionLifecycle(t *testing.T) {
	fx := newFixture(t)
	fx.sessions.session = &session.Session{ID: "sess-1", Owner: "alice", History: []session.Message{}}

	rec := fx.do(t, http.MethodPost, "/api/v1/sessions", nil, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/sessions/sess-1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "["), "list returns an array")

	rec = fx.do(t, http.MethodPost, "/api/v1/sessions/sess-1/clear", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = fx.do(t, http.MethodDelete, "/api/v1/sessions/sess-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionPermissionDenied(t *testing.T) {
	fx := newFixture(t)
	fx.sessions.err = session.ErrPermissionDenied

	rec := fx.do(t, http.MethodGet, "/api/v1/sessions/sess-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDocumentUploadText(t *testing.T) {
	fx := newFixture(t)

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("text", "document body"))
	require.NoError(t, w.WriteField("file_name", "manual.md"))
	require.NoError(t, w.Close())

	rec := fx.do(t, http.MethodPost, "/api/v1/documents", buf,
		map[string]string{"Content-Type": w.FormDataContentType()})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "document body", fx.ingestor.lastDoc.Text)
	assert.Equal(t, "manual.md", fx.ingestor.lastDoc.FileName)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp.DocumentID)
	assert.Equal(t, 3, resp.Chunks)
}

func TestDocumentUploadEmpty(t *testing.T) {
	fx := newFixture(t)

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.Close())

	rec := fx.do(t, http.MethodPost, "/api/v1/documents", buf,
		map[string]string{"Content-Type": w.FormDataContentType()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentDelete(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodDelete, "/api/v1/documents/doc-9", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"doc-9"}, fx.ingestor.removed)
}

func TestStats(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats vectorstore.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Available)
	assert.Equal(t, 42, stats.Count)
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

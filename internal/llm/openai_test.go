package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func respondWith(w http.ResponseWriter, content string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

func TestOpenAIChat(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest) {
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 2048, req.MaxTokens)

		// system + 2 history turns + user message
		require.Len(t, req.Messages, 4)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "Context:")
		assert.Equal(t, RoleUser, req.Messages[1].Role)
		assert.Equal(t, RoleAssistant, req.Messages[2].Role)
		assert.Equal(t, "what about Go?", req.Messages[3].Content)

		respondWith(w, "Go is a compiled language.")
	})

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	history := []Message{
		{Role: RoleUser, Content: "tell me about languages"},
		{Role: RoleAssistant, Content: "Which one?"},
	}
	answer, err := provider.Chat(context.Background(), "what about Go?", "Go was released in 2009.", history, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Go is a compiled language.", answer)
}

func TestOpenAIChatModelOverride(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest) {
		assert.Equal(t, "gpt-4o", req.Model)
		respondWith(w, "ok")
	})

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = provider.Chat(context.Background(), "hi", "", nil, Options{Model: "gpt-4o"})
	require.NoError(t, err)
}

func TestOpenAIComplete(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest) {
		require.Len(t, req.Messages, 1)
		assert.Equal(t, RoleUser, req.Messages[0].Role)
		respondWith(w, "completion")
	})

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := provider.Complete(context.Background(), "say something", Options{})
	require.NoError(t, err)
	assert.Equal(t, "completion", out)
}

func TestOpenAIAnalyzeImage(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest) {
		require.Len(t, req.Messages, 1)
		parts, ok := req.Messages[0].Content.([]any)
		require.True(t, ok, "vision content should be a part list")
		require.Len(t, parts, 2)

		image, ok := parts[1].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "image_url", image["type"])
		url, _ := image["image_url"].(map[string]any)
		assert.Contains(t, url["url"], "data:image/png;base64,")

		respondWith(w, "a red square")
	})

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := provider.AnalyzeImage(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "image/png", "what is this?", Options{})
	require.NoError(t, err)
	assert.Equal(t, "a red square", out)
}

func TestOpenAIAPIError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ chatRequest) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "auth_error"},
		})
	})

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = provider.Chat(context.Background(), "hi", "", nil, Options{})
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestOpenAIEmptyInputs(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	require.NoError(t, err)

	_, err = provider.Chat(context.Background(), "", "", nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = provider.Complete(context.Background(), "", Options{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = provider.AnalyzeImage(context.Background(), nil, "image/png", "describe", Options{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestNewProviderValidation(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(context.Background(), Config{Provider: "anthropic", APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

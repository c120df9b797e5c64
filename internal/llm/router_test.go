package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubProvider implements Provider for router tests.
type stubProvider struct {
	name  string
	model string
}

func (s *stubProvider) Complete(_ context.Context, _ string, _ Options) (string, error) {
	return "", nil
}

func (s *stubProvider) Chat(_ context.Context, _, _ string, _ []Message, _ Options) (string, error) {
	return "", nil
}

func (s *stubProvider) AnalyzeImage(_ context.Context, _ []byte, _, _ string, _ Options) (string, error) {
	return "", nil
}

func (s *stubProvider) Name() string         { return s.name }
func (s *stubProvider) DefaultModel() string { return s.model }
func (s *stubProvider) Close() error         { return nil }

func TestRouterResolve(t *testing.T) {
	tests := []struct {
		name           string
		provider       string
		model          string
		requested      string
		want           string
		wantSubstitute bool
	}{
		{
			name:      "empty uses provider default",
			provider:  "openai",
			model:     "gpt-4o-mini",
			requested: "",
			want:      "gpt-4o-mini",
		},
		{
			name:      "whitespace uses provider default",
			provider:  "openai",
			model:     "gpt-4o-mini",
			requested: "   ",
			want:      "gpt-4o-mini",
		},
		{
			name:      "same family passes through",
			provider:  "openai",
			model:     "gpt-4o-mini",
			requested: "gpt-4o",
			want:      "gpt-4o",
		},
		{
			name:           "other family substituted with default",
			provider:       "openai",
			model:          "gpt-4o-mini",
			requested:      "gemini-2.0-flash",
			want:           "gpt-4o-mini",
			wantSubstitute: true,
		},
		{
			name:           "openai model on gemini substituted",
			provider:       "gemini",
			model:          "gemini-2.0-flash",
			requested:      "gpt-4o",
			want:           "gemini-2.0-flash",
			wantSubstitute: true,
		},
		{
			name:           "o1 family recognized as openai",
			provider:       "gemini",
			model:          "gemini-2.0-flash",
			requested:      "o1-preview",
			want:           "gemini-2.0-flash",
			wantSubstitute: true,
		},
		{
			name:           "prefixed gemini name recognized",
			provider:       "openai",
			model:          "gpt-4o-mini",
			requested:      "models/gemini-1.5-pro",
			want:           "gpt-4o-mini",
			wantSubstitute: true,
		},
		{
			name:           "case insensitive classification",
			provider:       "openai",
			model:          "gpt-4o-mini",
			requested:      "Gemini-2.0-Flash",
			want:           "gpt-4o-mini",
			wantSubstitute: true,
		},
		{
			name:      "unknown model passes through",
			provider:  "openai",
			model:     "gpt-4o-mini",
			requested: "llama-3.1-70b",
			want:      "llama-3.1-70b",
		},
		{
			name:      "unknown model passes through on gemini",
			provider:  "gemini",
			model:     "gemini-2.0-flash",
			requested: "mistral-large",
			want:      "mistral-large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(&stubProvider{name: tt.provider, model: tt.model}, nil)
			got, substituted := router.Resolve(tt.requested)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSubstitute, substituted)
		})
	}
}

func TestClassifyModel(t *testing.T) {
	assert.Equal(t, "openai", classifyModel("gpt-4o"))
	assert.Equal(t, "openai", classifyModel("chatgpt-4o-latest"))
	assert.Equal(t, "gemini", classifyModel("gemini-2.0-flash"))
	assert.Equal(t, "", classifyModel("claude-sonnet"))
}

func TestOptionsApplyDefaults(t *testing.T) {
	var opts Options
	opts.ApplyDefaults()
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, 2048, opts.MaxTokens)

	custom := Options{Temperature: 0.2, MaxTokens: 512}
	custom.ApplyDefaults()
	assert.Equal(t, 0.2, custom.Temperature)
	assert.Equal(t, 512, custom.MaxTokens)
}

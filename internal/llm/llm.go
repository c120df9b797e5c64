// Package llm provides text generation via multiple providers behind one
// interface.
//
// One concrete provider is selected at process start by configuration
// (strategy pattern, not inheritance). Generation failures are hard
// errors: an answer produced from a failed call would be silently wrong,
// so the engine aborts the request instead.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrGenerationFailed indicates an upstream generation failure.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrEmptyPrompt indicates an empty prompt or message.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Message roles in conversational history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options control a single generation call.
type Options struct {
	// Model overrides the provider's default model. Callers should route
	// raw user input through Router.Resolve first.
	Model string

	// Temperature controls sampling randomness (default 0.7).
	Temperature float64

	// MaxTokens bounds the response length (default 2048).
	MaxTokens int
}

// ApplyDefaults sets default values for unset fields.
func (o *Options) ApplyDefaults() {
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 2048
	}
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Complete produces a text completion from a bare prompt.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)

	// Chat answers a message, optionally grounded in retrieved context
	// and prior history. An empty contextText means free generation.
	Chat(ctx context.Context, message, contextText string, history []Message, opts Options) (string, error)

	// AnalyzeImage answers a prompt about image bytes.
	AnalyzeImage(ctx context.Context, data []byte, mimeType, prompt string, opts Options) (string, error)

	// Name returns the provider identifier ("openai", "gemini").
	Name() string

	// DefaultModel returns the provider's configured default model.
	DefaultModel() string

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an LLM provider.
type Config struct {
	// Provider is the provider type: "openai" or "gemini".
	Provider string `koanf:"provider"`

	// Model is the default generation model.
	Model string `koanf:"model"`

	// APIKey is the provider API key.
	APIKey string `koanf:"api_key"`

	// BaseURL overrides the provider API endpoint. Optional.
	BaseURL string `koanf:"base_url"`
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates an LLM provider based on the configuration.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "gemini":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// buildSystemPrompt assembles the grounding instruction for Chat calls.
func buildSystemPrompt(contextText string) string {
	if contextText == "" {
		return "You are a helpful assistant. Answer the user's question clearly and concisely."
	}
	return fmt.Sprintf(`You are a helpful assistant. Answer the user's question using the provided context. If the context does not contain the answer, say so instead of inventing one.

Context:
%s`, contextText)
}

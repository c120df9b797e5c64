package llm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the default Gemini generation model.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig holds Gemini provider configuration.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiProvider generates text through the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %w", ErrInvalidConfig, err)
	}

	return &GeminiProvider{client: client, model: cfg.Model}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string { return "gemini" }

// DefaultModel returns the configured default model.
func (p *GeminiProvider) DefaultModel() string { return p.model }

// Close releases resources held by the provider.
func (p *GeminiProvider) Close() error { return nil }

// Complete produces a text completion from a bare prompt.
func (p *GeminiProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return p.generate(ctx, contents, opts)
}

// Chat answers a message grounded in optional context and history.
func (p *GeminiProvider) Chat(ctx context.Context, message, contextText string, history []Message, opts Options) (string, error) {
	if message == "" {
		return "", ErrEmptyPrompt
	}

	contents := make([]*genai.Content, 0, len(history)+2)
	contents = append(contents, genai.NewContentFromText(buildSystemPrompt(contextText), genai.RoleUser))
	for _, h := range history {
		contents = append(contents, genai.NewContentFromText(h.Content, geminiRole(h.Role)))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	return p.generate(ctx, contents, opts)
}

// geminiRole maps a chat role onto the Gemini API's role vocabulary.
func geminiRole(role string) genai.Role {
	if role == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// AnalyzeImage answers a prompt about image bytes.
func (p *GeminiProvider) AnalyzeImage(ctx context.Context, data []byte, mimeType, prompt string, opts Options) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrEmptyPrompt)
	}
	if prompt == "" {
		prompt = "Describe this image."
	}

	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(data, mimeType),
	}, genai.RoleUser)

	return p.generate(ctx, []*genai.Content{content}, opts)
}

func (p *GeminiProvider) generate(ctx context.Context, contents []*genai.Content, opts Options) (string, error) {
	tracer := otel.Tracer("answerd.llm.gemini")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()

	opts.ApplyDefaults()
	model := opts.Model
	if model == "" {
		model = p.model
	}
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.contents", len(contents)),
	)

	temp := float32(opts.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(opts.MaxTokens),
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	span.SetStatus(codes.Ok, "completed")
	return text, nil
}

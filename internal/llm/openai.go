package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultOpenAIModel is the default OpenAI generation model.
	DefaultOpenAIModel = "gpt-4o-mini"

	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	openaiRequestTimeout = 120 * time.Second
)

// OpenAIConfig holds OpenAI provider configuration.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIProvider generates text through the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key required", ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: openaiRequestTimeout},
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// DefaultModel returns the configured default model.
func (p *OpenAIProvider) DefaultModel() string { return p.model }

// Close releases resources held by the provider.
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// chatMessage is a message in the chat completions wire format. Content
// is a string for text-only turns and a part list for vision requests.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLPart  `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete produces a text completion from a bare prompt.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	return p.chat(ctx, []chatMessage{
		{Role: RoleUser, Content: prompt},
	}, opts)
}

// Chat answers a message grounded in optional context and history.
func (p *OpenAIProvider) Chat(ctx context.Context, message, contextText string, history []Message, opts Options) (string, error) {
	if message == "" {
		return "", ErrEmptyPrompt
	}

	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: buildSystemPrompt(contextText)})
	for _, h := range history {
		messages = append(messages, chatMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, chatMessage{Role: RoleUser, Content: message})

	return p.chat(ctx, messages, opts)
}

// AnalyzeImage answers a prompt about image bytes using a vision request.
func (p *OpenAIProvider) AnalyzeImage(ctx context.Context, data []byte, mimeType, prompt string, opts Options) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrEmptyPrompt)
	}
	if prompt == "" {
		prompt = "Describe this image."
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	messages := []chatMessage{
		{Role: RoleUser, Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageURLPart{URL: dataURL}},
		}},
	}
	return p.chat(ctx, messages, opts)
}

func (p *OpenAIProvider) chat(ctx context.Context, messages []chatMessage, opts Options) (string, error) {
	tracer := otel.Tracer("answerd.llm.openai")
	ctx, span := tracer.Start(ctx, "openai.chat")
	defer span.End()

	opts.ApplyDefaults()
	model := opts.Model
	if model == "" {
		model = p.model
	}
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(messages)),
	)

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: read response: %w", ErrGenerationFailed, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: decode response (status %d): %w", ErrGenerationFailed, resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		err := fmt.Errorf("%w: API error (status %d): %s", ErrGenerationFailed, resp.StatusCode, msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, "api error")
		return "", err
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrGenerationFailed)
	}

	span.SetStatus(codes.Ok, "completed")
	return parsed.Choices[0].Message.Content, nil
}

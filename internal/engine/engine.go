// Package engine implements answer resolution. Every question is routed
// through a fixed decision chain — semantic cache, then retrieval over
// the vector store, then plain generation — choosing the cheapest source
// that can answer. Freely generated answers are folded back into the
// knowledge base so the system improves with use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/cache"
	"github.com/fyrsmithlabs/answerd/internal/llm"
	"github.com/fyrsmithlabs/answerd/internal/session"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

var (
	// ErrEmptyMessage indicates a request with no message and no file.
	ErrEmptyMessage = errors.New("empty message")

	// ErrInvalidRequest indicates a malformed request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// timeNow is a variable for testing.
var timeNow = time.Now

// Response source labels.
const (
	SourceCached        = "cached"
	SourceKnowledgeBase = "knowledge_base"
	SourceAIGenerated   = "ai_generated"
)

const (
	// DefaultRelevanceThreshold gates RAG vs free generation.
	DefaultRelevanceThreshold = 0.3

	// DefaultTopK is the default number of chunks retrieved.
	DefaultTopK = 5

	// MaxTopK bounds the per-request topK override.
	MaxTopK = 20

	// DefaultWritebackTimeout bounds the async knowledge writeback.
	DefaultWritebackTimeout = 30 * time.Second

	// fileTextLimit caps how much extracted document text joins the
	// query.
	fileTextLimit = 15000

	truncationMarker = "\n[content truncated]"

	// previewLength caps source content previews in responses.
	previewLength = 200
)

// Request is one inbound question.
type Request struct {
	// Owner scopes cache and session access.
	Owner string

	// Message is the user's question.
	Message string

	// SessionID continues an existing conversation. Empty starts a new
	// session.
	SessionID string

	// IncludeHistory sends prior turns to the LLM.
	IncludeHistory bool

	// TopK overrides how many chunks are retrieved (1–20, default 5).
	TopK int

	// Model is an optional model hint, resolved by the router.
	Model string

	// File is an optional attachment.
	File *FileAttachment
}

// FileAttachment carries an uploaded file. Text extraction happens
// upstream; ExtractedText is empty for images.
type FileAttachment struct {
	Name          string
	MIMEType      string
	Data          []byte
	ExtractedText string
}

// SourceRef is one retrieved chunk reference in a response.
type SourceRef struct {
	Content  string                 `json:"content"`
	FileName string                 `json:"file_name,omitempty"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Response is the resolved answer with provenance.
type Response struct {
	SessionID          string      `json:"session_id"`
	Message            string      `json:"message"`
	Answer             string      `json:"answer"`
	Sources            []SourceRef `json:"sources"`
	ResponseSource     string      `json:"response_source"`
	RelevanceScore     float64     `json:"relevance_score"`
	ModelUsed          string      `json:"model_used"`
	SuggestedQuestions []string    `json:"suggested_questions,omitempty"`
	FileProcessed      bool        `json:"file_processed,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
}

// Cache is the semantic cache surface the engine consumes.
type Cache interface {
	Lookup(ctx context.Context, owner, question string) (cache.Result, error)
	Store(ctx context.Context, owner, question, answer, source, model string, documentSources []string, embedding []float32) error
}

// Sessions is the session manager surface the engine consumes.
type Sessions interface {
	Create(ctx context.Context, owner string) (*session.Session, error)
	Get(ctx context.Context, id, requester string) (*session.Session, error)
	Append(ctx context.Context, id, requester string, turns ...session.Message) (*session.Session, error)
}

// Embedder produces query embeddings.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeWriter folds generated answers back into the vector store.
type KnowledgeWriter interface {
	IndexAnswer(ctx context.Context, question, answer string) (string, error)
}

// Config holds engine configuration.
type Config struct {
	// RelevanceThreshold is the minimum top score for the RAG path.
	RelevanceThreshold float64 `koanf:"relevance_threshold"`

	// TopK is the default number of retrieved chunks.
	TopK int `koanf:"top_k"`

	// Suggestions enables follow-up question generation.
	Suggestions bool `koanf:"suggestions"`

	// WritebackTimeout bounds the async knowledge writeback.
	WritebackTimeout time.Duration `koanf:"writeback_timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.RelevanceThreshold == 0 {
		c.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.WritebackTimeout == 0 {
		c.WritebackTimeout = DefaultWritebackTimeout
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("%w: relevance threshold must be in [0, 1], got %v", ErrInvalidConfig, c.RelevanceThreshold)
	}
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be in [1, %d], got %d", ErrInvalidConfig, MaxTopK, c.TopK)
	}
	return nil
}

// Engine resolves questions to answers.
type Engine struct {
	store    vectorstore.Store
	embedder Embedder
	llm      llm.Provider
	router   *llm.Router
	cache    Cache
	sessions Sessions
	writer   KnowledgeWriter
	cfg      Config
	logger   *zap.Logger
}

// New creates an answer resolution engine.
func New(store vectorstore.Store, embedder Embedder, provider llm.Provider, cacheSvc Cache, sessions Sessions, writer KnowledgeWriter, cfg Config, logger *zap.Logger) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:    store,
		embedder: embedder,
		llm:      provider,
		router:   llm.NewRouter(provider, logger),
		cache:    cacheSvc,
		sessions: sessions,
		writer:   writer,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Answer resolves a question through the decision chain and returns the
// response with provenance.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	tracer := otel.Tracer("answerd.engine")
	ctx, span := tracer.Start(ctx, "engine.answer")
	defer span.End()

	if req.Owner == "" {
		return nil, fmt.Errorf("%w: owner required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Message) == "" && req.File == nil {
		return nil, ErrEmptyMessage
	}

	topK := req.TopK
	if topK == 0 {
		topK = e.cfg.TopK
	}
	if topK < 1 || topK > MaxTopK {
		return nil, fmt.Errorf("%w: top_k must be in [1, %d], got %d", ErrInvalidRequest, MaxTopK, req.TopK)
	}

	model, substituted := e.router.Resolve(req.Model)
	opts := llm.Options{Model: model}
	span.SetAttributes(
		attribute.String("engine.model", model),
		attribute.Bool("engine.model_substituted", substituted),
	)

	sess, err := e.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	var history []llm.Message
	if req.IncludeHistory {
		history = toLLMHistory(sess.History)
	}

	if req.File != nil && isImage(req.File.MIMEType) {
		return e.answerImage(ctx, req, sess, model, opts)
	}

	query := req.Message
	fileProcessed := false
	if req.File != nil {
		query = enhanceQuery(req.File.ExtractedText, req.Message)
		fileProcessed = true
	}

	// Attachments are never cached; their answers depend on transient
	// file content.
	if req.File == nil {
		if resp, ok := e.probeCache(ctx, req, sess, span); ok {
			return resp, nil
		}
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	results, err := e.search(ctx, vector, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}

	maxScore := 0.0
	if len(results) > 0 {
		maxScore = float64(results[0].Score)
	}
	span.SetAttributes(attribute.Float64("engine.max_score", maxScore))

	var answer, source string
	var sources []SourceRef
	var docSources []string

	if maxScore >= e.cfg.RelevanceThreshold {
		contextText := buildContext(results)
		answer, err = e.llm.Chat(ctx, query, contextText, history, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
			return nil, fmt.Errorf("generating grounded answer: %w", err)
		}
		source = SourceKnowledgeBase
		sources = toSourceRefs(results)
		docSources = fileNames(results)
	} else {
		answer, err = e.llm.Chat(ctx, query, "", history, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
			return nil, fmt.Errorf("generating answer: %w", err)
		}
		source = SourceAIGenerated

		// Fold the fresh answer into the knowledge base so similar
		// questions become retrievable. Best effort, off the request
		// path.
		if req.File == nil {
			e.writeback(req.Message, answer)
		}
	}

	var suggestions []string
	if e.cfg.Suggestions {
		suggestions = e.suggest(ctx, req.Message, answer, docSources, opts)
	}

	e.appendTurns(ctx, sess.ID, req.Owner, req.Message, answer)

	if req.File == nil {
		if err := e.cache.Store(ctx, req.Owner, req.Message, answer, source, model, docSources, vector); err != nil {
			e.logger.Warn("cache writeback failed",
				zap.String("owner", req.Owner),
				zap.Error(err),
			)
		}
	}

	span.SetAttributes(attribute.String("engine.source", source))
	span.SetStatus(codes.Ok, source)
	return &Response{
		SessionID:          sess.ID,
		Message:            req.Message,
		Answer:             answer,
		Sources:            sources,
		ResponseSource:     source,
		RelevanceScore:     maxScore,
		ModelUsed:          model,
		SuggestedQuestions: suggestions,
		FileProcessed:      fileProcessed,
		Timestamp:          timeNow().UTC(),
	}, nil
}

// resolveSession loads the request's session or creates a fresh one.
func (e *Engine) resolveSession(ctx context.Context, req Request) (*session.Session, error) {
	if req.SessionID == "" {
		sess, err := e.sessions.Create(ctx, req.Owner)
		if err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		return sess, nil
	}
	return e.sessions.Get(ctx, req.SessionID, req.Owner)
}

// probeCache checks the semantic cache. Lookup failures degrade to a
// miss.
func (e *Engine) probeCache(ctx context.Context, req Request, sess *session.Session, span trace.Span) (*Response, bool) {
	result, err := e.cache.Lookup(ctx, req.Owner, req.Message)
	if err != nil {
		e.logger.Warn("cache lookup failed, treating as miss",
			zap.String("owner", req.Owner),
			zap.Error(err),
		)
		return nil, false
	}
	if !result.Hit {
		return nil, false
	}

	e.appendTurns(ctx, sess.ID, req.Owner, req.Message, result.Entry.Answer)

	span.SetAttributes(
		attribute.String("engine.source", SourceCached),
		attribute.Float64("engine.cache_similarity", result.Similarity),
	)
	return &Response{
		SessionID:      sess.ID,
		Message:        req.Message,
		Answer:         result.Entry.Answer,
		Sources:        []SourceRef{},
		ResponseSource: SourceCached,
		RelevanceScore: result.Similarity,
		ModelUsed:      result.Entry.Model,
		Timestamp:      timeNow().UTC(),
	}, true
}

// answerImage handles image attachments with a single vision call.
func (e *Engine) answerImage(ctx context.Context, req Request, sess *session.Session, model string, opts llm.Options) (*Response, error) {
	prompt := req.Message
	if strings.TrimSpace(prompt) == "" {
		prompt = "Describe this image."
	}

	answer, err := e.llm.AnalyzeImage(ctx, req.File.Data, req.File.MIMEType, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("analyzing image: %w", err)
	}

	e.appendTurns(ctx, sess.ID, req.Owner, prompt, answer)

	return &Response{
		SessionID:      sess.ID,
		Message:        req.Message,
		Answer:         answer,
		Sources:        []SourceRef{},
		ResponseSource: SourceAIGenerated,
		ModelUsed:      model,
		FileProcessed:  true,
		Timestamp:      timeNow().UTC(),
	}, nil
}

// search queries the vector store. A store that is not ready degrades
// to no results; other failures propagate.
func (e *Engine) search(ctx context.Context, vector []float32, topK int) ([]vectorstore.SearchResult, error) {
	results, err := e.store.Search(ctx, vector, topK)
	if err != nil {
		if errors.Is(err, vectorstore.ErrStoreNotReady) {
			e.logger.Warn("vector store unavailable, answering without retrieval")
			return nil, nil
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return results, nil
}

// writeback persists a generated answer as knowledge, detached from the
// request lifecycle.
func (e *Engine) writeback(question, answer string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WritebackTimeout)
		defer cancel()

		if _, err := e.writer.IndexAnswer(ctx, question, answer); err != nil {
			e.logger.Warn("knowledge writeback failed", zap.Error(err))
		}
	}()
}

// appendTurns records a user/assistant exchange; persistence failures
// never fail an answered request.
func (e *Engine) appendTurns(ctx context.Context, sessionID, owner, question, answer string) {
	_, err := e.sessions.Append(ctx, sessionID, owner,
		session.Message{Role: session.RoleUser, Content: question},
		session.Message{Role: session.RoleAssistant, Content: answer},
	)
	if err != nil {
		e.logger.Warn("session update failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// enhanceQuery prepends truncated document text to the question.
func enhanceQuery(extracted, message string) string {
	text := extracted
	if len(text) > fileTextLimit {
		text = text[:fileTextLimit] + truncationMarker
	}
	if text == "" {
		return message
	}
	return text + "\n\n" + message
}

// buildContext concatenates retrieved chunk contents in result order.
func buildContext(results []vectorstore.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Content
	}
	return strings.Join(parts, "\n\n")
}

// metaString reads a string-valued metadata field, tolerating absent
// or non-string values.
func metaString(metadata map[string]interface{}, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

func toSourceRefs(results []vectorstore.SearchResult) []SourceRef {
	refs := make([]SourceRef, len(results))
	for i, r := range results {
		content := r.Content
		if len(content) > previewLength {
			content = content[:previewLength]
		}
		refs[i] = SourceRef{
			Content:  content,
			FileName: metaString(r.Metadata, vectorstore.MetaFileName),
			Score:    float64(r.Score),
			Metadata: r.Metadata,
		}
	}
	return refs
}

// fileNames collects the distinct file names behind the results.
func fileNames(results []vectorstore.SearchResult) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range results {
		name := metaString(r.Metadata, vectorstore.MetaFileName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func toLLMHistory(history []session.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, m := range history {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

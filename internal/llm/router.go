package llm

import (
	"strings"

	"go.uber.org/zap"
)

// modelFamilies maps a provider name to model-name prefixes that
// identify its models.
var modelFamilies = map[string][]string{
	"openai": {"gpt-", "o1", "o3", "o4", "chatgpt-", "text-davinci"},
	"gemini": {"gemini-", "models/gemini", "learnlm"},
}

// Router resolves user-requested model names against the active
// provider. A request naming another provider's model family is
// substituted with the active provider's default rather than failing
// the request; unrecognized names pass through untouched so new models
// work without a code change.
type Router struct {
	provider Provider
	logger   *zap.Logger
}

// NewRouter creates a model router for the active provider.
func NewRouter(provider Provider, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{provider: provider, logger: logger}
}

// Resolve maps a requested model name to the model that will be used
// and reports whether a substitution happened. It never returns an
// error.
func (r *Router) Resolve(requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return r.provider.DefaultModel(), false
	}

	family := classifyModel(requested)
	if family != "" && family != r.provider.Name() {
		fallback := r.provider.DefaultModel()
		r.logger.Warn("requested model belongs to another provider, substituting default",
			zap.String("requested", requested),
			zap.String("requested_family", family),
			zap.String("active_provider", r.provider.Name()),
			zap.String("substituted", fallback),
		)
		return fallback, true
	}

	return requested, false
}

// classifyModel returns the provider family a model name belongs to, or
// "" when the name matches no known family.
func classifyModel(model string) string {
	lower := strings.ToLower(model)
	for family, prefixes := range modelFamilies {
		for _, prefix := range prefixes {
			if strings.HasPrefix(lower, prefix) {
				return family
			}
		}
	}
	return ""
}

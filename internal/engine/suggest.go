package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/llm"
)

// maxSuggestions caps how many follow-up questions a response carries.
const maxSuggestions = 3

// suggest asks the LLM for follow-up questions. Any failure yields an
// empty list; suggestions are decoration, not content.
func (e *Engine) suggest(ctx context.Context, question, answer string, sourceNames []string, opts llm.Options) []string {
	prompt := buildSuggestionPrompt(question, answer, sourceNames)

	raw, err := e.llm.Complete(ctx, prompt, opts)
	if err != nil {
		e.logger.Warn("suggestion generation failed", zap.Error(err))
		return nil
	}

	return parseSuggestions(raw)
}

func buildSuggestionPrompt(question, answer string, sourceNames []string) string {
	var b strings.Builder
	b.WriteString("Based on this question and answer, suggest exactly 3 short follow-up questions the user might ask next. Write one question per line, nothing else.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nAnswer: %s\n", question, answer)

	if len(sourceNames) > 0 {
		if len(sourceNames) > maxSuggestions {
			sourceNames = sourceNames[:maxSuggestions]
		}
		fmt.Fprintf(&b, "\nSource documents: %s\n", strings.Join(sourceNames, ", "))
	}
	return b.String()
}

// parseSuggestions extracts question lines from LLM output, stripping
// bullet and numbering artifacts. Lines without a question mark are
// discarded.
func parseSuggestions(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = cleanSuggestionLine(line)
		if line == "" || !strings.Contains(line, "?") {
			continue
		}
		out = append(out, line)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// cleanSuggestionLine strips list markers ("-", "*", "•", "1.", "1)")
// and surrounding quotes.
func cleanSuggestionLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*•")
	line = strings.TrimSpace(line)

	// Numbered prefixes like "1." or "2)".
	if i := strings.IndexAny(line, ".)"); i > 0 && i <= 2 {
		if isDigits(line[:i]) {
			line = line[i+1:]
		}
	}

	line = strings.TrimSpace(line)
	line = strings.Trim(line, `"'`)
	return strings.TrimSpace(line)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

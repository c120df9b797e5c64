package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "plain lines",
			raw:  "What is Go?\nWhy use Go?\nWho made Go?",
			want: []string{"What is Go?", "Why use Go?", "Who made Go?"},
		},
		{
			name: "numbered with dots",
			raw:  "1. What is Go?\n2. Why use Go?\n3. Who made Go?",
			want: []string{"What is Go?", "Why use Go?", "Who made Go?"},
		},
		{
			name: "numbered with parens",
			raw:  "1) What is Go?\n2) Why use Go?",
			want: []string{"What is Go?", "Why use Go?"},
		},
		{
			name: "bullets and quotes",
			raw:  `- "What is Go?"` + "\n" + `* 'Why use Go?'` + "\n" + "• Who made Go?",
			want: []string{"What is Go?", "Why use Go?", "Who made Go?"},
		},
		{
			name: "lines without question marks dropped",
			raw:  "Here are some suggestions:\nWhat is Go?\nGo is great\nWhy use Go?",
			want: []string{"What is Go?", "Why use Go?"},
		},
		{
			name: "capped at three",
			raw:  "A?\nB?\nC?\nD?\nE?",
			want: []string{"A?", "B?", "C?"},
		},
		{
			name: "blank and whitespace lines skipped",
			raw:  "\n   \nWhat is Go?\n\n",
			want: []string{"What is Go?"},
		},
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
		{
			name: "decimal numbers inside questions survive",
			raw:  "Is version 1.22 stable?",
			want: []string{"Is version 1.22 stable?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSuggestions(tt.raw))
		})
	}
}

func TestBuildSuggestionPrompt(t *testing.T) {
	prompt := buildSuggestionPrompt("what is Go?", "A language.", []string{"a.md", "b.md", "c.md", "d.md"})
	assert.Contains(t, prompt, "what is Go?")
	assert.Contains(t, prompt, "A language.")
	assert.Contains(t, prompt, "a.md, b.md, c.md")
	assert.NotContains(t, prompt, "d.md", "at most three source names")

	noSources := buildSuggestionPrompt("q?", "a", nil)
	assert.NotContains(t, noSources, "Source documents")
}

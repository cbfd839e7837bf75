package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases",
			input:    "What Is The Capital Of France?",
			expected: "what is the capital of france?",
		},
		{
			name:     "collapses whitespace runs",
			input:    "what  is\t\tthe   capital",
			expected: "what is the capital",
		},
		{
			name:     "trims leading and trailing whitespace",
			input:    "  paris  ",
			expected: "paris",
		},
		{
			name:     "removes space before punctuation",
			input:    "what is the capital ?",
			expected: "what is the capital?",
		},
		{
			name:     "handles newlines inside text",
			input:    "first line\nsecond line",
			expected: "first line second line",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    "   \t\n  ",
			expected: "",
		},
		{
			name:     "space before comma and semicolon",
			input:    "a , b ; c : d",
			expected: "a, b; c: d",
		},
		{
			name:     "inserts space after punctuation",
			input:    "what is 2+2?pick one.",
			expected: "what is 2+2? pick one.",
		},
		{
			name:     "missing space after comma",
			input:    "bad,option",
			expected: "bad, option",
		},
		{
			name:     "punctuation runs stay joined",
			input:    "wait...what?!",
			expected: "wait... what?!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeText(tt.input))
		})
	}
}

func TestComputeContentHash(t *testing.T) {
	t.Run("identical content produces identical hash", func(t *testing.T) {
		h1 := ComputeContentHash("What is 2+2?", "4", []string{"3", "4", "5"})
		h2 := ComputeContentHash("What is 2+2?", "4", []string{"3", "4", "5"})
		assert.Equal(t, h1, h2)
	})

	t.Run("case and spacing variants collide", func(t *testing.T) {
		h1 := ComputeContentHash("What is  2+2 ?", "Four", []string{"Three", "Four"})
		h2 := ComputeContentHash("what is 2+2?", "four", []string{"three", "four"})
		assert.Equal(t, h1, h2)
	})

	t.Run("punctuation spacing variants collide", func(t *testing.T) {
		h1 := ComputeContentHash("What is 2+2?Pick one.", "4", []string{"3", "4"})
		h2 := ComputeContentHash("What is 2+2? Pick one.", "4", []string{"3", "4"})
		assert.Equal(t, h1, h2)

		h3 := ComputeContentHash("pick", "a", []string{"bad,option", "a"})
		h4 := ComputeContentHash("pick", "a", []string{"bad, option", "a"})
		assert.Equal(t, h3, h4)
	})

	t.Run("option order does not matter", func(t *testing.T) {
		h1 := ComputeContentHash("pick one", "a", []string{"a", "b", "c"})
		h2 := ComputeContentHash("pick one", "a", []string{"c", "a", "b"})
		assert.Equal(t, h1, h2)
	})

	t.Run("different prompt changes hash", func(t *testing.T) {
		h1 := ComputeContentHash("what is 2+2?", "4", []string{"3", "4"})
		h2 := ComputeContentHash("what is 2+3?", "4", []string{"3", "4"})
		assert.NotEqual(t, h1, h2)
	})

	t.Run("different answer changes hash", func(t *testing.T) {
		h1 := ComputeContentHash("pick", "a", []string{"a", "b"})
		h2 := ComputeContentHash("pick", "b", []string{"a", "b"})
		assert.NotEqual(t, h1, h2)
	})

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		h1 := ComputeContentHash("ab", "c", nil)
		h2 := ComputeContentHash("a", "bc", nil)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("hash is hex encoded sha-256", func(t *testing.T) {
		h := ComputeContentHash("q", "a", nil)
		assert.Len(t, h, 64)
	})

	t.Run("does not mutate caller options slice", func(t *testing.T) {
		options := []string{"c", "a", "b"}
		ComputeContentHash("q", "a", options)
		assert.Equal(t, []string{"c", "a", "b"}, options)
	})
}

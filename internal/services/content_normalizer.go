package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
)

// hashFieldSeparator joins normalized fields before hashing. The unit
// separator cannot appear in normalized text, so field boundaries are
// unambiguous.
const hashFieldSeparator = "\x1f"

// NormalizeText produces the canonical form of question text: lowercased,
// whitespace runs collapsed to a single space, no space before closing
// punctuation, exactly one space after it, and leading/trailing whitespace
// removed. "2+2?pick" and "2+2? pick" canonicalize identically.
func NormalizeText(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(lowered))
	pendingSpace := false
	afterPunct := false
	for _, r := range lowered {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if isClosingPunct(r) {
			// Punctuation absorbs any pending space and runs stay joined
			b.WriteRune(r)
			pendingSpace = false
			afterPunct = true
			continue
		}
		if (pendingSpace || afterPunct) && b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		pendingSpace = false
		afterPunct = false
	}
	return b.String()
}

func isClosingPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':':
		return true
	}
	return false
}

// ComputeContentHash derives the dedup identity of a question from its
// normalized prompt, answer, and option set. Option order does not affect
// the hash.
func ComputeContentHash(prompt, answer string, options []string) string {
	normalizedOptions := make([]string, len(options))
	for i, opt := range options {
		normalizedOptions[i] = NormalizeText(opt)
	}
	sort.Strings(normalizedOptions)

	parts := make([]string, 0, len(normalizedOptions)+2)
	parts = append(parts, NormalizeText(prompt), NormalizeText(answer))
	parts = append(parts, normalizedOptions...)

	sum := sha256.Sum256([]byte(strings.Join(parts, hashFieldSeparator)))
	return hex.EncodeToString(sum[:])
}

package lexical

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into word tokens (letters, digits,
// underscore). Matches the query and document sides identically so scoring
// stays symmetric.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	tokens := make([]string, 0, len(lower)/5)

	var b strings.Builder
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

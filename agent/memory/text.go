package memory

import (
	"strings"
	"unicode"
)

// Normalize lower-cases text, replaces punctuation (anything but letters,
// digits, apostrophes and hyphens) with spaces and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokenize splits normalized text on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(Normalize(text))
}

// Confidence scores how well input matches a stored pattern:
// 1.0 exact, 0.9 when the pattern contains the input, 0.8 when the input
// contains the pattern, otherwise the share of input tokens found in the
// pattern over the longer token count.
func Confidence(pattern, input string) float64 {
	p, in := Normalize(pattern), Normalize(input)
	if p == "" || in == "" {
		return 0
	}
	switch {
	case p == in:
		return 1.0
	case strings.Contains(p, in):
		return 0.9
	case strings.Contains(in, p):
		return 0.8
	}
	return wordOverlap(strings.Fields(p), strings.Fields(in))
}

func wordOverlap(pattern, input []string) float64 {
	if len(pattern) == 0 || len(input) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(pattern))
	for _, t := range pattern {
		set[t] = struct{}{}
	}
	matched := 0
	for _, t := range input {
		if _, ok := set[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(max(len(pattern), len(input)))
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"am": {}, "do": {}, "does": {}, "did": {}, "can": {}, "could": {}, "would": {},
	"should": {}, "will": {}, "what": {}, "who": {}, "whom": {}, "which": {}, "where": {},
	"when": {}, "why": {}, "how": {}, "i": {}, "me": {}, "my": {}, "you": {}, "your": {},
	"we": {}, "our": {}, "us": {}, "it": {}, "its": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"by": {}, "from": {}, "and": {}, "or": {}, "but": {}, "so": {}, "if": {}, "about": {},
	"please": {}, "tell": {}, "there": {}, "any": {}, "some": {}, "have": {}, "has": {},
	"i'm": {}, "you're": {}, "what's": {}, "it's": {},
}

// IsStopWord reports whether a normalized token carries no lookup value.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// PatternVariants derives the knowledge patterns learned from a successful
// input: the full normalized text, a stop-word filtered form when it has more
// than three tokens, and the first and last five-token windows when it has
// more than five. Duplicates are dropped; order is stable.
func PatternVariants(input string) []string {
	tokens := Tokenize(input)
	if len(tokens) == 0 {
		return nil
	}

	candidates := []string{strings.Join(tokens, " ")}
	if len(tokens) > 3 {
		filtered := make([]string, 0, len(tokens))
		for _, t := range tokens {
			if !IsStopWord(t) {
				filtered = append(filtered, t)
			}
		}
		candidates = append(candidates, strings.Join(filtered, " "))
	}
	if len(tokens) > 5 {
		candidates = append(candidates,
			strings.Join(tokens[:5], " "),
			strings.Join(tokens[len(tokens)-5:], " "),
		)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

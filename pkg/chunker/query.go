package chunker

import (
	"strings"
	"unicode"
)

// CleanQuery normalizes a user query before embedding: lowercases,
// strips punctuation, collapses whitespace and drops stopwords. If
// cleaning would remove everything (a pure-stopword greeting, say) the
// trimmed original is returned so the query still embeds.
func CleanQuery(query string) string {
	trimmed := strings.Join(strings.Fields(query), " ")
	if trimmed == "" {
		return ""
	}

	lowered := strings.ToLower(trimmed)
	lowered = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, lowered)

	var kept []string
	for _, word := range strings.Fields(lowered) {
		if !stopwords[word] {
			kept = append(kept, word)
		}
	}

	if len(kept) == 0 {
		return trimmed
	}
	return strings.Join(kept, " ")
}

// Common English and Portuguese stopwords.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "he": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "that": true, "the": true,
	"to": true, "was": true, "were": true, "will": true, "with": true,
	"o": true, "os": true, "um": true, "uma": true, "de": true,
	"da": true, "do": true, "das": true, "dos": true, "e": true,
	"em": true, "que": true, "para": true, "com": true, "no": true,
	"na": true, "por": true, "se": true, "ao": true,
}

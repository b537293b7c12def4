// Package textnorm normalizes user- and LLM-supplied names before they
// are stored or embedded.
package textnorm

import (
	"strings"
	"unicode"
)

// smallWords are articles, conjunctions and short prepositions that stay
// lowercase in title case unless they are the first or last word.
var smallWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"and": true, "but": true, "or": true, "nor": true,
	"for": true, "so": true, "yet": true,
	"as": true, "at": true, "by": true, "in": true, "of": true,
	"off": true, "on": true, "per": true, "to": true, "up": true,
	"via": true, "with": true, "from": true, "into": true, "onto": true,
	"over": true, "under": true,
}

// TitleCase normalizes a name to title case: every word is capitalized
// except interior small words, and the first and last word are always
// capitalized regardless of class. Surrounding whitespace is dropped and
// runs of whitespace collapse to single spaces.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		lower := strings.ToLower(w)
		if i != 0 && i != len(words)-1 && smallWords[lower] {
			words[i] = lower
			continue
		}
		words[i] = capitalize(lower)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	runes := []rune(w)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
	}
	return string(runes)
}

// TrimNonAlphanumeric strips leading and trailing characters that are not
// letters or digits. Embedding near-duplicate strings that differ only in
// surrounding punctuation destabilizes similarity matching, so all text is
// trimmed this way before it is embedded.
func TrimNonAlphanumeric(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

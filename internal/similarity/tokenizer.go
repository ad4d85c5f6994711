package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Tokenize splits text into lowercased alphanumeric runs. CJK runs form their
// own tokens; punctuation and whitespace separate tokens and are dropped.
func Tokenize(text string) []string {
	folded, _, err := transform.String(foldTransformer, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)

	var (
		tokens  []string
		current strings.Builder
		inCJK   bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range folded {
		switch {
		case isCJK(r):
			if !inCJK {
				flush()
			}
			inCJK = true
			current.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if inCJK {
				flush()
			}
			inCJK = false
			current.WriteRune(r)
		default:
			flush()
			inCJK = false
		}
	}
	flush()
	return tokens
}

// Normalize returns the canonical form used for exact-match comparison.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

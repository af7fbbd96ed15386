package matcher

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// TextSimilarity is the case-insensitive word-set overlap between two
// descriptions: shared tokens over the smaller token set. Tokens of five or
// more letters that are one edit apart count as shared, which absorbs
// truncated or mistyped vendor names on statements.
func TextSimilarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for tok := range ta {
		if tb[tok] {
			shared++
			continue
		}
		if len(tok) < 5 {
			continue
		}
		for other := range tb {
			if len(other) >= 5 && levenshtein.ComputeDistance(tok, other) <= 1 {
				shared++
				break
			}
		}
	}

	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	return float64(shared) / float64(smaller)
}

// tokenize lowercases and splits on anything that is not a letter or digit.
// Pure numbers (card suffixes, reference numbers) are dropped.
func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) < 2 || isNumeric(f) {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

package quality

import (
	"strings"
	"unicode"
)

// Similarity returns a normalized token-overlap score in [0, 1] between two
// strings. Both sides are lowercased, stripped of extensions and punctuation,
// and compared as token sets (Dice coefficient). Path separators in a
// candidate filename are treated as token boundaries, so a match on
// "Artist/Album/01 - Title.flac" against "Artist - Title" behaves sensibly.
func Similarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)

	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	common := 0

	for tok := range ta {
		if tb[tok] {
			common++
		}
	}

	return 2 * float64(common) / float64(len(ta)+len(tb))
}

func tokenize(s string) map[string]bool {
	s = strings.ToLower(s)

	// Drop a trailing extension so ".flac" never counts as a token.
	if idx := strings.LastIndex(s, "."); idx > strings.LastIndexAny(s, "/\\") {
		s = s[:idx]
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make(map[string]bool, len(fields))

	for _, f := range fields {
		tokens[f] = true
	}

	return tokens
}

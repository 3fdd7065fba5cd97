// Package doctext computes text statistics for document and page metadata
// using Unicode word segmentation.
package doctext

import (
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
)

// Stats summarizes one text body.
type Stats struct {
	// Words counts segments containing at least one letter or digit.
	Words int `json:"num_words"`
	// Chars counts runes, whitespace included.
	Chars int `json:"num_chars"`
	// AlnumChars counts letter and digit runes.
	AlnumChars int `json:"num_alnum_chars"`
	// AlnumRatio is AlnumChars / Chars, 0 for empty text.
	AlnumRatio float64 `json:"alnum_ratio"`
}

// Analyze segments the text and derives its statistics.
func Analyze(text string) Stats {
	var s Stats
	s.Chars = utf8.RuneCountInString(text)
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			s.AlnumChars++
		}
	}
	if s.Chars > 0 {
		s.AlnumRatio = float64(s.AlnumChars) / float64(s.Chars)
	}

	tokens := words.FromString(text)
	for tokens.Next() {
		if isWord(tokens.Value()) {
			s.Words++
		}
	}
	return s
}

// isWord reports whether a segment carries alphanumeric content, filtering
// out whitespace and bare punctuation segments.
func isWord(seg string) bool {
	for _, r := range seg {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

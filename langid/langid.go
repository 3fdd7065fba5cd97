// Package langid assigns a language code and confidence to document text.
package langid

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

// Unknown is reported for text too short or too ambiguous to classify.
const Unknown = "unknown"

// Config bounds the classifier input.
type Config struct {
	// MinChars is the minimum rune count of trimmed text; below it the
	// result is Unknown with zero confidence rather than a guess. Default: 50.
	MinChars int `yaml:"min_chars"`
}

func (c *Config) defaults() {
	if c.MinChars <= 0 {
		c.MinChars = 50
	}
}

// Result is a language assignment.
type Result struct {
	// Code is the ISO 639-1 code, falling back to 639-3 for languages
	// without a two-letter code, or Unknown.
	Code string `json:"lang"`
	// Confidence is the classifier confidence in [0,1].
	Confidence float64 `json:"lang_confidence"`
}

// Detect classifies the given text. It runs once per document on the full
// concatenated text, never per fragment.
func Detect(text string, cfg Config) Result {
	cfg.defaults()

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < cfg.MinChars {
		return Result{Code: Unknown}
	}

	info := whatlanggo.Detect(trimmed)
	if !info.IsReliable() && info.Confidence < 0.5 {
		return Result{Code: Unknown}
	}

	code := info.Lang.Iso6391()
	if code == "" {
		code = info.Lang.Iso6393()
	}
	if code == "" {
		return Result{Code: Unknown}
	}
	conf := info.Confidence
	if conf > 1 {
		conf = 1
	}
	return Result{Code: code, Confidence: conf}
}

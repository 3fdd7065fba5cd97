// Package quality derives a scalar completeness score per document from the
// alignment and pagination signals. The score is deterministic for identical
// inputs and configuration, and monotone: a better signal never lowers it.
package quality

// Weights controls the relative contribution of each signal. They are
// normalized by their sum, so only ratios matter.
type Weights struct {
	// Alignment weights the share of structural characters placed on pages.
	Alignment float64 `yaml:"alignment"`
	// PageFill weights the ratio of non-empty pages to total pages.
	PageFill float64 `yaml:"page_fill"`
	// Diversity weights the count of distinct entity types, capped.
	Diversity float64 `yaml:"diversity"`
}

// Config is the scorer configuration.
type Config struct {
	Weights Weights `yaml:"weights"`
	// DiversityCap is the entity-type count at which the diversity signal
	// saturates. Default: 6.
	DiversityCap int `yaml:"diversity_cap"`
}

func (c *Config) defaults() {
	if c.Weights == (Weights{}) {
		c.Weights = Weights{Alignment: 0.6, PageFill: 0.25, Diversity: 0.15}
	}
	if c.DiversityCap <= 0 {
		c.DiversityCap = 6
	}
}

// Signals are the per-document inputs to the scorer.
type Signals struct {
	// AlignedRatio is the share of structural characters placed, in [0,1].
	AlignedRatio float64
	// NonEmptyPages and TotalPages count pages with and without text.
	NonEmptyPages int
	TotalPages    int
	// EntityTypes is the number of distinct semantic types present.
	EntityTypes int
}

// Score combines the signals into a value in [0,1].
func Score(s Signals, cfg Config) float64 {
	cfg.defaults()

	fill := 0.0
	if s.TotalPages > 0 {
		fill = float64(s.NonEmptyPages) / float64(s.TotalPages)
	}

	div := float64(s.EntityTypes) / float64(cfg.DiversityCap)
	if div > 1 {
		div = 1
	}

	w := cfg.Weights
	sum := w.Alignment + w.PageFill + w.Diversity
	if sum <= 0 {
		return 0
	}
	score := (w.Alignment*clamp01(s.AlignedRatio) + w.PageFill*fill + w.Diversity*div) / sum
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

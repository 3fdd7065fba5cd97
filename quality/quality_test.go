package quality

import "testing"

func TestScorePerfectDocument(t *testing.T) {
	s := Signals{AlignedRatio: 1, NonEmptyPages: 3, TotalPages: 3, EntityTypes: 6}
	if got := Score(s, Config{}); got != 1 {
		t.Errorf("perfect signals score %v, want 1", got)
	}
}

func TestScoreEmptyDocument(t *testing.T) {
	if got := Score(Signals{}, Config{}); got != 0 {
		t.Errorf("empty signals score %v, want 0", got)
	}
}

func TestScoreMonotoneInAlignment(t *testing.T) {
	base := Signals{NonEmptyPages: 2, TotalPages: 4, EntityTypes: 3}
	prev := -1.0
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 1} {
		s := base
		s.AlignedRatio = r
		got := Score(s, Config{})
		if got < prev {
			t.Fatalf("score decreased: aligned %v gave %v after %v", r, got, prev)
		}
		prev = got
	}
}

func TestScoreMonotoneInPageFill(t *testing.T) {
	prev := -1.0
	for n := 0; n <= 4; n++ {
		got := Score(Signals{AlignedRatio: 0.5, NonEmptyPages: n, TotalPages: 4, EntityTypes: 2}, Config{})
		if got < prev {
			t.Fatalf("score decreased at %d non-empty pages", n)
		}
		prev = got
	}
}

func TestScoreDiversityCaps(t *testing.T) {
	cfg := Config{DiversityCap: 4}
	at := func(types int) float64 {
		return Score(Signals{AlignedRatio: 1, NonEmptyPages: 1, TotalPages: 1, EntityTypes: types}, cfg)
	}
	if at(4) != at(10) {
		t.Errorf("diversity must saturate at the cap: %v vs %v", at(4), at(10))
	}
	if at(1) >= at(4) {
		t.Errorf("below the cap diversity must raise the score: %v vs %v", at(1), at(4))
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := Signals{AlignedRatio: 0.8, NonEmptyPages: 3, TotalPages: 5, EntityTypes: 4}
	cfg := Config{Weights: Weights{Alignment: 1, PageFill: 2, Diversity: 3}, DiversityCap: 8}
	a, b := Score(s, cfg), Score(s, cfg)
	if a != b {
		t.Errorf("non-deterministic: %v vs %v", a, b)
	}
	if a < 0 || a > 1 {
		t.Errorf("score %v outside [0,1]", a)
	}
}

func TestScoreCustomWeights(t *testing.T) {
	s := Signals{AlignedRatio: 1, NonEmptyPages: 0, TotalPages: 2, EntityTypes: 0}
	got := Score(s, Config{Weights: Weights{Alignment: 1}})
	if got != 1 {
		t.Errorf("alignment-only weighting score %v, want 1", got)
	}
}

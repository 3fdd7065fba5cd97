package doctext

import "testing"

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		words int
		chars int
		alnum int
	}{
		{"empty", "", 0, 0, 0},
		{"simple", "hello world", 2, 11, 10},
		{"punctuation", "Hi, there! (Really.)", 3, 20, 13},
		{"numbers", "room 42 on floor 3", 5, 18, 13},
		{"unicode", "héllo wörld", 2, 11, 10},
		{"punct only", "... --- !!!", 0, 11, 0},
		{"contraction", "don't stop", 2, 10, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Analyze(tt.text)
			if s.Words != tt.words {
				t.Errorf("words = %d, want %d", s.Words, tt.words)
			}
			if s.Chars != tt.chars {
				t.Errorf("chars = %d, want %d", s.Chars, tt.chars)
			}
			if s.AlnumChars != tt.alnum {
				t.Errorf("alnum = %d, want %d", s.AlnumChars, tt.alnum)
			}
		})
	}
}

func TestAnalyzeRatio(t *testing.T) {
	s := Analyze("ab ")
	want := 2.0 / 3.0
	if s.AlnumRatio < want-0.001 || s.AlnumRatio > want+0.001 {
		t.Errorf("ratio %v, want %v", s.AlnumRatio, want)
	}
	if Analyze("").AlnumRatio != 0 {
		t.Error("empty text ratio must be 0")
	}
}

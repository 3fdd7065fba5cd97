package langid

import "testing"

func TestDetectEnglish(t *testing.T) {
	text := "The quarterly report shows that revenue increased across all regions, " +
		"with particularly strong growth in the services division during the second half."
	r := Detect(text, Config{})
	if r.Code != "en" {
		t.Errorf("code %q, want en", r.Code)
	}
	if r.Confidence <= 0 {
		t.Errorf("confidence %v, want > 0", r.Confidence)
	}
}

func TestDetectGerman(t *testing.T) {
	text := "Der vorliegende Bericht beschreibt die wirtschaftliche Entwicklung des " +
		"Unternehmens im vergangenen Geschäftsjahr und erläutert die wichtigsten Kennzahlen."
	r := Detect(text, Config{})
	if r.Code != "de" {
		t.Errorf("code %q, want de", r.Code)
	}
}

func TestDetectTooShort(t *testing.T) {
	r := Detect("hi", Config{})
	if r.Code != Unknown || r.Confidence != 0 {
		t.Errorf("short text must be unknown/0, got %+v", r)
	}
}

func TestDetectMinCharsConfigurable(t *testing.T) {
	text := "bonjour tout le monde, comment allez-vous aujourd'hui mes amis"
	if r := Detect(text, Config{MinChars: 500}); r.Code != Unknown {
		t.Errorf("below threshold must be unknown, got %q", r.Code)
	}
	if r := Detect(text, Config{MinChars: 10}); r.Code == Unknown {
		t.Error("above threshold should classify")
	}
}

func TestDetectEmptyText(t *testing.T) {
	if r := Detect("   \n\t ", Config{}); r.Code != Unknown {
		t.Errorf("whitespace-only text must be unknown, got %q", r.Code)
	}
}

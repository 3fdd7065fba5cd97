package sources

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTarGz(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "shard_0001.tar.gz")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	for name, data := range entries {
		if err := tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0644, Size: int64(len(data)), Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEntries(t *testing.T) {
	p := writeTarGz(t, map[string][]byte{
		"doc_abc123.docx": []byte("payload-a"),
		"doc_def456.doc":  []byte("payload-b"),
		"manifest.txt":    []byte("not a doc"),
	})

	a, err := Open(p, 0)
	if err != nil {
		t.Fatal(err)
	}

	got := map[string]int{}
	for e, err := range a.Entries() {
		if err != nil {
			t.Fatalf("unexpected entry error: %v", err)
		}
		got[e.Name] = len(e.Data)
		if e.DocID == "" || len(e.DocID) != 32 {
			t.Errorf("bad doc id %q for %s", e.DocID, e.Name)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got["doc_abc123.docx"] != len("payload-a") {
		t.Errorf("entry bytes lost: %v", got)
	}
}

func TestEntriesRestartable(t *testing.T) {
	p := writeTarGz(t, map[string][]byte{"doc_x.docx": []byte("x")})
	a, err := Open(p, 0)
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		n := 0
		for _, err := range a.Entries() {
			if err != nil {
				t.Fatal(err)
			}
			n++
		}
		if n != 1 {
			t.Fatalf("expected 1 entry per pass, got %d", n)
		}
	}
}

func TestEntriesSizeCap(t *testing.T) {
	p := writeTarGz(t, map[string][]byte{
		"doc_big.docx":   make([]byte, 100),
		"doc_small.docx": []byte("ok"),
	})
	a, err := Open(p, 10)
	if err != nil {
		t.Fatal(err)
	}

	var tooLarge, ok int
	for e, err := range a.Entries() {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrEntryTooLarge):
			tooLarge++
			if e.DocID == "" {
				t.Error("oversized entry must keep its doc id for the failure record")
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if tooLarge != 1 || ok != 1 {
		t.Fatalf("tooLarge=%d ok=%d, want 1/1", tooLarge, ok)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.tar.gz")
	if err := os.WriteFile(p, []byte("this is not gzip"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(p, 0); err == nil {
		t.Error("expected error for non-gzip archive")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.tar.gz"), 0); err == nil {
		t.Error("expected error for missing archive")
	}
}

func TestDocIDStable(t *testing.T) {
	a := DocID("doc_abc123.docx")
	b := DocID("subdir/doc_abc123.docx")
	if a != b {
		t.Errorf("doc id must depend on the base name only: %s != %s", a, b)
	}
	if DocID("doc_abc123.docx") == DocID("doc_abc124.docx") {
		t.Error("distinct names must hash to distinct ids")
	}
	if DocID("report.doc") == DocID("report.docx") {
		t.Error("the extension is part of the id; same stem must not collide")
	}
}

func TestIsDocument(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"doc_1.docx", true},
		{"doc_2.DOC", true},
		{"notes.txt", false},
		{"archive.tar.gz", false},
	}
	for _, tt := range tests {
		if got := IsDocument(tt.name); got != tt.want {
			t.Errorf("IsDocument(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docscape/convert"
)

// minimalPDF builds a valid n-page PDF with a correct xref table, enough for
// page counting and validation.
func minimalPDF(n int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	var offsets []int
	add := func(s string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(s)
	}

	var kids strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&kids, "%d 0 R ", 3+i)
	}
	add("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	add(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids.String(), n))
	for i := 0; i < n; i++ {
		add(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n", 3+i))
	}

	xref := buf.Len()
	size := len(offsets) + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xref)
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return p
}

// newStubSupervisor wires a supervisor whose pdftoppm copies pre-rendered PNG
// fixtures and whose pdftotext emits a fixed bbox document.
func newStubSupervisor(t *testing.T, imagePages int, xhtml string) *convert.Supervisor {
	t.Helper()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.png")
	if err := os.WriteFile(src, encodePNG(t, 100, 200), 0644); err != nil {
		t.Fatal(err)
	}
	var toppm strings.Builder
	toppm.WriteString("for a; do last=$a; done\n")
	for i := 1; i <= imagePages; i++ {
		fmt.Fprintf(&toppm, "cp %q \"$last-%d.png\"\n", src, i)
	}

	layer := filepath.Join(dir, "layer.xhtml")
	if err := os.WriteFile(layer, []byte(xhtml), 0644); err != nil {
		t.Fatal(err)
	}

	s := convert.NewSupervisor(convert.Config{
		Workers:       1,
		Timeout:       5 * time.Second,
		PdftoppmBin:   writeStub(t, dir, "pdftoppm", toppm.String()),
		PdftotextBin:  writeStub(t, dir, "pdftotext", `for a; do last=$a; done; cp `+fmt.Sprintf("%q", layer)+` "$last"`),
		WorkDir:       dir,
		SkipPortProbe: true,
	})
	t.Cleanup(func() { s.Close() })
	return s
}

const bboxOnePage = `<?xml version="1.0"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<body>
<doc>
  <page width="612.000000" height="792.000000">
    <word xMin="61.2" yMin="79.2" xMax="122.4" yMax="99.0">Hello</word>
    <word xMin="130.0" yMin="79.2" xMax="180.0" yMax="99.0">world</word>
  </page>
</doc>
</body>
</html>`

func TestParseTextLayer(t *testing.T) {
	pages, err := parseTextLayer([]byte(bboxOnePage))
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	p := pages[0]
	if p.width != 612 || p.height != 792 {
		t.Errorf("page dims %vx%v, want 612x792", p.width, p.height)
	}
	if len(p.words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(p.words))
	}
	if p.words[0].Text != "Hello" || p.words[1].Text != "world" {
		t.Errorf("words %q %q", p.words[0].Text, p.words[1].Text)
	}
	w := p.words[0]
	if w.Box.X != 61.2 || w.Box.Y != 79.2 {
		t.Errorf("word origin (%v,%v), want (61.2,79.2)", w.Box.X, w.Box.Y)
	}
	if got := w.Box.Width; got < 61.19 || got > 61.21 {
		t.Errorf("word width %v, want 61.2", got)
	}
}

func TestParseTextLayerSkipsEmptyWords(t *testing.T) {
	doc := `<html><body><doc><page width="612" height="792">
<word xMin="0" yMin="0" xMax="10" yMax="10">  </word>
<word xMin="5" yMin="5" xMax="5" yMax="10">degenerate</word>
<word xMin="0" yMin="0" xMax="10" yMax="10">kept</word>
</page></doc></body></html>`
	pages, err := parseTextLayer([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(pages[0].words) != 1 || pages[0].words[0].Text != "kept" {
		t.Fatalf("expected only the non-degenerate word, got %v", pages[0].words)
	}
}

func TestPaginate(t *testing.T) {
	s := newStubSupervisor(t, 1, bboxOnePage)

	res, err := Paginate(context.Background(), s, minimalPDF(1), Config{DPI: 100})
	if err != nil {
		t.Fatal(err)
	}
	if res.Truncated || res.TotalPages != 1 || len(res.Pages) != 1 {
		t.Fatalf("unexpected result shape: %+v", res)
	}

	p := res.Pages[0]
	if p.Number != 1 || p.Width != 100 || p.Height != 200 {
		t.Fatalf("page 1: number=%d dims=%dx%d", p.Number, p.Width, p.Height)
	}
	if len(p.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(p.Words))
	}
	// 612pt wide page rendered at 100px: scale x = 100/612.
	w := p.Words[0]
	wantX := 61.2 * 100 / 612
	if w.Box.X < wantX-0.01 || w.Box.X > wantX+0.01 {
		t.Errorf("word x = %v, want %v", w.Box.X, wantX)
	}
	if got := p.Text(); got != "Hello world" {
		t.Errorf("page text %q, want %q", got, "Hello world")
	}
}

func TestPaginateTruncates(t *testing.T) {
	xhtml := `<html><body><doc>
<page width="612" height="792"><word xMin="1" yMin="1" xMax="9" yMax="9">a</word></page>
<page width="612" height="792"><word xMin="1" yMin="1" xMax="9" yMax="9">b</word></page>
<page width="612" height="792"><word xMin="1" yMin="1" xMax="9" yMax="9">c</word></page>
</doc></body></html>`
	// The raster stub honors the truncation: only two page images appear.
	s := newStubSupervisor(t, 2, xhtml)

	res, err := Paginate(context.Background(), s, minimalPDF(3), Config{DPI: 100, MaxPages: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Error("expected Truncated")
	}
	if res.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", res.TotalPages)
	}
	if len(res.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(res.Pages))
	}
	if res.Pages[1].Words[0].Text != "b" {
		t.Errorf("page 2 word %q, want %q", res.Pages[1].Words[0].Text, "b")
	}
}

func TestPaginateResizes(t *testing.T) {
	s := newStubSupervisor(t, 1, bboxOnePage)

	res, err := Paginate(context.Background(), s, minimalPDF(1), Config{
		DPI: 100, TargetWidth: 50, TargetHeight: 80,
	})
	if err != nil {
		t.Fatal(err)
	}
	p := res.Pages[0]
	if p.Width != 50 || p.Height != 80 {
		t.Fatalf("resized dims %dx%d, want 50x80", p.Width, p.Height)
	}
	img, err := png.Decode(bytes.NewReader(p.PNG))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 80 {
		t.Errorf("encoded image is %v, want 50x80", img.Bounds())
	}
	// Word geometry follows the resized raster: scale x = 50/612.
	wantX := 61.2 * 50 / 612
	got := p.Words[0].Box.X
	if got < wantX-0.01 || got > wantX+0.01 {
		t.Errorf("word x = %v, want %v", got, wantX)
	}
}

func TestPaginateRejectsCorruptPDF(t *testing.T) {
	s := newStubSupervisor(t, 1, bboxOnePage)

	if _, err := Paginate(context.Background(), s, []byte("not a pdf"), Config{}); err == nil {
		t.Fatal("expected an error for a corrupt fixed-layout payload")
	}
}

func TestPaginatePageCountMismatch(t *testing.T) {
	// Two PDF pages but only one raster page: the tool chain disagrees with
	// itself, which must surface as an error rather than silent truncation.
	xhtml := `<html><body><doc>
<page width="612" height="792"><word xMin="1" yMin="1" xMax="9" yMax="9">a</word></page>
<page width="612" height="792"><word xMin="1" yMin="1" xMax="9" yMax="9">b</word></page>
</doc></body></html>`
	s := newStubSupervisor(t, 1, xhtml)

	if _, err := Paginate(context.Background(), s, minimalPDF(2), Config{DPI: 100}); err == nil {
		t.Fatal("expected page count mismatch error")
	}
}

// Package render turns a normalized zip-XML document into its fixed-layout
// representation and derives the geometric ground truth from it: one raster
// image per page plus the positioned word layer. All external tool calls go
// through the convert.Supervisor.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/docscape/convert"
	"github.com/hazyhaar/docscape/geom"
)

// ErrNoPages reports a rendering that produced an empty fixed-layout output.
var ErrNoPages = errors.New("render: document produced zero pages")

// Config configures pagination.
type Config struct {
	// DPI is the raster resolution. Default: 150.
	DPI int `yaml:"dpi"`

	// MaxPages truncates documents beyond this page count; the truncation is
	// recorded, not fatal. 0 (the default) disables the limit.
	MaxPages int `yaml:"max_pages"`

	// TargetWidth/TargetHeight resize page images to a fixed size when both
	// are > 0; aspect ratio is not preserved (the word boxes are scaled with
	// the image, so geometry stays consistent).
	TargetWidth  int `yaml:"target_width"`
	TargetHeight int `yaml:"target_height"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.DPI <= 0 {
		c.DPI = 150
	}
	if c.MaxPages < 0 {
		c.MaxPages = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Word is one positioned word from the fixed-layout text layer, with its box
// in final image pixel coordinates.
type Word struct {
	Text string   `json:"text"`
	Box  geom.Box `json:"box"`
}

// Page is one rendered page.
type Page struct {
	// Number is the 1-based page ordinal.
	Number int
	// PNG holds the encoded page image.
	PNG []byte
	// Width and Height are the final image dimensions in pixels.
	Width, Height int
	// Words is the positioned text layer in reading order.
	Words []Word
}

// Text returns the page's extracted plain text.
func (p *Page) Text() string {
	var sb bytes.Buffer
	for i, w := range p.Words {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w.Text)
	}
	return sb.String()
}

// Result is the geometric ground truth for one document.
type Result struct {
	Pages []Page
	// Truncated is set when the document exceeded MaxPages and was cut.
	Truncated bool
	// TotalPages is the page count of the full fixed-layout output, before
	// truncation.
	TotalPages int
}

// ToPDF renders the whole document to its fixed-layout representation.
func ToPDF(ctx context.Context, sup *convert.Supervisor, docx []byte) ([]byte, error) {
	pdf, err := sup.Convert(ctx, docx, convert.FormatDocx, convert.FormatPDF)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// pageCount validates the PDF and returns its page count, using the same
// pdfcpu read path for corrupt-output detection as for counting.
func pageCount(pdf []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, fmt.Errorf("render: unreadable fixed-layout output: %w", err)
	}
	return pdfCtx.PageCount, nil
}

// Paginate rasterizes the fixed-layout output and attaches the positioned
// word layer, scaled into image pixel coordinates.
func Paginate(ctx context.Context, sup *convert.Supervisor, pdf []byte, cfg Config) (*Result, error) {
	cfg.defaults()

	total, err := pageCount(pdf)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, ErrNoPages
	}

	limit := total
	truncated := false
	if cfg.MaxPages > 0 && total > cfg.MaxPages {
		limit = cfg.MaxPages
		truncated = true
		cfg.Logger.Debug("render: truncating document", "pages", total, "limit", limit)
	}

	images, err := sup.Rasterize(ctx, pdf, cfg.DPI, limit)
	if err != nil {
		return nil, err
	}

	layer, err := sup.TextLayer(ctx, pdf)
	if err != nil {
		return nil, err
	}
	textPages, err := parseTextLayer(layer)
	if err != nil {
		return nil, err
	}
	if len(textPages) > limit {
		textPages = textPages[:limit]
	}
	if len(textPages) != len(images) {
		return nil, fmt.Errorf("render: page count mismatch: %d images vs %d text pages",
			len(images), len(textPages))
	}

	pages := make([]Page, 0, len(images))
	for i, data := range images {
		p, err := buildPage(i+1, data, textPages[i], cfg)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return &Result{Pages: pages, Truncated: truncated, TotalPages: total}, nil
}

// buildPage decodes one page image, optionally resizes it, and maps the
// text-layer words from PDF points onto the image pixel grid.
func buildPage(number int, data []byte, tp textPage, cfg Config) (Page, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return Page{}, fmt.Errorf("render: decode page %d image: %w", number, err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if cfg.TargetWidth > 0 && cfg.TargetHeight > 0 && (w != cfg.TargetWidth || h != cfg.TargetHeight) {
		dst := image.NewRGBA(image.Rect(0, 0, cfg.TargetWidth, cfg.TargetHeight))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
		var buf bytes.Buffer
		if err := png.Encode(&buf, dst); err != nil {
			return Page{}, fmt.Errorf("render: encode resized page %d: %w", number, err)
		}
		data = buf.Bytes()
		w, h = cfg.TargetWidth, cfg.TargetHeight
	}

	page := Page{Number: number, PNG: data, Width: w, Height: h}

	// Scale word boxes from PDF points into pixels and clamp to the page.
	if tp.width > 0 && tp.height > 0 {
		sx := float64(w) / tp.width
		sy := float64(h) / tp.height
		page.Words = make([]Word, 0, len(tp.words))
		for _, tw := range tp.words {
			box := tw.Box.Scale(sx, sy).Clamp(float64(w), float64(h))
			if box.Empty() {
				continue
			}
			page.Words = append(page.Words, Word{Text: tw.Text, Box: box})
		}
	}
	return page, nil
}

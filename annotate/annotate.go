// Package annotate drives one document through the annotation stages:
// normalize format, render, rasterize, extract structure, align, score.
// Every failure carries the stage it happened in and a stable reason code,
// so a shard can account for it and move on.
package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docscape/align"
	"github.com/hazyhaar/docscape/convert"
	"github.com/hazyhaar/docscape/doctext"
	"github.com/hazyhaar/docscape/entity"
	"github.com/hazyhaar/docscape/langid"
	"github.com/hazyhaar/docscape/quality"
	"github.com/hazyhaar/docscape/render"
	"github.com/hazyhaar/docscape/sources"
	"github.com/hazyhaar/docscape/structure"
)

// Stage identifies where in the per-document state machine an error occurred.
type Stage string

const (
	StageRead      Stage = "read"
	StageNormalize Stage = "normalize"
	StageRender    Stage = "render"
	StageRasterize Stage = "rasterize"
	StageExtract   Stage = "extract"
	StageAlign     Stage = "align"
	StageScore     Stage = "score"
	StageWrite     Stage = "write"
)

// Reason is a stable failure reason code. These appear in the failure ledger
// and must not change meaning across releases.
type Reason string

const (
	UnsupportedFormat   Reason = "unsupported_format"
	ConversionTimeout   Reason = "conversion_timeout"
	RenderFailure       Reason = "render_failure"
	ExtractionMismatch  Reason = "extraction_mismatch"
	CorruptArchiveEntry Reason = "corrupt_archive_entry"
	DocTooLarge         Reason = "doc_too_large"
	TextTooShort        Reason = "text_too_short"
	Cancelled           Reason = "cancelled"
	InternalError       Reason = "internal_error"
)

// StageError is a per-document failure tied to a stage and reason.
type StageError struct {
	Stage  Stage
	Reason Reason
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fail builds a StageError.
func Fail(stage Stage, reason Reason, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}

// Magic byte signatures. The filename extension is untrusted; only these
// decide the format.
var (
	magicOLE2 = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	magicZip  = []byte{0x50, 0x4B, 0x03, 0x04}
)

// DetectFormat classifies a payload as legacy binary or zip-XML container.
func DetectFormat(data []byte) (convert.Format, bool) {
	switch {
	case bytes.HasPrefix(data, magicOLE2):
		return convert.FormatDoc, true
	case bytes.HasPrefix(data, magicZip):
		return convert.FormatDocx, true
	}
	return "", false
}

// Page is one fully annotated page.
type Page struct {
	Number   int
	Image    []byte
	Width    int
	Height   int
	Text     string
	Words    []render.Word
	Entities []align.Entity
	Language langid.Result
	Stats    doctext.Stats
}

// Document is the terminal annotated form of one input document.
type Document struct {
	ID         string
	SourceName string
	Pages      []Page

	Language langid.Result
	Stats    doctext.Stats
	Quality  float64

	// AlignedRatio is the share of structural characters placed on pages.
	AlignedRatio float64
	// MismatchedSpans counts structural spans excluded by alignment.
	MismatchedSpans int
	// PageLimitExceeded marks documents truncated to the page limit.
	PageLimitExceeded bool
	// TotalPages is the pre-truncation page count.
	TotalPages int
	// Elapsed is the wall-clock annotation time.
	Elapsed time.Duration
}

// Config configures the per-document pipeline.
type Config struct {
	// MaxDocBytes caps the document size before and after normalization,
	// guarding against archive bombs. 0 disables the cap.
	MaxDocBytes int64 `yaml:"max_doc_bytes"`

	// MinTextChars fails documents whose extracted text is shorter, with
	// TextTooShort. 0 (the default) disables the filter; short documents
	// then pass through with an unknown language instead.
	MinTextChars int `yaml:"min_text_chars"`

	// PerPageLanguage enables language prediction per page in addition to
	// the whole-document prediction.
	PerPageLanguage bool `yaml:"per_page_language"`

	Render  render.Config  `yaml:"render"`
	Align   align.Config   `yaml:"align"`
	Langid  langid.Config  `yaml:"langid"`
	Quality quality.Config `yaml:"quality"`

	// Styles overrides the built-in style-to-entity rules when non-empty.
	Styles []entity.StyleRule `yaml:"styles"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline annotates documents one at a time. It is safe for concurrent use;
// conversion concurrency is bounded by the supervisor pool.
type Pipeline struct {
	sup    *convert.Supervisor
	cfg    Config
	styles *entity.StyleMap
	log    *slog.Logger
}

// New builds a Pipeline over a started supervisor.
func New(sup *convert.Supervisor, cfg Config) (*Pipeline, error) {
	cfg.defaults()
	styles := entity.DefaultStyleMap()
	if len(cfg.Styles) > 0 {
		var err error
		styles, err = entity.NewStyleMap(cfg.Styles)
		if err != nil {
			return nil, fmt.Errorf("annotate: style rules: %w", err)
		}
	}
	return &Pipeline{sup: sup, cfg: cfg, styles: styles, log: cfg.Logger}, nil
}

// Run drives one archive entry through the full stage sequence. It returns
// either an annotated document or a StageError; panics in any stage surface
// as InternalError rather than tearing down the shard.
func (p *Pipeline) Run(ctx context.Context, e sources.Entry) (doc *Document, serr *StageError) {
	start := time.Now()
	stage := StageRead
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			serr = Fail(stage, InternalError, fmt.Errorf("panic: %v", r))
			p.log.Error("annotate: recovered panic", "doc", e.DocID, "stage", stage, "panic", r)
		}
	}()

	if p.cfg.MaxDocBytes > 0 && int64(len(e.Data)) > p.cfg.MaxDocBytes {
		return nil, Fail(StageRead, DocTooLarge, fmt.Errorf("%d bytes", len(e.Data)))
	}

	stage = StageNormalize
	docx, serr := p.normalize(ctx, e)
	if serr != nil {
		return nil, serr
	}

	stage = StageRender
	pdf, serr := p.render(ctx, docx)
	if serr != nil {
		return nil, serr
	}

	stage = StageRasterize
	laid, serr := p.rasterize(ctx, pdf)
	if serr != nil {
		return nil, serr
	}

	stage = StageExtract
	tree, serr := p.extract(docx)
	if serr != nil {
		return nil, serr
	}

	stage = StageAlign
	aligned, serr := p.align(tree, laid.Pages)
	if serr != nil {
		return nil, serr
	}

	stage = StageScore
	doc, serr = p.score(e, laid, aligned)
	if serr != nil {
		return nil, serr
	}
	doc.Elapsed = time.Since(start)
	return doc, nil
}

// normalize detects the container format and converts legacy binaries to the
// zip-XML form via the supervisor.
func (p *Pipeline) normalize(ctx context.Context, e sources.Entry) ([]byte, *StageError) {
	format, ok := DetectFormat(e.Data)
	if !ok {
		return nil, Fail(StageNormalize, UnsupportedFormat, errors.New("unrecognized magic bytes"))
	}
	if format == convert.FormatDocx {
		return e.Data, nil
	}

	docx, err := p.sup.Convert(ctx, e.Data, convert.FormatDoc, convert.FormatDocx)
	if err != nil {
		return nil, convertErr(StageNormalize, UnsupportedFormat, err)
	}
	if p.cfg.MaxDocBytes > 0 && int64(len(docx)) > p.cfg.MaxDocBytes {
		// Legacy binaries can decompress into something far larger.
		return nil, Fail(StageNormalize, DocTooLarge, fmt.Errorf("%d bytes after normalization", len(docx)))
	}
	return docx, nil
}

func (p *Pipeline) render(ctx context.Context, docx []byte) ([]byte, *StageError) {
	pdf, err := render.ToPDF(ctx, p.sup, docx)
	if err != nil {
		return nil, convertErr(StageRender, RenderFailure, err)
	}
	return pdf, nil
}

func (p *Pipeline) rasterize(ctx context.Context, pdf []byte) (*render.Result, *StageError) {
	res, err := render.Paginate(ctx, p.sup, pdf, p.cfg.Render)
	if err != nil {
		return nil, convertErr(StageRasterize, RenderFailure, err)
	}
	return res, nil
}

func (p *Pipeline) extract(docx []byte) (*structure.Tree, *StageError) {
	tree, err := structure.Extract(docx, p.styles)
	if err != nil {
		if errors.Is(err, structure.ErrNotZipXML) {
			return nil, Fail(StageExtract, UnsupportedFormat, err)
		}
		return nil, Fail(StageExtract, InternalError, err)
	}
	return tree, nil
}

func (p *Pipeline) align(tree *structure.Tree, pages []render.Page) (*align.Result, *StageError) {
	res, err := align.Align(tree, pages, p.cfg.Align)
	if err != nil {
		return nil, Fail(StageAlign, ExtractionMismatch, err)
	}
	return res, nil
}

// score assembles the final document: per-page records, language, text
// statistics and the quality score.
func (p *Pipeline) score(e sources.Entry, laid *render.Result, aligned *align.Result) (*Document, *StageError) {
	doc := &Document{
		ID:                e.DocID,
		SourceName:        e.Name,
		AlignedRatio:      aligned.AlignedRatio(),
		MismatchedSpans:   len(aligned.Mismatched),
		PageLimitExceeded: laid.Truncated,
		TotalPages:        laid.TotalPages,
	}

	byPage := make(map[int][]align.Entity)
	for _, ent := range aligned.Entities {
		byPage[ent.Page] = append(byPage[ent.Page], ent)
	}

	var fullText bytes.Buffer
	nonEmpty := 0
	types := make(map[entity.Type]struct{})

	for _, rp := range laid.Pages {
		text := rp.Text()
		page := Page{
			Number:   rp.Number,
			Image:    rp.PNG,
			Width:    rp.Width,
			Height:   rp.Height,
			Text:     text,
			Words:    rp.Words,
			Entities: byPage[rp.Number],
			Stats:    doctext.Analyze(text),
		}
		if p.cfg.PerPageLanguage {
			page.Language = langid.Detect(text, p.cfg.Langid)
		}
		for _, ent := range page.Entities {
			types[ent.Type] = struct{}{}
		}
		if text != "" {
			nonEmpty++
			if fullText.Len() > 0 {
				fullText.WriteByte('\n')
			}
			fullText.WriteString(text)
		}
		doc.Pages = append(doc.Pages, page)
	}

	doc.Stats = doctext.Analyze(fullText.String())
	if p.cfg.MinTextChars > 0 && doc.Stats.Chars < p.cfg.MinTextChars {
		return nil, Fail(StageScore, TextTooShort, fmt.Errorf("%d chars", doc.Stats.Chars))
	}

	doc.Language = langid.Detect(fullText.String(), p.cfg.Langid)
	doc.Quality = quality.Score(quality.Signals{
		AlignedRatio:  doc.AlignedRatio,
		NonEmptyPages: nonEmpty,
		TotalPages:    len(laid.Pages),
		EntityTypes:   len(types),
	}, p.cfg.Quality)
	return doc, nil
}

// convertErr maps supervisor and renderer errors onto the failure taxonomy:
// timeouts and cancellation keep their own reasons, everything else takes the
// stage's default reason.
func convertErr(stage Stage, fallback Reason, err error) *StageError {
	switch {
	case errors.Is(err, convert.ErrTimeout):
		return Fail(stage, ConversionTimeout, err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return Fail(stage, Cancelled, err)
	default:
		return Fail(stage, fallback, err)
	}
}

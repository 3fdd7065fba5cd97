package shard

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/docscape/annotate"
)

// WriterConfig configures one shard's output streams.
type WriterConfig struct {
	// OutDir is the run output root; the writer creates the failed/, meta/,
	// multimodal/ and text/ subtrees under it.
	OutDir string `yaml:"out_dir"`

	// Shard is the shard name used in output file names.
	Shard string `yaml:"-"`

	// MaxShardBytes rotates to a new output segment when the multimodal
	// bundle's raw content exceeds it. 0 disables rotation.
	MaxShardBytes int64 `yaml:"max_shard_bytes"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *WriterConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Writer owns one shard's segment of every output stream. It is not safe for
// concurrent use; the driver serializes writes.
type Writer struct {
	cfg WriterConfig
	seq int

	failed   *jsonlFile
	docMeta  *jsonlFile
	pageMeta *jsonlFile
	docText  *jsonlFile
	pageText *jsonlFile

	bundleFile  *os.File
	bundleGzip  *gzip.Writer
	bundle      *tar.Writer
	bundleBytes int64
}

type jsonlFile struct {
	f   *os.File
	enc *json.Encoder
}

func (j *jsonlFile) write(v any) error { return j.enc.Encode(v) }

func (j *jsonlFile) close() error {
	if err := j.f.Sync(); err != nil {
		j.f.Close()
		return err
	}
	return j.f.Close()
}

// NewWriter creates the output tree and opens the first segment.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	cfg.defaults()
	if cfg.Shard == "" {
		return nil, fmt.Errorf("shard: writer needs a shard name")
	}
	for _, d := range []string{"failed", "meta", "multimodal", "text"} {
		if err := os.MkdirAll(filepath.Join(cfg.OutDir, d), 0o755); err != nil {
			return nil, fmt.Errorf("shard: create output tree: %w", err)
		}
	}
	w := &Writer{cfg: cfg}
	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// segmentID names the current output segment: `<shard>_<nnnnn>`.
func (w *Writer) segmentID() string {
	return fmt.Sprintf("%s_%05d", w.cfg.Shard, w.seq)
}

// Segments returns how many segments have been opened so far.
func (w *Writer) Segments() int { return w.seq + 1 }

func (w *Writer) openSegment() error {
	id := w.segmentID()
	open := func(dir, prefix string) (*jsonlFile, error) {
		p := filepath.Join(w.cfg.OutDir, dir, fmt.Sprintf("%s_%s.jsonl", prefix, id))
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("shard: open %s: %w", p, err)
		}
		return &jsonlFile{f: f, enc: json.NewEncoder(f)}, nil
	}

	var err error
	if w.failed, err = open("failed", "failed"); err != nil {
		return err
	}
	if w.docMeta, err = open("meta", "doc_meta"); err != nil {
		return err
	}
	if w.pageMeta, err = open("meta", "page_meta"); err != nil {
		return err
	}
	if w.docText, err = open("text", "doc_text"); err != nil {
		return err
	}
	if w.pageText, err = open("text", "page_text"); err != nil {
		return err
	}

	bp := filepath.Join(w.cfg.OutDir, "multimodal", fmt.Sprintf("docs_%s.tar.gz", id))
	w.bundleFile, err = os.OpenFile(bp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("shard: open bundle %s: %w", bp, err)
	}
	w.bundleGzip = gzip.NewWriter(w.bundleFile)
	w.bundle = tar.NewWriter(w.bundleGzip)
	w.bundleBytes = 0
	return nil
}

func (w *Writer) closeSegment() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.bundle.Close())
	keep(w.bundleGzip.Close())
	keep(w.bundleFile.Close())
	for _, j := range []*jsonlFile{w.failed, w.docMeta, w.pageMeta, w.docText, w.pageText} {
		keep(j.close())
	}
	return firstErr
}

// rotate closes the current segment and opens the next one.
func (w *Writer) rotate() error {
	if err := w.closeSegment(); err != nil {
		return fmt.Errorf("shard: rotate: %w", err)
	}
	w.seq++
	w.cfg.Logger.Info("shard: rotated output segment", "shard", w.cfg.Shard, "segment", w.segmentID())
	return w.openSegment()
}

// WriteFailure appends one record to the failure ledger.
func (w *Writer) WriteFailure(rec FailureRecord) error {
	if err := w.failed.write(rec); err != nil {
		return fmt.Errorf("shard: write failure record: %w", err)
	}
	return nil
}

// WriteDocument flushes one annotated document to every stream: metadata,
// text, and the multimodal bundle with one image and three JSON sidecars per
// page.
func (w *Writer) WriteDocument(doc *annotate.Document) error {
	now := time.Now().UTC()

	meta := DocMeta{
		DocID:             doc.ID,
		Source:            doc.SourceName,
		Shard:             w.segmentID(),
		Pages:             len(doc.Pages),
		TotalPages:        doc.TotalPages,
		PageLimitExceeded: doc.PageLimitExceeded,
		Lang:              doc.Language.Code,
		LangConfidence:    doc.Language.Confidence,
		Quality:           doc.Quality,
		AlignedRatio:      doc.AlignedRatio,
		MismatchedSpans:   doc.MismatchedSpans,
		Stats:             doc.Stats,
		ElapsedMS:         doc.Elapsed.Milliseconds(),
		AnnotatedAt:       now.Format(time.RFC3339),
	}
	if err := w.docMeta.write(meta); err != nil {
		return fmt.Errorf("shard: write doc meta: %w", err)
	}

	var fullText []byte
	for i, p := range doc.Pages {
		if i > 0 {
			fullText = append(fullText, '\n')
		}
		fullText = append(fullText, p.Text...)

		pm := PageMeta{
			DocID:    doc.ID,
			Page:     p.Number,
			Width:    p.Width,
			Height:   p.Height,
			Entities: len(p.Entities),
			Words:    len(p.Words),
			Lang:     p.Language.Code,
			Stats:    p.Stats,
		}
		if err := w.pageMeta.write(pm); err != nil {
			return fmt.Errorf("shard: write page meta: %w", err)
		}
		if err := w.pageText.write(PageText{DocID: doc.ID, Page: p.Number, Text: p.Text}); err != nil {
			return fmt.Errorf("shard: write page text: %w", err)
		}
		if err := w.writeBundlePage(doc.ID, p); err != nil {
			return err
		}
	}

	if err := w.docText.write(DocText{DocID: doc.ID, Text: string(fullText)}); err != nil {
		return fmt.Errorf("shard: write doc text: %w", err)
	}

	if w.cfg.MaxShardBytes > 0 && w.bundleBytes >= w.cfg.MaxShardBytes {
		return w.rotate()
	}
	return nil
}

// writeBundlePage adds one page's image and sidecars to the tar bundle.
func (w *Writer) writeBundlePage(docID string, p annotate.Page) error {
	pageID := fmt.Sprintf("%s_p%d", docID, p.Number)

	if err := w.addBundleEntry(pageID+".png", p.Image); err != nil {
		return err
	}

	textJSON, err := json.Marshal(struct {
		Text string `json:"text"`
	}{p.Text})
	if err != nil {
		return fmt.Errorf("shard: marshal page text: %w", err)
	}
	if err := w.addBundleEntry("text_"+pageID+".json", textJSON); err != nil {
		return err
	}

	wordRecs := make([]wordRecord, 0, len(p.Words))
	for _, word := range p.Words {
		wordRecs = append(wordRecs, wordRecord{Text: word.Text, Box: word.Box})
	}
	wordsJSON, err := json.Marshal(wordRecs)
	if err != nil {
		return fmt.Errorf("shard: marshal words: %w", err)
	}
	if err := w.addBundleEntry("words_"+pageID+".json", wordsJSON); err != nil {
		return err
	}

	entRecs := make([]entityRecord, 0, len(p.Entities))
	for _, e := range p.Entities {
		entRecs = append(entRecs, entityRecord{
			TypeID: int(e.Type),
			Type:   e.Type.String(),
			Box:    e.Box,
			Text:   e.Text,
		})
	}
	entJSON, err := json.Marshal(entRecs)
	if err != nil {
		return fmt.Errorf("shard: marshal entities: %w", err)
	}
	return w.addBundleEntry("entities_"+pageID+".json", entJSON)
}

func (w *Writer) addBundleEntry(name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := w.bundle.WriteHeader(hdr); err != nil {
		return fmt.Errorf("shard: bundle header %s: %w", name, err)
	}
	if _, err := w.bundle.Write(data); err != nil {
		return fmt.Errorf("shard: bundle write %s: %w", name, err)
	}
	w.bundleBytes += int64(len(data))
	return nil
}

// Close writes the shard manifest and closes every stream. The manifest is
// written even when the shard was cancelled mid-run.
func (w *Writer) Close(m Manifest) error {
	m.Shard = w.cfg.Shard
	m.Segments = w.Segments()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("shard: marshal manifest: %w", err)
	}
	mp := filepath.Join(w.cfg.OutDir, "meta", fmt.Sprintf("manifest_%s.json", w.cfg.Shard))
	if err := os.WriteFile(mp, data, 0o644); err != nil {
		return fmt.Errorf("shard: write manifest: %w", err)
	}
	return w.closeSegment()
}

package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Rasterize renders pages [1..maxPages] of a PDF to PNG images at the given
// DPI via pdftoppm. maxPages <= 0 renders every page. Returned slices are
// ordered by page number starting at page 1.
//
// Poppler calls are short-lived, so there is no persistent worker; the
// supervisor still bounds their concurrency to the pool size and applies the
// same wall-clock timeout.
func (s *Supervisor) Rasterize(ctx context.Context, pdf []byte, dpi, maxPages int) ([][]byte, error) {
	if err := s.popplerAcquire(ctx); err != nil {
		return nil, err
	}
	defer s.popplerRelease()

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "raster-")
	if err != nil {
		return nil, fmt.Errorf("convert: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0600); err != nil {
		return nil, fmt.Errorf("convert: write input: %w", err)
	}

	args := []string{"-png", "-r", strconv.Itoa(dpi)}
	if maxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(maxPages))
	}
	args = append(args, in, filepath.Join(dir, "page"))

	if err := s.runTool(ctx, s.cfg.PdftoppmBin, args...); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("convert: glob pages: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: pdftoppm produced no pages", ErrFailed)
	}

	// pdftoppm zero-pads page numbers, but the width depends on the page
	// count; sort numerically to be safe.
	sort.Slice(matches, func(i, j int) bool {
		return pageNumOf(matches[i]) < pageNumOf(matches[j])
	})

	out := make([][]byte, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("convert: read page image: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

func pageNumOf(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndexByte(base, '-')
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(base[idx+1:])
	return n
}

// TextLayer extracts the positioned word layer of a PDF as pdftotext -bbox
// XHTML. The render package parses it into word records.
func (s *Supervisor) TextLayer(ctx context.Context, pdf []byte) ([]byte, error) {
	if err := s.popplerAcquire(ctx); err != nil {
		return nil, err
	}
	defer s.popplerRelease()

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "textlayer-")
	if err != nil {
		return nil, fmt.Errorf("convert: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.xhtml")
	if err := os.WriteFile(in, pdf, 0600); err != nil {
		return nil, fmt.Errorf("convert: write input: %w", err)
	}

	if err := s.runTool(ctx, s.cfg.PdftotextBin, "-bbox", in, out); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: pdftotext produced no output", ErrFailed)
	}
	return data, nil
}

func (s *Supervisor) popplerAcquire(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) popplerRelease() { <-s.sem }

// runTool executes a short-lived external tool under the call timeout.
func (s *Supervisor) runTool(ctx context.Context, bin string, args ...string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if callCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, bin, s.cfg.Timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrFailed, bin, err, msg)
	}
	return nil
}

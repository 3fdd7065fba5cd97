// Package convert supervises the external rendering processes used by the
// annotation pipeline. It owns a pool of long-lived unoserver (LibreOffice)
// workers for document conversion and runs the short-lived poppler tools for
// rasterization and text-layer extraction. No other package may exec an
// external process.
//
// Conversions go through Convert with a hard wall-clock timeout. Before each
// call the worker is health-probed; an unresponsive worker is terminated and
// restarted, and the call retried once. A timed-out call kills its worker
// (it may be mid-corruption) and returns ErrTimeout without retrying; retry
// policy belongs to the shard driver.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Format identifies a conversion endpoint format.
type Format string

const (
	FormatDoc  Format = "doc"  // legacy binary container
	FormatDocx Format = "docx" // zip-XML container
	FormatPDF  Format = "pdf"  // fixed-layout rendering
)

var (
	// ErrTimeout reports that a conversion exceeded the configured wall-clock
	// budget. The worker that served the call has been terminated.
	ErrTimeout = errors.New("convert: conversion timeout")

	// ErrClosed reports that the supervisor has been shut down.
	ErrClosed = errors.New("convert: supervisor closed")

	// ErrFailed reports that the converter ran but produced no usable output.
	ErrFailed = errors.New("convert: conversion failed")
)

// Config configures the Supervisor.
type Config struct {
	// Workers is the number of long-lived converter processes. Default: 1.
	Workers int `yaml:"workers"`

	// Timeout is the hard wall-clock budget per conversion call. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// StartTimeout bounds worker startup. Default: 30s.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// UnoserverBin, UnoconvertBin and SofficeBin locate the LibreOffice
	// tooling. Defaults: "unoserver", "unoconvert", "soffice".
	UnoserverBin  string `yaml:"unoserver_bin"`
	UnoconvertBin string `yaml:"unoconvert_bin"`
	SofficeBin    string `yaml:"soffice_bin"`

	// PdftoppmBin and PdftotextBin locate the poppler tools. Defaults:
	// "pdftoppm", "pdftotext".
	PdftoppmBin  string `yaml:"pdftoppm_bin"`
	PdftotextBin string `yaml:"pdftotext_bin"`

	// WorkDir holds per-call scratch files. Default: os.TempDir().
	WorkDir string `yaml:"work_dir"`

	// MemoryLimitMB caps a worker's virtual address space via ulimit -v,
	// guarding against runaway renders. Best effort: it requires /bin/sh.
	// 0 (the default) disables the cap.
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// SkipPortProbe disables the TCP health probe. Used by tests that run
	// stub binaries which cannot open a listener.
	SkipPortProbe bool `yaml:"-"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.UnoserverBin == "" {
		c.UnoserverBin = "unoserver"
	}
	if c.UnoconvertBin == "" {
		c.UnoconvertBin = "unoconvert"
	}
	if c.SofficeBin == "" {
		c.SofficeBin = "soffice"
	}
	if c.PdftoppmBin == "" {
		c.PdftoppmBin = "pdftoppm"
	}
	if c.PdftotextBin == "" {
		c.PdftotextBin = "pdftotext"
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Supervisor owns the converter process pool.
type Supervisor struct {
	cfg  Config
	pool chan *worker
	sem  chan struct{} // bounds concurrent poppler calls

	mu     sync.Mutex
	closed bool
}

// NewSupervisor creates a Supervisor. Call Start to launch the workers.
func NewSupervisor(cfg Config) *Supervisor {
	cfg.defaults()
	return &Supervisor{
		cfg:  cfg,
		pool: make(chan *worker, cfg.Workers),
		sem:  make(chan struct{}, cfg.Workers),
	}
}

// Start launches the worker pool. Failing to start any worker is fatal for
// the shard; the caller should abort with a non-zero exit.
func (s *Supervisor) Start(ctx context.Context) error {
	for i := 0; i < s.cfg.Workers; i++ {
		w, err := s.launchWorker(ctx, i)
		if err != nil {
			s.Close()
			return fmt.Errorf("convert: start worker %d: %w", i, err)
		}
		s.pool <- w
	}
	s.cfg.Logger.Info("convert: pool started", "workers", s.cfg.Workers)
	return nil
}

// Close terminates all workers. In-flight calls fail with ErrClosed when they
// try to release their worker.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for {
		select {
		case w := <-s.pool:
			w.stop()
		default:
			return nil
		}
	}
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acquire takes a worker from the pool, blocking until one is free or the
// context is cancelled.
func (s *Supervisor) acquire(ctx context.Context) (*worker, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	select {
	case w := <-s.pool:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns a worker to the pool, or stops it if the supervisor closed
// while the call was in flight.
func (s *Supervisor) release(w *worker) {
	if s.isClosed() {
		w.stop()
		return
	}
	s.pool <- w
}

// ensureHealthy probes w and replaces it with a fresh worker if the probe
// fails. The returned worker is always usable or an error is returned.
func (s *Supervisor) ensureHealthy(ctx context.Context, w *worker) (*worker, error) {
	if w.healthy(s.cfg.SkipPortProbe) {
		return w, nil
	}
	s.cfg.Logger.Warn("convert: worker unresponsive, restarting", "worker", w.id)
	return s.restartWorker(ctx, w)
}

// restartWorker stops w and launches a replacement with the same id.
func (s *Supervisor) restartWorker(ctx context.Context, w *worker) (*worker, error) {
	w.stop()
	nw, err := s.launchWorker(ctx, w.id)
	if err != nil {
		return nil, fmt.Errorf("convert: restart worker %d: %w", w.id, err)
	}
	return nw, nil
}

// Convert renders payload from one document format to another. It blocks
// until a pool worker is free, then enforces the configured wall-clock
// timeout. On timeout the serving worker is killed and restarted and
// ErrTimeout is returned; the next call on the pool sees a fresh process.
func (s *Supervisor) Convert(ctx context.Context, payload []byte, from, to Format) ([]byte, error) {
	w, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { s.release(w) }()

	w, err = s.ensureHealthy(ctx, w)
	if err != nil {
		return nil, err
	}

	out, err := s.convertOn(ctx, w, payload, from, to)
	if err == nil {
		return out, nil
	}

	// Timeout and cancellation kill the worker: it may be wedged on hostile
	// input. Replace it so the pool stays at full strength, then report
	// without retrying.
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
		if nw, rerr := s.restartWorker(ctx, w); rerr == nil {
			w = nw
		} else {
			s.cfg.Logger.Error("convert: worker replacement failed", "worker", w.id, "error", rerr)
		}
		return nil, err
	}

	// Plain conversion error: probe once more. If the worker died under the
	// call, restart and retry exactly once; otherwise the input is bad.
	if w.healthy(s.cfg.SkipPortProbe) {
		return nil, err
	}
	s.cfg.Logger.Warn("convert: worker died mid-call, retrying once", "worker", w.id, "error", err)
	nw, rerr := s.restartWorker(ctx, w)
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	w = nw
	return s.convertOn(ctx, w, payload, from, to)
}

// convertOn runs one unoconvert call against a specific worker.
func (s *Supervisor) convertOn(ctx context.Context, w *worker, payload []byte, from, to Format) ([]byte, error) {
	dir, err := os.MkdirTemp(s.cfg.WorkDir, "convert-")
	if err != nil {
		return nil, fmt.Errorf("convert: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in."+string(from))
	out := filepath.Join(dir, "out."+string(to))
	if err := os.WriteFile(in, payload, 0600); err != nil {
		return nil, fmt.Errorf("convert: write input: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err = w.convert(callCtx, s.cfg.UnoconvertBin, in, out, string(to))
	if callCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s->%s after %s", ErrTimeout, from, to, s.cfg.Timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s->%s: %v", ErrFailed, from, to, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s->%s: no output produced", ErrFailed, from, to)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s->%s: empty output", ErrFailed, from, to)
	}
	return data, nil
}

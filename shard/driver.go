// Package shard runs the per-document annotation pipeline over whole input
// archives: one independent worker per shard, per-document failure isolation,
// sharded output streams and a manifest that accounts for every dequeued
// document.
package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docscape/annotate"
	"github.com/hazyhaar/docscape/observability"
	"github.com/hazyhaar/docscape/sources"
)

// Outcome is the terminal accounting of one shard run.
type Outcome struct {
	Success   int
	Failed    int
	Cancelled int
	Skipped   int
}

// Dequeued is the number of documents pulled from the archive and driven to a
// terminal state.
func (o Outcome) Dequeued() int { return o.Success + o.Failed + o.Cancelled }

// DriverConfig tunes the shard driver.
type DriverConfig struct {
	// Parallel bounds in-flight documents, pipelining conversion calls
	// across the supervisor pool. Default: 1 (strictly sequential).
	Parallel int `yaml:"parallel"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *DriverConfig) defaults() {
	if c.Parallel <= 0 {
		c.Parallel = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Driver folds the pipeline over one archive's documents. Per-document
// failures become ledger records and never abort the shard; only shard-fatal
// conditions (archive stream broken, output unwritable) escalate.
type Driver struct {
	pipe   *annotate.Pipeline
	writer *Writer
	rec    *observability.Recorder
	cfg    DriverConfig
}

// NewDriver assembles a driver. rec may be nil.
func NewDriver(pipe *annotate.Pipeline, writer *Writer, rec *observability.Recorder, cfg DriverConfig) *Driver {
	cfg.defaults()
	return &Driver{pipe: pipe, writer: writer, rec: rec, cfg: cfg}
}

// Run processes every document entry of the archive and closes the writer
// with the shard manifest. Cancellation drains in-flight documents as
// Failed(Cancelled), flushes partial output and still writes the manifest.
func (d *Driver) Run(ctx context.Context, archive *sources.Archive) (Outcome, error) {
	started := time.Now().UTC()
	shardName := d.writer.cfg.Shard
	log := d.cfg.Logger.With("shard", shardName, "archive", archive.Name())
	log.Info("shard: starting")

	var (
		mu       sync.Mutex // guards out, writer and fatalErr
		out      Outcome
		fatalErr error
	)
	fatal := func(err error) {
		if fatalErr == nil {
			fatalErr = err
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Parallel)

	for entry, err := range archive.Entries() {
		if ctx.Err() != nil {
			break
		}
		mu.Lock()
		stop := fatalErr != nil
		mu.Unlock()
		if stop {
			break
		}

		if err != nil {
			if entry.Name == "" {
				// The archive stream itself broke: shard-fatal.
				mu.Lock()
				fatal(fmt.Errorf("shard %s: archive stream: %w", shardName, err))
				mu.Unlock()
				break
			}
			reason := annotate.CorruptArchiveEntry
			if errors.Is(err, sources.ErrEntryTooLarge) {
				reason = annotate.DocTooLarge
			}
			mu.Lock()
			out.Failed++
			d.rec.RecordFailed(shardName, entry.DocID, string(annotate.StageRead), string(reason))
			if werr := d.writer.WriteFailure(FailureRecord{
				DocID:  entry.DocID,
				Stage:  string(annotate.StageRead),
				Reason: string(reason),
				Detail: err.Error(),
			}); werr != nil {
				fatal(werr)
			}
			mu.Unlock()
			continue
		}

		if !sources.IsDocument(entry.Name) {
			mu.Lock()
			out.Skipped++
			mu.Unlock()
			continue
		}

		e := entry
		g.Go(func() error {
			d.process(ctx, e, shardName, &mu, &out, fatal)
			return nil
		})
	}

	g.Wait()

	finished := time.Now().UTC()
	d.rec.RecordShard(shardName, archive.Name(),
		out.Success, out.Failed, out.Cancelled, out.Skipped, started, finished)

	manifest := Manifest{
		Archive:    archive.Name(),
		StartedAt:  started,
		FinishedAt: finished,
		Success:    out.Success,
		Failed:     out.Failed,
		Cancelled:  out.Cancelled,
		Skipped:    out.Skipped,
	}
	if cerr := d.writer.Close(manifest); cerr != nil && fatalErr == nil {
		fatalErr = cerr
	}

	log.Info("shard: finished",
		"success", out.Success, "failed", out.Failed,
		"cancelled", out.Cancelled, "skipped", out.Skipped)

	if fatalErr != nil {
		return out, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// process drives one document to its terminal outcome and records it.
func (d *Driver) process(ctx context.Context, e sources.Entry, shardName string,
	mu *sync.Mutex, out *Outcome, fatal func(error)) {

	start := time.Now()
	doc, serr := d.pipe.Run(ctx, e)
	elapsed := time.Since(start)

	mu.Lock()
	defer mu.Unlock()

	if serr != nil {
		if serr.Reason == annotate.Cancelled {
			out.Cancelled++
		} else {
			out.Failed++
		}
		d.rec.RecordFailed(shardName, e.DocID, string(serr.Stage), string(serr.Reason))
		detail := ""
		if serr.Err != nil {
			detail = serr.Err.Error()
		}
		if werr := d.writer.WriteFailure(FailureRecord{
			DocID:  e.DocID,
			Stage:  string(serr.Stage),
			Reason: string(serr.Reason),
			Detail: detail,
		}); werr != nil {
			fatal(werr)
		}
		return
	}

	if werr := d.writer.WriteDocument(doc); werr != nil {
		fatal(werr)
		return
	}
	out.Success++
	d.rec.RecordAnnotated(shardName, doc.ID, doc.Quality, len(doc.Pages), elapsed)
	d.rec.RecordStage(shardName, doc.ID, "annotate", doc.Elapsed)
}

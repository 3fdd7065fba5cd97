// Package observability persists run metrics to SQLite: per-stage durations,
// per-document outcomes, shard summaries and worker heartbeats.
//
// Recording is async and non-blocking: rows are buffered and flushed in
// batches, and a full buffer drops datapoints rather than applying
// backpressure to the annotation path. A nil *Recorder is a no-op, so
// callers never need to guard their instrumentation.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docscape/dbopen"
)

const maxBuffer = 4096

// row is one pending insert, dispatched by kind at flush time.
type row struct {
	kind     string // "stage", "outcome", "summary"
	shardID  string
	docID    string
	stage    string
	reason   string
	outcome  string
	archive  string
	quality  float64
	pages    int
	duration time.Duration
	counts   [4]int // success, failed, cancelled, skipped
	started  time.Time
	finished time.Time
	ts       time.Time
}

// Recorder buffers metric rows and flushes them to SQLite in batches.
type Recorder struct {
	db            *sql.DB
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []row

	stop chan struct{}
	done chan struct{}
}

// NewRecorder starts a recorder over an initialized database (see Init).
// Recommended flushInterval: 5s.
func NewRecorder(db *sql.DB, flushInterval time.Duration) *Recorder {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	r := &Recorder{
		db:            db,
		flushInterval: flushInterval,
		buffer:        make([]row, 0, 256),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// RecordStage queues one (document, stage) duration.
func (r *Recorder) RecordStage(shardID, docID, stage string, d time.Duration) {
	r.enqueue(row{kind: "stage", shardID: shardID, docID: docID, stage: stage,
		duration: d, ts: time.Now()})
}

// RecordAnnotated queues a successful terminal outcome.
func (r *Recorder) RecordAnnotated(shardID, docID string, quality float64, pages int, d time.Duration) {
	r.enqueue(row{kind: "outcome", shardID: shardID, docID: docID, outcome: "annotated",
		quality: quality, pages: pages, duration: d, ts: time.Now()})
}

// RecordFailed queues a failed terminal outcome.
func (r *Recorder) RecordFailed(shardID, docID, stage, reason string) {
	r.enqueue(row{kind: "outcome", shardID: shardID, docID: docID, outcome: "failed",
		stage: stage, reason: reason, ts: time.Now()})
}

// RecordShard queues the end-of-shard summary.
func (r *Recorder) RecordShard(shardID, archive string, success, failed, cancelled, skipped int, started, finished time.Time) {
	r.enqueue(row{kind: "summary", shardID: shardID, archive: archive,
		counts: [4]int{success, failed, cancelled, skipped},
		started: started, finished: finished, ts: time.Now()})
}

func (r *Recorder) enqueue(rw row) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) >= maxBuffer {
		// Drop rather than stall the pipeline.
		return
	}
	r.buffer = append(r.buffer, rw)
}

// Flush writes all buffered rows immediately.
func (r *Recorder) Flush() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Close flushes remaining rows and stops the background goroutine.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	close(r.stop)
	<-r.done
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := r.buffer
	err := dbopen.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, rw := range batch {
			if err := insertRow(ctx, tx, rw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("observability: flush failed", "rows", len(batch), "error", err)
		// Keep the buffer; the next flush retries unless it overflows first.
		return
	}
	r.buffer = r.buffer[:0]
}

func insertRow(ctx context.Context, tx *sql.Tx, rw row) error {
	switch rw.kind {
	case "stage":
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stage_durations (shard_id, doc_id, stage, duration_ms, timestamp)
			 VALUES (?,?,?,?,?)`,
			rw.shardID, rw.docID, rw.stage, rw.duration.Milliseconds(), rw.ts.Unix())
		return err
	case "outcome":
		var stage, reason any
		if rw.outcome == "failed" {
			stage, reason = rw.stage, rw.reason
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO doc_outcomes (shard_id, doc_id, outcome, stage, reason, quality, pages, duration_ms, timestamp)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			rw.shardID, rw.docID, rw.outcome, stage, reason,
			rw.quality, rw.pages, rw.duration.Milliseconds(), rw.ts.Unix())
		return err
	case "summary":
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO shard_summaries
			 (shard_id, archive, success, failed, cancelled, skipped, started_at, finished_at)
			 VALUES (?,?,?,?,?,?,?,?)`,
			rw.shardID, rw.archive, rw.counts[0], rw.counts[1], rw.counts[2], rw.counts[3],
			rw.started.Unix(), rw.finished.Unix())
		return err
	}
	return nil
}

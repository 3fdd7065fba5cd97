package observability

import "database/sql"

// Schema contains the complete DDL for the run-metrics tables.
// Call Init(db) to apply it, or pass it to dbopen.WithSchema.
const Schema = `
-- Per-stage wall-clock durations, one row per (document, stage).
CREATE TABLE IF NOT EXISTS stage_durations (
    row_id TEXT PRIMARY KEY DEFAULT ('sd_' || hex(randomblob(16))),
    shard_id TEXT NOT NULL,
    doc_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_stage_durations_shard
    ON stage_durations(shard_id, stage, timestamp DESC);

-- Terminal outcome per document.
CREATE TABLE IF NOT EXISTS doc_outcomes (
    row_id TEXT PRIMARY KEY DEFAULT ('do_' || hex(randomblob(16))),
    shard_id TEXT NOT NULL,
    doc_id TEXT NOT NULL,
    outcome TEXT NOT NULL,          -- 'annotated' or 'failed'
    stage TEXT,                     -- failing stage, NULL for annotated
    reason TEXT,                    -- failure reason, NULL for annotated
    quality REAL,
    pages INTEGER,
    duration_ms INTEGER,
    timestamp INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_doc_outcomes_shard
    ON doc_outcomes(shard_id, outcome, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_doc_outcomes_reason
    ON doc_outcomes(reason) WHERE reason IS NOT NULL;

-- One summary row per completed (or aborted) shard.
CREATE TABLE IF NOT EXISTS shard_summaries (
    shard_id TEXT PRIMARY KEY,
    archive TEXT NOT NULL,
    success INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    cancelled INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

-- Worker liveness heartbeats with runtime stats.
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    gc_count INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);
`

// Init applies the run-metrics schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

package shard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docscape/annotate"
	"github.com/hazyhaar/docscape/convert"
	"github.com/hazyhaar/docscape/dbopen"
	"github.com/hazyhaar/docscape/observability"
	"github.com/hazyhaar/docscape/sources"
)

// ShardReport is the per-shard result of a run.
type ShardReport struct {
	Shard   string
	Archive string
	Outcome Outcome
	Err     error
}

// Run processes every archive under cfg.InputDir, one shard worker per
// archive, bounded by cfg.ShardWorkers. Shards share the converter pool and
// the metrics recorder but no mutable state; a failed shard never aborts its
// siblings. Run itself fails only for run-fatal conditions: no input, an
// unwritable output root, or a converter pool that cannot start.
func Run(ctx context.Context, cfg Config) ([]ShardReport, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShardWorkers <= 0 {
		cfg.ShardWorkers = 1
	}
	log := cfg.Logger

	archives, err := findArchives(cfg.InputDir)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	if err := WriteProvenance(cfg.OutDir, runID, os.Args, cfg); err != nil {
		return nil, err
	}

	var rec *observability.Recorder
	if cfg.MetricsDB != "" {
		db, err := dbopen.Open(cfg.MetricsDB,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(observability.Schema))
		if err != nil {
			return nil, fmt.Errorf("shard: open metrics db: %w", err)
		}
		defer db.Close()
		rec = observability.NewRecorder(db, 0)
		defer rec.Close()

		hb := observability.NewHeartbeatWriter(db, "docscape_"+runID[:8], cfg.HeartbeatInterval)
		hb.Start(ctx)
		defer hb.Stop()
	}

	sup := convert.NewSupervisor(cfg.Convert)
	if err := sup.Start(ctx); err != nil {
		return nil, err
	}
	defer sup.Close()

	log.Info("run: starting", "run_id", runID, "archives", len(archives),
		"shard_workers", cfg.ShardWorkers)

	reports := make([]ShardReport, len(archives))
	g := new(errgroup.Group)
	g.SetLimit(cfg.ShardWorkers)
	for i, path := range archives {
		g.Go(func() error {
			reports[i] = runShard(ctx, sup, rec, cfg, path)
			return nil
		})
	}
	g.Wait()

	return reports, nil
}

// runShard drives one archive through the pipeline. All errors stay in the
// report; they are shard-fatal, not run-fatal.
func runShard(ctx context.Context, sup *convert.Supervisor, rec *observability.Recorder,
	cfg Config, archivePath string) ShardReport {

	rep := ShardReport{Shard: shardName(archivePath), Archive: archivePath}

	ar, err := sources.Open(archivePath, cfg.MaxEntryBytes)
	if err != nil {
		rep.Err = err
		return rep
	}

	writer, err := NewWriter(WriterConfig{
		OutDir:        cfg.OutDir,
		Shard:         rep.Shard,
		MaxShardBytes: cfg.MaxShardBytes,
		Logger:        cfg.Logger,
	})
	if err != nil {
		rep.Err = err
		return rep
	}

	pcfg := cfg.Pipeline
	pcfg.Logger = cfg.Logger
	pipe, err := annotate.New(sup, pcfg)
	if err != nil {
		writer.Close(Manifest{Archive: ar.Name()})
		rep.Err = err
		return rep
	}

	dcfg := cfg.Driver
	dcfg.Logger = cfg.Logger
	drv := NewDriver(pipe, writer, rec, dcfg)
	rep.Outcome, rep.Err = drv.Run(ctx, ar)
	return rep
}

// shardName derives the shard id from the archive file name.
func shardName(archivePath string) string {
	name := filepath.Base(archivePath)
	name = strings.TrimSuffix(name, ".tar.gz")
	name = strings.TrimSuffix(name, ".tgz")
	return name
}

// findArchives lists the input archives in stable order.
func findArchives(dir string) ([]string, error) {
	var out []string
	for _, pattern := range []string{"*.tar.gz", "*.tgz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("shard: scan input dir: %w", err)
		}
		out = append(out, matches...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("shard: no archives found under %s", dir)
	}
	sort.Strings(out)
	return out, nil
}

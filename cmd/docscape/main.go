// Command docscape annotates document archives into multimodal training
// shards.
//
// Usage:
//
//	docscape -config docscape.yaml                 # full run from YAML config
//	docscape -input ./archives -output ./out       # defaults with overrides
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-runewidth"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docscape/shard"
)

func main() {
	configPath := flag.String("config", "", "path to docscape.yaml config file")
	inputDir := flag.String("input", "", "input directory of .tar.gz archives (overrides config)")
	outDir := flag.String("output", "", "output directory (overrides config)")
	workers := flag.Int("workers", 0, "parallel shard workers (overrides config)")
	metricsDB := flag.String("metrics-db", "", "SQLite metrics database path (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := shard.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = shard.LoadConfig(*configPath)
		if err != nil {
			logger.Error("docscape: config", "error", err)
			os.Exit(1)
		}
	}
	if *inputDir != "" {
		cfg.InputDir = *inputDir
	}
	if *outDir != "" {
		cfg.OutDir = *outDir
	}
	if *workers > 0 {
		cfg.ShardWorkers = *workers
	}
	if *metricsDB != "" {
		cfg.MetricsDB = *metricsDB
	}
	cfg.Logger = logger

	if err := cfg.Validate(); err != nil {
		logger.Error("docscape: config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reports, err := shard.Run(ctx, cfg)
	if err != nil {
		logger.Error("docscape: fatal", "error", err)
		os.Exit(1)
	}

	printSummary(os.Stderr, reports)

	for _, r := range reports {
		if r.Err != nil {
			os.Exit(1)
		}
	}
}

// printSummary renders the per-shard outcome table.
func printSummary(w *os.File, reports []shard.ShardReport) {
	header := []string{"shard", "success", "failed", "cancelled", "skipped", "status"}
	rows := [][]string{header}

	var total shard.Outcome
	for _, r := range reports {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		rows = append(rows, []string{
			r.Shard,
			fmt.Sprintf("%d", r.Outcome.Success),
			fmt.Sprintf("%d", r.Outcome.Failed),
			fmt.Sprintf("%d", r.Outcome.Cancelled),
			fmt.Sprintf("%d", r.Outcome.Skipped),
			status,
		})
		total.Success += r.Outcome.Success
		total.Failed += r.Outcome.Failed
		total.Cancelled += r.Outcome.Cancelled
		total.Skipped += r.Outcome.Skipped
	}
	rows = append(rows, []string{
		"total",
		fmt.Sprintf("%d", total.Success),
		fmt.Sprintf("%d", total.Failed),
		fmt.Sprintf("%d", total.Cancelled),
		fmt.Sprintf("%d", total.Skipped),
		"",
	})

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	for n, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			if i < len(row)-1 {
				b.WriteString("  ")
			}
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
		if n == 0 {
			var sep strings.Builder
			for i, width := range widths {
				sep.WriteString(strings.Repeat("-", width))
				if i < len(widths)-1 {
					sep.WriteString("  ")
				}
			}
			fmt.Fprintln(w, sep.String())
		}
	}
}

package shard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"gopkg.in/yaml.v3"
)

// WriteProvenance records what produced a run: tool version, invocation
// arguments and the effective configuration. Written once per run at the
// output root, not per shard.
func WriteProvenance(outDir, runID string, args []string, cfg Config) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("shard: create output dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(outDir, "version_info.txt"),
		[]byte(versionInfo()), 0o644); err != nil {
		return fmt.Errorf("shard: write version info: %w", err)
	}

	argsRec := struct {
		RunID     string    `json:"run_id"`
		StartedAt time.Time `json:"started_at"`
		Args      []string  `json:"args"`
	}{RunID: runID, StartedAt: time.Now().UTC(), Args: args}
	data, err := json.MarshalIndent(argsRec, "", "  ")
	if err != nil {
		return fmt.Errorf("shard: marshal args: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "args.json"), data, 0o644); err != nil {
		return fmt.Errorf("shard: write args: %w", err)
	}

	cfgData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("shard: marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "config.yaml"), cfgData, 0o644); err != nil {
		return fmt.Errorf("shard: write config: %w", err)
	}
	return nil
}

func versionInfo() string {
	version := "(devel)"
	revision := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" {
			version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				revision = s.Value
			}
		}
	}
	return fmt.Sprintf("docscape %s\nrevision: %s\ngo: %s\nos/arch: %s/%s\n",
		version, revision, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

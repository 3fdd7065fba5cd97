package shard

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docscape/annotate"
	"github.com/hazyhaar/docscape/convert"
)

// Config is the top-level run configuration.
type Config struct {
	// InputDir holds the .tar.gz shard archives.
	InputDir string `yaml:"input_dir"`

	// OutDir is the output tree root.
	OutDir string `yaml:"out_dir"`

	// ShardWorkers bounds how many shards run in parallel. Default: 1.
	ShardWorkers int `yaml:"shard_workers"`

	// MaxEntryBytes caps a single archive member; oversized members become
	// failure records. Default: 512 MiB, 0 disables.
	MaxEntryBytes int64 `yaml:"max_entry_bytes"`

	// MaxShardBytes rotates output segments when the multimodal bundle
	// content exceeds it. Default: 0 (no rotation).
	MaxShardBytes int64 `yaml:"max_shard_bytes"`

	// MetricsDB is the path of the run-metrics SQLite database. Empty
	// disables metrics recording.
	MetricsDB string `yaml:"metrics_db"`

	// HeartbeatInterval controls worker liveness probes when MetricsDB is
	// set. Default: 15s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	Convert  convert.Config  `yaml:"convert"`
	Pipeline annotate.Config `yaml:"pipeline"`
	Driver   DriverConfig    `yaml:"driver"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the built-in defaults; package-level defaults()
// methods fill the nested zero values at use time.
func DefaultConfig() Config {
	return Config{
		InputDir:          "input",
		OutDir:            "output",
		ShardWorkers:      1,
		MaxEntryBytes:     512 << 20,
		HeartbeatInterval: 15 * time.Second,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("shard: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("shard: parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a run.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("shard: input_dir is required")
	}
	if c.OutDir == "" {
		return fmt.Errorf("shard: out_dir is required")
	}
	if c.ShardWorkers < 0 {
		return fmt.Errorf("shard: shard_workers must be >= 0")
	}
	if c.MaxEntryBytes < 0 || c.MaxShardBytes < 0 {
		return fmt.Errorf("shard: size caps must be >= 0")
	}
	if c.Pipeline.Align.MismatchThreshold < 0 || c.Pipeline.Align.MismatchThreshold > 1 {
		return fmt.Errorf("shard: align mismatch_threshold must be in [0,1]")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
)

// Config is the on-disk YAML shape for engine.Options, plus the path to
// the database directory cmd/stratadb operates on.
type Config struct {
	Path string `yaml:"path"`

	Durability      string `yaml:"durability"` // "strict" | "batched" | "async"
	BatchSize       int    `yaml:"batchSize,omitempty"`
	BatchIntervalMs int    `yaml:"batchIntervalMs,omitempty"`
	AsyncIntervalMs int    `yaml:"asyncIntervalMs,omitempty"`

	TTLSweepIntervalMs      int   `yaml:"ttlSweepIntervalMs,omitempty"`
	TTLSweepBatchSize       int   `yaml:"ttlSweepBatchSize,omitempty"`
	MaxSnapshotMemoryBudget int64 `yaml:"maxSnapshotMemoryBudget,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`
	LogJSON  bool   `yaml:"logJSON,omitempty"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config.Load: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: parse %s: %w", path, err)
	}
	return cfg, nil
}

// EngineOptions translates Config into engine.Options, applying
// engine.DefaultOptions for anything the file left at its zero value.
func (c Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()

	switch c.Durability {
	case "batched":
		opts.Durability = engine.Batched
	case "async":
		opts.Durability = engine.Async
	case "strict", "":
		opts.Durability = engine.Strict
	}

	if c.BatchSize > 0 {
		opts.BatchSize = c.BatchSize
	}
	if c.BatchIntervalMs > 0 {
		opts.BatchInterval = time.Duration(c.BatchIntervalMs) * time.Millisecond
	}
	if c.AsyncIntervalMs > 0 {
		opts.AsyncInterval = time.Duration(c.AsyncIntervalMs) * time.Millisecond
	}
	if c.TTLSweepIntervalMs > 0 {
		opts.TTLSweepInterval = time.Duration(c.TTLSweepIntervalMs) * time.Millisecond
	}
	if c.TTLSweepBatchSize > 0 {
		opts.TTLSweepBatchSize = c.TTLSweepBatchSize
	}
	if c.MaxSnapshotMemoryBudget > 0 {
		opts.MaxSnapshotMemoryBudget = c.MaxSnapshotMemoryBudget
	}
	return opts
}

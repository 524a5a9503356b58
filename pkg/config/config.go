// Package config loads the on-disk YAML document (gopkg.in/yaml.v3 struct
// tags) describing how a datastore instance is laid out and tuned.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/veltadb/pkg/commitlog"
)

// Durability mirrors commitlog.Level in YAML-friendly form so config files
// don't need to spell out the commitlog package's Go identifiers.
type Durability string

const (
	DurabilityStrict  Durability = "strict"
	DurabilityRelaxed Durability = "relaxed"
)

// Level translates the YAML durability string to the commitlog package's
// Level type.
func (d Durability) Level() commitlog.Level {
	if d == DurabilityStrict {
		return commitlog.Strict
	}
	return commitlog.Relaxed
}

// Config is the top-level configuration document for one datastore
// instance (spec.md §6 "Persisted state layout").
type Config struct {
	// DataDir is the root directory holding commitlog/, snapshots/, and
	// blobs/ (spec.md §6).
	DataDir string `yaml:"data_dir"`

	// PageSize is informational only at this layer; pkg/page's Size
	// constant is the actual page size the row store uses. Present so
	// operators can see the figure they are tuning against without
	// reading source.
	PageSize int `yaml:"page_size"`

	// MaxSegmentBytes caps a commit-log segment's size before rollover
	// (spec.md §4.7 "Segments are capped at a configurable byte size").
	MaxSegmentBytes int64 `yaml:"max_segment_bytes"`

	// Durability selects fsync-on-commit (strict) or OS-ack-only
	// (relaxed) (spec.md §4.7 "durability level is a contract parameter").
	Durability Durability `yaml:"durability"`

	// SnapshotFrequency is a snapshot interval in tx_offset units. It is
	// loaded with the rest of the config, but the datastore does not read
	// it and takes no snapshots on its own: a snapshot is made only when
	// Datastore.Snapshot or SnapshotNow is called (e.g. by the CLI).
	SnapshotFrequency uint64 `yaml:"snapshot_frequency"`

	// PagePoolCapacity bounds how many freed pages of one fixed row size
	// a pool retains before dropping further returns (spec.md §4.3
	// "bounded").
	PagePoolCapacity int `yaml:"page_pool_capacity"`
}

// Default returns the configuration spec.md's defaults describe: 64 KiB
// pages (fixed, see pkg/page.Size), a 64 MiB segment cap, strict
// durability, a snapshot frequency of 10000, and a pool capacity of 64
// pages per row size.
func Default(dataDir string) Config {
	return Config{
		DataDir:           dataDir,
		PageSize:          64 * 1024,
		MaxSegmentBytes:   64 * 1024 * 1024,
		Durability:        DurabilityStrict,
		SnapshotFrequency: 10000,
		PagePoolCapacity:  64,
	}
}

// Load reads and parses a YAML config file, filling in defaults for any
// field the file leaves at its zero value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default(filepath.Dir(path))
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a configuration with missing or nonsensical fields.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.MaxSegmentBytes <= 0 {
		return fmt.Errorf("config: max_segment_bytes must be positive")
	}
	if c.Durability != DurabilityStrict && c.Durability != DurabilityRelaxed {
		return fmt.Errorf("config: durability must be %q or %q, got %q", DurabilityStrict, DurabilityRelaxed, c.Durability)
	}
	if c.PagePoolCapacity <= 0 {
		return fmt.Errorf("config: page_pool_capacity must be positive")
	}
	return nil
}

// CommitLogDir, SnapshotDir, and BlobDir return the three well-known
// subdirectories of DataDir (spec.md §6 "Persisted state layout").
func (c Config) CommitLogDir() string { return filepath.Join(c.DataDir, "commitlog") }
func (c Config) SnapshotDir() string  { return filepath.Join(c.DataDir, "snapshots") }
func (c Config) BlobDir() string      { return filepath.Join(c.DataDir, "blobs") }

/*
Package config loads the buffer manager's tunables from a YAML file, the way
several repos in this codebase's lineage keep runtime knobs out of code.
Default returns a Config with every field set, usable without a file on
disk at all; a zero-value Config does not pass Validate.
*/
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the buffer manager reads at startup. Field
// names mirror the ones a leanstore-style engine exposes as CLI flags; here
// they are YAML keys instead.
type Config struct {
	// DRAMGiB is the size, in GiB, of the resident frame pool.
	DRAMGiB float64 `yaml:"dram_gib"`

	// SSDPath is the path to the backing block device or file.
	SSDPath string `yaml:"ssd_path"`

	// Truncate is loaded from YAML, but nothing in this module reads it:
	// neither bufmgr.Open nor bufmgr.OpenDevice truncates the device, so
	// existing pages on SSDPath are kept.
	Truncate bool `yaml:"truncate"`

	// FallocGiB is how much space to preallocate on SSDPath up front.
	FallocGiB float64 `yaml:"falloc_gib"`

	// FreePct is the fraction of frames the page provider tries to keep on
	// the free list.
	FreePct float64 `yaml:"free_pct"`

	// CoolPct is the fraction of frames Phase 1 of the page provider tries
	// to keep free or cooling combined: it cools frames while free plus
	// cooling is below CoolPct of the pool.
	CoolPct float64 `yaml:"cool_pct"`

	// AsyncBatchSize is the write buffer's capacity: how many asynchronous
	// writebacks may be outstanding (not yet reaped) at once, across rounds.
	AsyncBatchSize int `yaml:"async_batch_size"`

	// Partitions is the number of partition-table shards; must be a power
	// of two.
	Partitions int `yaml:"partitions"`

	// PrintDebug enables verbose per-round provider logging.
	PrintDebug bool `yaml:"print_debug"`
}

// Default returns the configuration used when nothing else is loaded: a
// 1 GiB pool with 4 GiB preallocated on the device. Tests that open a
// Manager shrink DRAMGiB and FallocGiB from here.
func Default() Config {
	return Config{
		DRAMGiB:        1,
		SSDPath:        "coldbuf.db",
		Truncate:       false,
		FallocGiB:      4,
		FreePct:        0.1,
		CoolPct:        0.2,
		AsyncBatchSize: 64,
		Partitions:     64,
		PrintDebug:     false,
	}
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "open config %q", path)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "decode config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "validate config %q", path)
	}
	return cfg, nil
}

// Validate checks internal consistency of the tunables.
func (c Config) Validate() error {
	if c.DRAMGiB <= 0 {
		return errors.Errorf("dram_gib must be positive, got %v", c.DRAMGiB)
	}
	if c.SSDPath == "" {
		return errors.New("ssd_path must not be empty")
	}
	if c.FreePct <= 0 || c.FreePct >= 1 {
		return errors.Errorf("free_pct must be in (0,1), got %v", c.FreePct)
	}
	if c.CoolPct <= 0 || c.CoolPct >= 1 {
		return errors.Errorf("cool_pct must be in (0,1), got %v", c.CoolPct)
	}
	if c.FreePct+c.CoolPct >= 1 {
		return errors.Errorf("free_pct + cool_pct must be < 1, got %v", c.FreePct+c.CoolPct)
	}
	if c.AsyncBatchSize <= 0 {
		return errors.Errorf("async_batch_size must be positive, got %d", c.AsyncBatchSize)
	}
	if c.Partitions <= 0 || c.Partitions&(c.Partitions-1) != 0 {
		return errors.Errorf("partitions must be a power of two, got %d", c.Partitions)
	}
	return nil
}

// FramePoolSize returns the number of frames DRAMGiB can hold given the
// fixed page size.
func (c Config) FramePoolSize(pageSize int) int {
	bytes := c.DRAMGiB * (1 << 30)
	return int(bytes) / pageSize
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package rconfig loads the engine's tunables from an optional TOML file,
// in the idiom of the teacher repository's own naoina/toml-based config
// loader. Every field has a spec-compliant default; a config file only
// overrides what it sets.
package rconfig

import (
	"os"
	"runtime"

	"github.com/naoina/toml"
)

// Config holds the tunables referenced throughout spec §4.4-§4.6.
type Config struct {
	// Scheduler (§4.4): worker count defaults to ceil(0.75 * NumCPU).
	WorkerCount int `toml:"worker_count"`

	// GC (§4.5).
	GCInitialThresholdBytes uint64 `toml:"gc_initial_threshold_bytes"`
	GCMaxHeapBytes          uint64 `toml:"gc_max_heap_bytes"` // 0 = unbounded

	// JIT (§4.6): profiling-counter threshold before a function is
	// submitted to a compilation worker, and how many compilation workers
	// may run concurrently (off the main scheduler).
	JITThreshold       uint64 `toml:"jit_threshold"`
	JITCompileWorkers  int    `toml:"jit_compile_workers"`

	// Safepoint (§4.4): loaded from config but not read by the scheduler;
	// workers check for a pending pause once per quantum and skip no polls.
	SafepointPollInterval int `toml:"safepoint_poll_interval"`

	// Snapshot (§6.2): loaded from config but not read by snapshot.Capture,
	// which always snappy-compresses the payload block.
	SnapshotCompression bool `toml:"snapshot_compression"`
}

// Default returns the spec-compliant default configuration.
func Default() *Config {
	workers := int(float64(runtime.NumCPU())*0.75 + 0.999)
	if workers < 1 {
		workers = 1
	}
	return &Config{
		WorkerCount:             workers,
		GCInitialThresholdBytes: 4 << 20, // 4 MiB
		GCMaxHeapBytes:          0,
		JITThreshold:            10_000,
		JITCompileWorkers:       2,
		SafepointPollInterval:   64,
		SnapshotCompression:     true,
	}
}

// Load reads path (if non-empty and present) and overlays it on top of
// Default(). A missing path is not an error: the engine runs with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

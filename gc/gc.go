// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gc implements the engine's tracing, non-moving, stop-the-world
// mark-sweep collector (spec §4.5). It rides the scheduler's safepoint
// Coordinator for its STW requirement the same way a future JIT installer
// or snapshot writer would (spec §4.4), and is wired into the worker pool
// only through the narrow scheduler.GCHook interface, so package scheduler
// never imports this package.
package gc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/rconfig"
	"github.com/rizqme/raya/rlog"
	"github.com/rizqme/raya/scheduler"
)

// Stats summarizes the most recent collection cycle plus running totals,
// for a host program to surface via a diagnostics endpoint.
type Stats struct {
	Cycles             uint64
	LastRootCount       int
	LastFreed           int
	LastPauseNanos      int64
	LastAllocatedBytes  uint64
	LastThresholdBytes  uint64
}

// Collector owns the allocation-threshold trigger and the mark/sweep
// algorithm itself. One Collector is created per Heap/Scheduler pair.
type Collector struct {
	heap  *heap.Heap
	sched *scheduler.Scheduler
	cfg   *rconfig.Config
	log   *rlog.Logger

	threshold uint64 // atomic: Allocated() value that triggers the next cycle

	mu    sync.Mutex // serializes concurrent MaybeCollect/Collect calls
	stats Stats
}

// New creates a Collector over h/sched, configured by cfg (rconfig.Default
// if nil). It does not start collecting on its own; call
// scheduler.Scheduler.SetGCHook(c) to have the worker pool drive MaybeCollect
// after every quantum, or call Collect directly for an on-demand pass (spec
// §4.5: "manual API request").
func New(h *heap.Heap, sched *scheduler.Scheduler, cfg *rconfig.Config, log *rlog.Logger) *Collector {
	if cfg == nil {
		cfg = rconfig.Default()
	}
	if log == nil {
		log = rlog.Root().With("gc")
	}
	c := &Collector{heap: h, sched: sched, cfg: cfg, log: log}
	atomic.StoreUint64(&c.threshold, cfg.GCInitialThresholdBytes)
	return c
}

// Threshold reports the Allocated() byte count that will trigger the next
// automatic collection.
func (c *Collector) Threshold() uint64 { return atomic.LoadUint64(&c.threshold) }

// Stats returns a copy of the collector's running statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// MaybeCollect implements scheduler.GCHook: a worker calls this after every
// quantum, the approximation this engine makes of spec §4.4's "poll after
// any opcode that can allocate" safepoint. current is the task whose
// quantum just ran, or nil if this was an idle poll; it is the task an
// OutOfMemory exception is raised into if the heap is still over
// cfg.GCMaxHeapBytes once the cycle completes.
func (c *Collector) MaybeCollect(current *scheduler.Task) {
	if c.heap.Allocated() < c.Threshold() {
		return
	}
	c.Collect()
	if c.cfg.GCMaxHeapBytes > 0 && c.heap.Allocated() > c.cfg.GCMaxHeapBytes && current != nil {
		current.RaiseOOM()
	}
}

// Collect runs one full mark-sweep cycle under a stop-the-world pause,
// synchronously. Safe to call concurrently with MaybeCollect or with
// another direct Collect call (the two serialize on c.mu); the Coordinator
// itself also refuses to run two Pause calls at once.
func (c *Collector) Collect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	var rootCount, freed int

	c.sched.Coordinator().Pause(scheduler.PauseGC, func(_ []scheduler.RootSet) {
		roots := collectRoots(c.heap, c.sched)
		rootCount = len(roots)
		mark(c.heap, roots)
		freed = sweep(c.heap)
	})

	elapsed := time.Since(start)
	allocated := c.heap.Allocated()

	c.stats.Cycles++
	c.stats.LastRootCount = rootCount
	c.stats.LastFreed = freed
	c.stats.LastPauseNanos = elapsed.Nanoseconds()
	c.stats.LastAllocatedBytes = allocated
	c.stats.LastThresholdBytes = c.Threshold()

	// Next trigger is the post-sweep live set plus one initial-threshold's
	// worth of headroom, so a heap that is mostly garbage on every cycle
	// doesn't immediately re-trigger, while a heap that is mostly live
	// still collects roughly every GCInitialThresholdBytes of new growth.
	atomic.StoreUint64(&c.threshold, allocated+c.cfg.GCInitialThresholdBytes)

	c.log.Info("gc cycle complete",
		"roots", rootCount, "freed", freed, "pause", elapsed,
		"allocated_bytes", allocated, "next_threshold_bytes", allocated+c.cfg.GCInitialThresholdBytes)
}

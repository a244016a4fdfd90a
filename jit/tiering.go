// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/jit/codemem"
	"github.com/rizqme/raya/rlog"
	"github.com/rizqme/raya/scheduler"
)

// pauser is the narrow slice of *scheduler.Coordinator Tiering needs,
// named here so a test can supply a fake rather than spinning up a real
// worker pool just to exercise the install path.
type pauser interface {
	Pause(reason scheduler.PauseReason, during func(roots []scheduler.RootSet))
}

// Tiering drives a hot function from StatusProfiling through compilation
// to an installed native entry point (spec §4.6's tiering pipeline end to
// end), satisfying interp.JitHook structurally so package interp never has
// to import this one. Compilation itself runs off the safepoint entirely
// (decode/build/optimize/codegen touch only the immutable bytecode and a
// fresh IR, never the live heap); only the final install needs the
// world stopped.
type Tiering struct {
	coord pauser
	alloc *codemem.Allocator
	sem   *semaphore.Weighted
	log   *rlog.Logger
}

// NewTiering creates a Tiering bounded to workers concurrent compiles,
// installing onto coord's safepoint barrier and allocating native code
// bodies from alloc.
func NewTiering(coord *scheduler.Coordinator, alloc *codemem.Allocator, workers int, log *rlog.Logger) *Tiering {
	return newTiering(coord, alloc, workers, log)
}

func newTiering(coord pauser, alloc *codemem.Allocator, workers int, log *rlog.Logger) *Tiering {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = rlog.Root().With("jit")
	}
	return &Tiering{
		coord: coord,
		alloc: alloc,
		sem:   semaphore.NewWeighted(int64(workers)),
		log:   log,
	}
}

// NotifyHot is called by the interpreter once a function's call count
// crosses the configured threshold. It claims the function for compilation
// (BeginJitCompile's CAS-like transition guards against two callers racing
// the same hot function) and runs the rest of the pipeline on its own
// goroutine, gated by the worker semaphore; NotifyHot itself never blocks
// the caller's interpreter loop.
func (t *Tiering) NotifyHot(fn *heap.Function) {
	if !fn.BeginJitCompile() {
		return
	}
	go t.compileAndInstall(fn)
}

func (t *Tiering) compileAndInstall(fn *heap.Function) {
	if !t.sem.TryAcquire(1) {
		// Every worker slot is busy; rather than block this goroutine (and
		// pile up one per hot function under a burst), wait for a slot the
		// ordinary blocking way — a handful of queued compiles is fine,
		// unlike a handful of queued *world pauses*.
		if err := t.sem.Acquire(context.Background(), 1); err != nil {
			fn.Deoptimize()
			return
		}
	}
	defer t.sem.Release(1)

	entry, deoptMap, err := t.compile(fn)
	if err != nil {
		t.log.Debug("jit compile declined", "function", fn.Name, "err", err)
		fn.Deoptimize()
		return
	}

	t.coord.Pause(scheduler.PauseJitInstall, func(_ []scheduler.RootSet) {
		fn.InstallNative(entry, deoptMap)
	})
	t.log.Info("jit compiled", "function", fn.Name)
}

// compile runs decode -> CFG -> SSA build -> optimize -> codegen for fn,
// returning the installed entry point and its per-block
// native-pc-to-bytecode-pc map (see deopt.go).
func (t *Tiering) compile(fn *heap.Function) (uintptr, map[int]int, error) {
	if err := Eligible(fn); err != nil {
		return 0, nil, err
	}
	cfg, err := BuildCFG(fn)
	if err != nil {
		return 0, nil, err
	}
	ssa, err := Build(fn.Name, fn.ParamCount, fn.LocalCount, cfg)
	if err != nil {
		return 0, nil, err
	}
	Optimize(ssa)
	code, blockOffsets, err := codegenFunc(ssa)
	if err != nil {
		return 0, nil, err
	}
	region, err := t.alloc.Alloc(code)
	if err != nil {
		return 0, nil, err
	}
	deoptMap := BuildDeoptMap(ssa, cfg, blockOffsets)
	return region.Entry(), deoptMap, nil
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/value"
)

// JitHook is the narrow interface pushCallClosure drives once a function's
// call count crosses the configured tiering threshold (spec §4.6's
// "profiling counter bumped on entry ... submission to an off-scheduler
// compilation worker"). Declared here rather than imported from package
// jit so this package never depends on it; package jit's Tiering satisfies
// this structurally, the same inversion Host and scheduler.GCHook already
// use.
type JitHook interface {
	NotifyHot(fn *heap.Function)
}

// SetJitHook installs the tiering driver a Machine notifies once a function
// goes hot, and the call-count threshold at which that happens. threshold
// of 0 disables tiering notifications entirely (RecordCall is still
// skipped, so Function.Status never leaves Interpreted). Must be called
// before the Machine runs any bytecode.
func (m *Machine) SetJitHook(h JitHook, threshold uint32) {
	m.jit = h
	m.jitThreshold = threshold
}

// tryNative reports whether fn already has an installed native entry
// point and, if so, runs it directly rather than pushing an interpreted
// frame. Functions only ever reach StatusJitCompiled via a conservative,
// non-capturing eligible subset (see package jit's eligibility pass), so
// callers never need to thread a Closure through the native path.
func (m *Machine) tryNative(fn *heap.Function, args []value.Value) (value.Value, bool, error) {
	entry, ok := fn.NativeEntry()
	if !ok {
		return value.Null, false, nil
	}
	result, err := invokeNative(fn, entry, args)
	if err != nil {
		return value.Null, false, err
	}
	return result, true, nil
}

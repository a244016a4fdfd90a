// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gc

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/scheduler"
	"github.com/rizqme/raya/value"
)

// collectRoots gathers the full root set (spec §4.5, R1-R5) while the
// world is stopped (called only from inside Coordinator.Pause's during
// callback). R4 needs no separate pass: sched.Tasks returns every live
// task regardless of whether it is currently running, sitting in a queue,
// or blocked, so a blocked task's Machine state is already covered by the
// per-task walk below. R5 (native transient roots) has no additional
// surface in this engine: natives run synchronously within a single
// dispatch call and never retain a Value across a safepoint poll, so
// anything they hold is still on the operand stack R1 already scans.
func collectRoots(h *heap.Heap, sched *scheduler.Scheduler) []uint64 {
	var roots []uint64

	for _, t := range sched.Tasks() {
		roots = append(roots, t.Machine.Roots()...)
	}

	h.Classes().Each(func(c *heap.Class) {
		c.TraceStatics(func(v value.Value) {
			if addr, ok := ptrAddr(v); ok {
				roots = append(roots, addr)
			}
		})
	})

	roots = append(roots, h.Strings().Roots()...)

	return roots
}

func ptrAddr(v value.Value) (uint64, bool) {
	if v.IsFloat() || v.Tag() != value.TagPtr {
		return 0, false
	}
	addr := value.Ptr(v)
	return addr, addr != 0
}

// mark walks the object graph from roots, setting each reached object's
// header Marked bit. The frontier is an explicit LIFO work queue rather
// than recursive Trace calls, so a long chain (a linked list built from
// refcells, say) cannot overflow the Go goroutine stack the way a
// recursive graph walk would (spec §4.5: "recursion is converted to an
// explicit work queue to avoid stack overflow on deep graphs"). visited is
// a golang-set Set used purely to dedupe the queue: an address already
// enqueued (or already marked from a root published by an earlier task)
// is never pushed a second time, even though several of R1-R5's root
// sources commonly alias the same object (a captured closure and a global
// both referencing the same heap value, for instance).
func mark(h *heap.Heap, roots []uint64) {
	visited := mapset.NewSet()
	queue := make([]uint64, 0, len(roots))

	enqueue := func(addr uint64) {
		if addr == 0 || visited.Contains(addr) {
			return
		}
		visited.Add(addr)
		queue = append(queue, addr)
	}

	for _, addr := range roots {
		enqueue(addr)
	}

	for len(queue) > 0 {
		addr := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		obj, ok := h.Get(addr)
		if !ok {
			continue
		}
		obj.Header().Marked = true
		obj.Trace(func(v value.Value) {
			if a, ok := ptrAddr(v); ok {
				enqueue(a)
			}
		})
	}
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gc

import "github.com/rizqme/raya/heap"

// sweep performs a linear scan of the allocation record (spec §4.5),
// reclaiming every object the mark phase did not reach and clearing the
// mark bit of every survivor so the next cycle starts from a clean slate.
// Dead addresses are collected during a single read-locked ForEach pass and
// freed afterward in a separate loop, per heap.Heap.ForEach's own
// contract ("fn must not call back into Alloc or Free").
func sweep(h *heap.Heap) (freed int) {
	var dead []uint64

	h.ForEach(func(addr uint64, o heap.Object) {
		hdr := o.Header()
		if hdr.Marked {
			hdr.Marked = false
			return
		}
		dead = append(dead, addr)
	})

	for _, addr := range dead {
		if obj, ok := h.Get(addr); ok {
			finalize(obj)
		}
		h.Free(addr)
	}

	return len(dead)
}

// finalize runs a dying object's kind-specific cleanup (spec §4.5: "runs
// finalizers (mutexes release kernel resources; channels drain without
// signalling)"). This engine's Mutex and Channel are pure Go-side state
// with no underlying OS handle, so there is no kernel resource to release;
// the cleanup that does apply is severing the FIFO wait-queue bookkeeping
// so a stale Waiters slice cannot outlive the object it described.
func finalize(o heap.Object) {
	switch v := o.(type) {
	case *heap.Mutex:
		v.Waiters = nil
	case *heap.Semaphore:
		v.Waiters = nil
	case *heap.Channel:
		v.SendWaiters = nil
		v.RecvWaiters = nil
	}
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package codemem allocates executable memory for compiled native function
// bodies (spec §4.6 step 5: "installation"). Pages are mapped
// read-write, filled in, then reprotected read-execute before any bytecode
// frame is handed their entry address — never both writable and
// executable at once.
package codemem

import (
	"fmt"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// Region is one page-aligned mapping holding a single compiled function
// body. Region is not safe for concurrent Free while other goroutines may
// still be executing code inside it; Tiering only frees a Region once
// heap.Function.Deoptimize has made its entry address unreachable from new
// calls (existing in-flight native frames, if any, are expected to finish
// naturally, per §4.6's deopt-at-safepoint discipline).
type Region struct {
	mapping mmap.MMap
	size    int
}

// Entry returns the region's base address as the function's native entry
// point (the compiled code always starts at the first byte).
func (r *Region) Entry() uintptr {
	return uintptr(unsafePointer(r.mapping))
}

// Allocator hands out one Region per compiled function. It keeps no free
// list: functions are tiered up at most once in this engine's model (a
// Deoptimize discards the Region outright rather than recompiling into a
// reused slot), so reuse would add bookkeeping for a case that doesn't
// recur on the hot path.
type Allocator struct {
	mu      sync.Mutex
	regions []*Region
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Alloc maps a fresh region, copies code into it, and reprotects it
// read-execute.
func (al *Allocator) Alloc(code []byte) (*Region, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("codemem: empty code body")
	}
	m, err := mmap.MapRegion(nil, len(code), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("codemem: mmap RW: %w", err)
	}
	copy(m, code)
	if err := reprotectExec(m); err != nil {
		m.Unmap()
		return nil, fmt.Errorf("codemem: mprotect RX: %w", err)
	}
	r := &Region{mapping: m, size: len(code)}
	al.mu.Lock()
	al.regions = append(al.regions, r)
	al.mu.Unlock()
	return r, nil
}

// Free unmaps a region. Callers must guarantee no frame can still be
// executing inside it (see Region's doc comment).
func (al *Allocator) Free(r *Region) error {
	al.mu.Lock()
	defer al.mu.Unlock()
	for i, existing := range al.regions {
		if existing == r {
			al.regions = append(al.regions[:i], al.regions[i+1:]...)
			break
		}
	}
	return r.mapping.Unmap()
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import (
	"sync"

	"github.com/rizqme/raya/value"
)

// RefCell is a single mutable Value slot (spec §3.2), used to materialize a
// captured variable that is assigned after the closure capturing it was
// created. Distinct closures capturing the same RefCell observe each
// other's writes.
type RefCell struct {
	header ObjectHeader
	mu     sync.Mutex
	slot   value.Value
}

// NewRefCell allocates a RefCell holding the initial value v.
func NewRefCell(v value.Value) *RefCell {
	return &RefCell{header: ObjectHeader{Kind: KindRefCell}, slot: v}
}

func (r *RefCell) Header() *ObjectHeader { return &r.header }

func (r *RefCell) Trace(visit func(value.Value)) {
	r.mu.Lock()
	v := r.slot
	r.mu.Unlock()
	visit(v)
}

// Load reads the current slot value.
func (r *RefCell) Load() value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot
}

// Store overwrites the slot value.
func (r *RefCell) Store(v value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot = v
}

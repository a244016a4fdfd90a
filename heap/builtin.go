// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import "github.com/rizqme/raya/value"

// BuiltinClassIDs holds the class ids RegisterBuiltinClasses assigned, so
// callers (the interpreter's native bridge) can recognize instances of the
// fixed-layout builtin classes without a name lookup on every call.
type BuiltinClassIDs struct {
	Buffer uint32
	Map    uint32
	Set    uint32
	Date   uint32
	Error  uint32
}

// RegisterBuiltinClasses defines the Buffer/Map/Set/Date/Error classes (spec
// §3.2: "implemented as Objects with fixed field layouts") in t. It must run
// once, before any module referencing these builtins is loaded, so their
// ids are stable for the lifetime of the process.
func RegisterBuiltinClasses(t *ClassTable) BuiltinClassIDs {
	buffer := t.Define(NewClass(0, "Buffer", nil, 1, nil, 0, nil))
	mapCls := t.Define(NewClass(0, "Map", nil, 1, nil, 0, nil))
	setCls := t.Define(NewClass(0, "Set", nil, 1, nil, 0, nil))
	date := t.Define(NewClass(0, "Date", nil, 1, nil, 0, nil))
	// Error: field 0 = kind name (interned string), field 1 = message
	// (interned string). Thrown by the runtime for the catchable kinds of
	// spec §7 (TypeError, ReferenceError, RangeError, ...).
	errCls := t.Define(NewClass(0, "Error", nil, 2, nil, 0, nil))
	return BuiltinClassIDs{Buffer: buffer, Map: mapCls, Set: setCls, Date: date, Error: errCls}
}

// NewErrorInstance allocates an Error instance with kind/message fields
// already holding heap string addresses.
func NewErrorInstance(h *Heap, classID uint32, kindAddr, messageAddr uint64) uint64 {
	inst := NewInstance(classID, 2)
	inst.SetField(0, value.FromPtr(kindAddr))
	inst.SetField(1, value.FromPtr(messageAddr))
	return h.Alloc(inst)
}

// NewBuffer allocates a Buffer instance backed by an Array of byte values
// (each boxed as a U32 Value in [0, 256)).
func NewBuffer(h *Heap, classID uint32, data []byte) uint64 {
	arr := NewArray(len(data))
	for _, b := range data {
		arr.Push(value.FromU32(uint32(b)))
	}
	arrAddr := h.Alloc(arr)
	inst := NewInstance(classID, 1)
	inst.SetField(0, value.FromPtr(arrAddr))
	return h.Alloc(inst)
}

// NewMapInstance allocates an empty Map instance. Entries are stored as
// alternating key/value pairs in the backing Array; lookup is linear scan,
// adequate for the engine's own bootstrap use and replaceable by a real
// hash table without changing the field layout.
func NewMapInstance(h *Heap, classID uint32) uint64 {
	arrAddr := h.Alloc(NewArray(0))
	inst := NewInstance(classID, 1)
	inst.SetField(0, value.FromPtr(arrAddr))
	return h.Alloc(inst)
}

// NewSetInstance allocates an empty Set instance, backed the same way as Map
// but storing only members (no paired values).
func NewSetInstance(h *Heap, classID uint32) uint64 {
	arrAddr := h.Alloc(NewArray(0))
	inst := NewInstance(classID, 1)
	inst.SetField(0, value.FromPtr(arrAddr))
	return h.Alloc(inst)
}

// NewDateInstance allocates a Date instance holding an epoch-milliseconds
// float64 in field 0.
func NewDateInstance(h *Heap, classID uint32, epochMillis float64) uint64 {
	inst := NewInstance(classID, 1)
	inst.SetField(0, value.FromFloat(epochMillis))
	return h.Alloc(inst)
}

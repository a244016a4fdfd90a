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
	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

// NativeFunc is one registered native: it receives the popped argument
// Values (in call order) plus the executing Machine for heap/exception
// access, and returns a single result Value or an error (which the
// dispatch loop turns into a thrown exception per spec §6.3).
type NativeFunc func(m *Machine, args []value.Value) (value.Value, error)

// Native ids are a flat 16-bit space (spec §6.3: "registered natives are
// indexed by a 16-bit id"), partitioned into fixed category ranges so the
// registry stays organized without introducing a second key. A category's
// base is its id's high byte; NativeCall's wire operand is always the
// single id, never a (category, id) pair.
const (
	NativeCategoryString = 0x0000 // string/StringBuilder intrinsics
	NativeCategoryMath   = 0x0100 // Math.* intrinsics
	NativeCategoryCrypto = 0x0200 // SHA3/SHAKE256/keccak (grounded on the chain's crypto stubs)
	NativeCategoryJSON   = 0x0300 // JSON.parse/stringify bridges for the JsonX opcodes
	NativeCategoryIO     = 0x0400 // console/debug output
	NativeCategoryCollection = 0x0500 // Map/Set/Buffer helpers
)

func nativeID(category, offset uint16) uint16 { return category | offset }

// NativeRegistry maps native ids to their Go implementation. One instance
// is shared across every Machine in a process.
type NativeRegistry struct {
	fns map[uint16]NativeFunc
}

// NewNativeRegistry creates a registry with the standard library of
// natives pre-registered (string, math, crypto, console).
func NewNativeRegistry() *NativeRegistry {
	r := &NativeRegistry{fns: make(map[uint16]NativeFunc)}
	registerStringNatives(r)
	registerMathNatives(r)
	registerCryptoNatives(r)
	registerConsoleNatives(r)
	return r
}

// Register adds or replaces the native at id.
func (r *NativeRegistry) Register(id uint16, fn NativeFunc) {
	r.fns[id] = fn
}

// Call invokes the native at id with args, returning ReferenceError-shaped
// errors for unregistered ids (spec §7: unresolved native lookups are a
// catchable ReferenceError, not an engine panic).
func (r *NativeRegistry) Call(id uint16, m *Machine, args []value.Value) (value.Value, error) {
	fn, ok := r.fns[id]
	if !ok {
		return value.Null, rerr.New(rerr.KindReferenceError, "no native registered for id 0x%04x", id)
	}
	return fn(m, args)
}

func mustString(h *heap.Heap, v value.Value) (string, bool) {
	if v.IsFloat() || v.Tag() != value.TagPtr {
		return "", false
	}
	obj, ok := h.Get(value.Ptr(v))
	if !ok {
		return "", false
	}
	s, ok := obj.(*heap.String)
	if !ok {
		return "", false
	}
	return s.Bytes(), true
}

// heapArrayOfStrings allocates a heap.Array of interned strings and returns
// its address.
func heapArrayOfStrings(m *Machine, parts []string) uint64 {
	arr := heap.NewArray(len(parts))
	for _, p := range parts {
		addr, _ := m.Heap.Strings().Intern(m.Heap, p)
		arr.Push(value.FromPtr(addr))
	}
	return m.Heap.Alloc(arr)
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snapshot

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/value"
)

// roundTrip encodes o as if it lived at addr, decodes it back into a fresh
// Heap, and returns the reconstructed object at the same address.
func roundTrip(t *testing.T, addr uint64, o heap.Object) heap.Object {
	t.Helper()
	var buf bytes.Buffer
	if err := encodeObject(&buf, addr, o); err != nil {
		t.Fatalf("encodeObject: %v", err)
	}
	h2 := heap.New()
	r := &byteReader{data: buf.Bytes()}
	if err := decodeObject(r, h2); err != nil {
		t.Fatalf("decodeObject: %v", err)
	}
	got, ok := h2.Get(addr)
	if !ok {
		t.Fatalf("decoded object missing at address %d", addr)
	}
	return got
}

func TestObjectRoundTripString(t *testing.T) {
	s := heap.RestoreString("hello, raya")
	got := roundTrip(t, 8, s).(*heap.String)
	if got.Bytes() != "hello, raya" {
		t.Errorf("Bytes() = %q, want %q", got.Bytes(), "hello, raya")
	}
}

func TestObjectRoundTripArray(t *testing.T) {
	a := heap.NewArray(4)
	a.SetLength(3)
	a.Set(0, value.FromI32(1))
	a.Set(1, value.FromI32(2))
	a.Set(2, value.FromI32(3))

	got := roundTrip(t, 16, a).(*heap.Array)
	if got.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", got.Len())
	}
	for i := 0; i < 3; i++ {
		v, ok := got.Get(i)
		if !ok || value.I32(v) != int32(i+1) {
			t.Errorf("Get(%d) = %v, %v; want %d, true", i, v, ok, i+1)
		}
	}
}

func TestObjectRoundTripInstance(t *testing.T) {
	inst := heap.NewInstance(7, 2)
	inst.SetField(0, value.FromI32(11))
	inst.SetField(1, value.FromPtr(999))

	got := roundTrip(t, 24, inst).(*heap.Instance)
	if got.Header().ClassID != 7 {
		t.Errorf("ClassID = %d, want 7", got.Header().ClassID)
	}
	if got.FieldCount() != 2 {
		t.Fatalf("FieldCount() = %d, want 2", got.FieldCount())
	}
	f0, _ := got.Field(0)
	if value.I32(f0) != 11 {
		t.Errorf("Field(0) = %v, want 11", f0)
	}
	f1, _ := got.Field(1)
	if value.Ptr(f1) != 999 {
		t.Errorf("Field(1) = %v, want ptr 999", f1)
	}
}

func TestObjectRoundTripClosure(t *testing.T) {
	c := heap.NewClosure(42, []value.Value{value.FromI32(5), value.FromPtr(100)})
	got := roundTrip(t, 32, c).(*heap.Closure)
	if got.FuncID != 42 {
		t.Errorf("FuncID = %d, want 42", got.FuncID)
	}
	cap0, _ := got.Capture(0)
	if value.I32(cap0) != 5 {
		t.Errorf("Capture(0) = %v, want 5", cap0)
	}
	cap1, _ := got.Capture(1)
	if value.Ptr(cap1) != 100 {
		t.Errorf("Capture(1) = %v, want ptr 100", cap1)
	}
}

func TestObjectRoundTripRefCell(t *testing.T) {
	rc := heap.NewRefCell(value.FromI32(77))
	got := roundTrip(t, 40, rc).(*heap.RefCell)
	if value.I32(got.Load()) != 77 {
		t.Errorf("Load() = %v, want 77", got.Load())
	}
}

func TestObjectRoundTripMutex(t *testing.T) {
	mu := heap.NewMutex()
	mu.Owner = 5
	mu.Waiters = []int64{1, 2, 3}
	got := roundTrip(t, 48, mu).(*heap.Mutex)
	if got.Owner != 5 {
		t.Errorf("Owner = %d, want 5", got.Owner)
	}
	if len(got.Waiters) != 3 || got.Waiters[1] != 2 {
		t.Errorf("Waiters = %v, want [1 2 3]", got.Waiters)
	}
}

func TestObjectRoundTripSemaphore(t *testing.T) {
	sem := heap.NewSemaphore(2)
	sem.Waiters = []heap.SemWaiter{{TaskID: 9, Permits: 1}}
	got := roundTrip(t, 56, sem).(*heap.Semaphore)
	if got.Permits != 2 {
		t.Errorf("Permits = %d, want 2", got.Permits)
	}
	if len(got.Waiters) != 1 || got.Waiters[0].TaskID != 9 || got.Waiters[0].Permits != 1 {
		t.Errorf("Waiters = %v, want [{9 1}]", got.Waiters)
	}
}

func TestObjectRoundTripChannel(t *testing.T) {
	ch := heap.NewChannel(4)
	ch.TrySend(value.FromI32(1))
	ch.TrySend(value.FromI32(2))
	ch.TryRecv() // advance head, so the ring buffer is not aligned at 0
	ch.TrySend(value.FromI32(3))
	ch.Closed = true
	ch.SendWaiters = []int64{11}
	ch.RecvWaiters = []int64{22, 33}

	got := roundTrip(t, 64, ch).(*heap.Channel)
	if got.Capacity() != 4 {
		t.Errorf("Capacity() = %d, want 4", got.Capacity())
	}
	if !got.Closed {
		t.Errorf("Closed = false, want true")
	}
	v, ok := got.TryRecv()
	if !ok || value.I32(v) != 2 {
		t.Fatalf("first TryRecv = %v, %v; want 2, true", v, ok)
	}
	v, ok = got.TryRecv()
	if !ok || value.I32(v) != 3 {
		t.Fatalf("second TryRecv = %v, %v; want 3, true", v, ok)
	}
	if len(got.SendWaiters) != 1 || got.SendWaiters[0] != 11 {
		t.Errorf("SendWaiters = %v, want [11]", got.SendWaiters)
	}
	if len(got.RecvWaiters) != 2 {
		t.Errorf("RecvWaiters = %v, want length 2", got.RecvWaiters)
	}
}

func TestObjectRoundTripTaskHandle(t *testing.T) {
	h := heap.NewTaskHandle(17)
	h.Complete(value.FromI32(88), value.Null)

	got := roundTrip(t, 72, h).(*heap.TaskHandle)
	if got.TaskID != 17 {
		t.Errorf("TaskID = %d, want 17", got.TaskID)
	}
	if !got.Done() {
		t.Fatalf("Done() = false, want true")
	}
	result, errVal := got.Result()
	if value.I32(result) != 88 || !errVal.IsNull() {
		t.Errorf("Result() = %v, %v; want 88, null", result, errVal)
	}
}

func TestObjectRoundTripRegExp(t *testing.T) {
	re, err := heap.CompileRegExp(`\d+`, "i")
	if err != nil {
		t.Fatalf("CompileRegExp: %v", err)
	}
	got := roundTrip(t, 80, re).(*heap.RegExp)
	if !got.MatchString("abc123") {
		t.Errorf("MatchString(%q) = false, want true", "abc123")
	}
}

func TestObjectRoundTripBigInt(t *testing.T) {
	b := heap.NewBigInt(uint256.NewInt(1).Lsh(uint256.NewInt(1), 200))
	got := roundTrip(t, 88, b).(*heap.BigInt)
	if got.Uint256().Cmp(b.Uint256()) != 0 {
		t.Errorf("Uint256() = %v, want %v", got.Uint256(), b.Uint256())
	}
}

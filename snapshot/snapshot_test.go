// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snapshot

import (
	"sync"
	"testing"
	"time"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/rconfig"
	"github.com/rizqme/raya/scheduler"
	"github.com/rizqme/raya/value"
)

// buildLockForever assembles a function that locks its sole argument (a
// Mutex), immediately unlocks it, and returns 42 — the same shape
// scheduler_test.go's lockForever fixture uses to drive a task into
// StateBlocked, plus a return value to confirm the restored task actually
// resumes and completes rather than merely sitting parked.
func buildLockForever(t *testing.T, h *heap.Heap) *heap.Function {
	t.Helper()
	a := bytecode.NewAssembler()
	a.Emit16(bytecode.LoadLocal, 0)
	a.Emit0(bytecode.MutexLock)
	a.Emit16(bytecode.LoadLocal, 0)
	a.Emit0(bytecode.MutexUnlock)
	a.EmitI32(bytecode.ConstI32, 42)
	a.Emit0(bytecode.Return)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble lockForever: %v", err)
	}
	id := h.Functions().Define(heap.NewFunction("lockForever", 1, 1, code))
	fn, _ := h.Functions().Get(id)
	return fn
}

func awaitState(t *testing.T, sched *scheduler.Scheduler, taskID int64, want scheduler.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if task := sched.Task(taskID); task != nil && task.State() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %d never reached state %v", taskID, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func awaitDone(t *testing.T, handle *heap.TaskHandle) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !handle.Done() {
		if time.Now().After(deadline) {
			t.Fatalf("task did not complete within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestCaptureRestoreRoundTripsBlockedTask captures a scheduler mid-flight
// with one task parked on a contended Mutex, restores that capture against
// a second, independently-built heap carrying the identical function/class
// definitions, releases the mutex on the restored side, and confirms the
// restored task resumes and completes with the same result a never-paused
// run would have produced (spec §6.2's round-trip requirement).
func TestCaptureRestoreRoundTripsBlockedTask(t *testing.T) {
	h1 := heap.New()
	classIDs1 := heap.RegisterBuiltinClasses(h1.Classes())
	fn1 := buildLockForever(t, h1)
	cfg := rconfig.Default()
	cfg.WorkerCount = 1
	natives1 := interp.NewNativeRegistry()
	sched1 := scheduler.New(h1, natives1, classIDs1, cfg, nil)

	mu := heap.NewMutex()
	mu.Owner = 999 // held by some task outside this capture
	muAddr := h1.Alloc(mu)

	sched1.Start()
	addr := sched1.Spawn(fn1, []value.Value{value.FromPtr(muAddr)})
	handle1 := mustTaskHandle(t, h1, addr)
	awaitState(t, sched1, handle1.TaskID, scheduler.StateBlocked)

	data, err := Capture(sched1)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	sched1.Stop()

	// Rebuild an identical module (same function/class definition order) on
	// a fresh heap, the precondition Restore documents.
	h2 := heap.New()
	classIDs2 := heap.RegisterBuiltinClasses(h2.Classes())
	buildLockForever(t, h2)
	natives2 := interp.NewNativeRegistry()

	sched2, err := Restore(data, h2, natives2, classIDs2, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restoredMu, ok := h2.Get(muAddr)
	if !ok {
		t.Fatalf("restored heap missing mutex at address %d", muAddr)
	}
	mu2 := restoredMu.(*heap.Mutex)
	if mu2.Owner != 999 {
		t.Fatalf("restored mutex Owner = %d, want 999", mu2.Owner)
	}

	restoredHandleObj, ok := h2.Get(addr)
	if !ok {
		t.Fatalf("restored heap missing task handle at address %d", addr)
	}
	handle2 := restoredHandleObj.(*heap.TaskHandle)
	if handle2.Done() {
		t.Fatalf("restored task handle already done before being resumed")
	}

	restoredTask := sched2.Task(handle1.TaskID)
	if restoredTask == nil {
		t.Fatalf("restored scheduler has no task %d", handle1.TaskID)
	}
	if restoredTask.State() != scheduler.StateBlocked {
		t.Fatalf("restored task state = %v, want Blocked", restoredTask.State())
	}

	sched2.Start()
	defer sched2.Stop()
	mu2.Owner = -1 // release, as the owning task's MutexUnlock would have

	awaitDone(t, handle2)
	result, errVal := handle2.Result()
	if !errVal.IsNull() {
		t.Fatalf("restored task failed: errVal=%v", errVal)
	}
	if got := value.I32(result); got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

// recorder observes the order tasks reach a point in their own execution,
// mirroring scheduler_test.go's fixture of the same name.
type recorder struct {
	mu    sync.Mutex
	order []int64
}

func (r *recorder) record(id int64) {
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

const recordNativeID = 1

// buildLockRecordUnlock assembles a function that locks its sole argument,
// calls the recordID native (so the test can observe the order in which
// blocked callers actually acquire the mutex), then unlocks and returns.
func buildLockRecordUnlock(t *testing.T, h *heap.Heap) *heap.Function {
	t.Helper()
	a := bytecode.NewAssembler()
	a.Emit16(bytecode.LoadLocal, 0)
	a.Emit0(bytecode.MutexLock)
	a.EmitNativeCall(bytecode.NativeCall, recordNativeID, 0)
	a.Emit16(bytecode.LoadLocal, 0)
	a.Emit0(bytecode.MutexUnlock)
	a.Emit0(bytecode.ReturnVoid)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble lockRecordUnlock: %v", err)
	}
	id := h.Functions().Define(heap.NewFunction("lockRecordUnlock", 1, 1, code))
	fn, _ := h.Functions().Get(id)
	return fn
}

// TestCaptureRestorePreservesMutexWaitOrder captures a scheduler with two
// tasks already queued FIFO-order on a contended Mutex (A registered before
// B), restores onto a fresh scheduler, then releases the mutex and checks
// the tasks still acquire it in their original order — spec.md's snapshot
// round-trip requirement that every primitive's wait-queue order survives
// a capture/restore cycle, not just which tasks end up blocked.
func TestCaptureRestorePreservesMutexWaitOrder(t *testing.T) {
	h1 := heap.New()
	classIDs1 := heap.RegisterBuiltinClasses(h1.Classes())
	cfg := rconfig.Default()
	cfg.WorkerCount = 1

	var rec recorder
	registerRecorder := func(n *interp.NativeRegistry) {
		n.Register(recordNativeID, func(m *interp.Machine, args []value.Value) (value.Value, error) {
			rec.record(m.Host.TaskID())
			return value.Null, nil
		})
	}

	natives1 := interp.NewNativeRegistry()
	registerRecorder(natives1)
	fn1 := buildLockRecordUnlock(t, h1)
	sched1 := scheduler.New(h1, natives1, classIDs1, cfg, nil)

	mu := heap.NewMutex()
	mu.Owner = 999 // held by some task outside this capture
	muAddr := h1.Alloc(mu)

	sched1.Start()
	addrA := sched1.Spawn(fn1, []value.Value{value.FromPtr(muAddr)})
	handleA := mustTaskHandle(t, h1, addrA)
	awaitState(t, sched1, handleA.TaskID, scheduler.StateBlocked)

	addrB := sched1.Spawn(fn1, []value.Value{value.FromPtr(muAddr)})
	handleB := mustTaskHandle(t, h1, addrB)
	awaitState(t, sched1, handleB.TaskID, scheduler.StateBlocked)

	data, err := Capture(sched1)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	sched1.Stop()

	h2 := heap.New()
	classIDs2 := heap.RegisterBuiltinClasses(h2.Classes())
	buildLockRecordUnlock(t, h2)
	natives2 := interp.NewNativeRegistry()
	registerRecorder(natives2)

	sched2, err := Restore(data, h2, natives2, classIDs2, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restoredMuObj, ok := h2.Get(muAddr)
	if !ok {
		t.Fatalf("restored heap missing mutex at address %d", muAddr)
	}
	mu2 := restoredMuObj.(*heap.Mutex)
	handle2A := mustTaskHandle(t, h2, addrA)
	handle2B := mustTaskHandle(t, h2, addrB)

	sched2.Start()
	defer sched2.Stop()
	mu2.Owner = -1 // release, as the owning task's MutexUnlock would have

	awaitDone(t, handle2A)
	awaitDone(t, handle2B)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.order) != 2 || rec.order[0] != handleA.TaskID || rec.order[1] != handleB.TaskID {
		t.Errorf("post-restore acquire order = %v; want [%d %d]", rec.order, handleA.TaskID, handleB.TaskID)
	}
}

func mustTaskHandle(t *testing.T, h *heap.Heap, addr uint64) *heap.TaskHandle {
	t.Helper()
	obj, ok := h.Get(addr)
	if !ok {
		t.Fatalf("no object at %d", addr)
	}
	handle, ok := obj.(*heap.TaskHandle)
	if !ok {
		t.Fatalf("object at %d is not a TaskHandle", addr)
	}
	return handle
}

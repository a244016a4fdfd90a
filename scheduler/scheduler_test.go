// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/rconfig"
	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

// ---- Fixture plumbing -------------------------------------------------------

// newTestScheduler builds a Scheduler over a fresh Heap with workerCount
// workers, ready for Spawn/Start.
func newTestScheduler(workerCount int) (*Scheduler, *heap.Heap) {
	h := heap.New()
	classIDs := heap.RegisterBuiltinClasses(h.Classes())
	cfg := rconfig.Default()
	cfg.WorkerCount = workerCount
	s := New(h, interp.NewNativeRegistry(), classIDs, cfg, nil)
	return s, h
}

// buildFn assembles code via build, registers it as a heap.Function with the
// given param/local counts, and returns it.
func buildFn(t *testing.T, h *heap.Heap, name string, paramCount, localCount int, build func(a *bytecode.Assembler)) *heap.Function {
	t.Helper()
	a := bytecode.NewAssembler()
	build(a)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble %s: %v", name, err)
	}
	id := h.Functions().Define(heap.NewFunction(name, paramCount, localCount, code))
	fn, _ := h.Functions().Get(id)
	return fn
}

// handleOf resolves addr to its TaskHandle, failing the test if it isn't one.
func handleOf(t *testing.T, h *heap.Heap, addr uint64) *heap.TaskHandle {
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

// awaitDone polls handle.Done with a short timeout instead of an unbounded
// Wait, so a scheduler bug that drops a task shows up as a test failure
// rather than a hang.
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

// errorKindOf resolves a thrown/cancelled TaskHandle's errVal (an Error
// instance shaped like interp's wrapGoError/wrapFault output) to its kind
// string, the same field layout interp_test.go's checkErrorKind asserts on.
func errorKindOf(t *testing.T, h *heap.Heap, errVal value.Value) string {
	t.Helper()
	if errVal.IsNull() {
		t.Fatalf("errVal is null; task did not fail")
	}
	obj, ok := h.Get(value.Ptr(errVal))
	if !ok {
		t.Fatalf("errVal does not resolve to a heap object")
	}
	inst, ok := obj.(*heap.Instance)
	if !ok {
		t.Fatalf("errVal is not an Error Instance")
	}
	kindV, ok := inst.Field(0)
	if !ok {
		t.Fatalf("Error instance missing kind field")
	}
	kindObj, ok := h.Get(value.Ptr(kindV))
	if !ok {
		t.Fatalf("Error kind field does not resolve to a heap string")
	}
	str, ok := kindObj.(*heap.String)
	if !ok {
		t.Fatalf("Error kind field is not a String")
	}
	return str.Bytes()
}

// ---- Lifecycle ---------------------------------------------------------------

func TestSchedulerSpawnReturnsResult(t *testing.T) {
	s, h := newTestScheduler(2)
	fn := buildFn(t, h, "add", 0, 0, func(a *bytecode.Assembler) {
		a.EmitI32(bytecode.ConstI32, 10)
		a.EmitI32(bytecode.ConstI32, 32)
		a.Emit0(bytecode.Iadd)
		a.Emit0(bytecode.Return)
	})

	s.Start()
	defer s.Stop()
	addr := s.Spawn(fn, nil)
	handle := handleOf(t, h, addr)
	awaitDone(t, handle)

	result, errVal := handle.Result()
	if !errVal.IsNull() {
		t.Fatalf("task failed: kind=%s", errorKindOf(t, h, errVal))
	}
	if got := value.I32(result); got != 42 {
		t.Errorf("result = %d; want 42", got)
	}
}

func TestSchedulerTaskThrowsUncaught(t *testing.T) {
	s, h := newTestScheduler(1)
	fn := buildFn(t, h, "divz", 0, 0, func(a *bytecode.Assembler) {
		a.EmitI32(bytecode.ConstI32, 10)
		a.EmitI32(bytecode.ConstI32, 0)
		a.Emit0(bytecode.Idiv)
		a.Emit0(bytecode.Return)
	})

	s.Start()
	defer s.Stop()
	addr := s.Spawn(fn, nil)
	handle := handleOf(t, h, addr)
	awaitDone(t, handle)

	_, errVal := handle.Result()
	if got := errorKindOf(t, h, errVal); got != rerr.KindRangeError.String() {
		t.Errorf("error kind = %q; want %q", got, rerr.KindRangeError.String())
	}
}

// ---- Cancellation --------------------------------------------------------------

func TestSchedulerCancelRunnableTaskNeverExecutesBody(t *testing.T) {
	s, h := newTestScheduler(1)
	// If this body ever actually ran it would return 99; a cancelled task
	// must never reach Return at all.
	fn := buildFn(t, h, "wouldReturn99", 0, 0, func(a *bytecode.Assembler) {
		a.EmitI32(bytecode.ConstI32, 99)
		a.Emit0(bytecode.Return)
	})

	addr := s.Spawn(fn, nil)
	handle := handleOf(t, h, addr)
	s.CancelTask(handle.TaskID)

	s.Start()
	defer s.Stop()
	awaitDone(t, handle)

	_, errVal := handle.Result()
	if got := errorKindOf(t, h, errVal); got != rerr.KindCancelled.String() {
		t.Errorf("error kind = %q; want %q", got, rerr.KindCancelled.String())
	}
}

func TestSchedulerCancelBlockedTaskWakesWithCancelled(t *testing.T) {
	s, h := newTestScheduler(1)
	mu := heap.NewMutex()
	mu.Owner = 99 // held by some task outside this test
	muAddr := h.Alloc(mu)

	fn := buildFn(t, h, "lockForever", 1, 1, func(a *bytecode.Assembler) {
		a.Emit16(bytecode.LoadLocal, 0)
		a.Emit0(bytecode.MutexLock)
		a.Emit0(bytecode.ReturnVoid)
	})

	s.Start()
	defer s.Stop()
	addr := s.Spawn(fn, []value.Value{value.FromPtr(muAddr)})
	handle := handleOf(t, h, addr)

	deadline := time.Now().Add(2 * time.Second)
	var task *Task
	for {
		if task = s.Task(handle.TaskID); task != nil && task.State() == StateBlocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never reached Blocked")
		}
		time.Sleep(time.Millisecond)
	}

	s.CancelTask(handle.TaskID)
	awaitDone(t, handle)

	_, errVal := handle.Result()
	if got := errorKindOf(t, h, errVal); got != rerr.KindCancelled.String() {
		t.Errorf("error kind = %q; want %q", got, rerr.KindCancelled.String())
	}
}

// ---- Fairness -------------------------------------------------------------------

// recorder is a concurrency-safe append-only log of task ids, used to assert
// wake order without depending on wall-clock timing between goroutines.
type recorder struct {
	mu    sync.Mutex
	order []int64
}

func (r *recorder) record(id int64) {
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

func TestSchedulerMutexFIFOWakeOrder(t *testing.T) {
	s, h := newTestScheduler(2)
	mu := heap.NewMutex()
	mu.Owner = 99
	muAddr := h.Alloc(mu)

	var rec recorder
	natives := s.Natives
	const recordID = 1
	natives.Register(recordID, func(m *interp.Machine, args []value.Value) (value.Value, error) {
		rec.record(m.Host.TaskID())
		return value.Null, nil
	})

	fn := buildFn(t, h, "lockRecordUnlock", 1, 1, func(a *bytecode.Assembler) {
		a.Emit16(bytecode.LoadLocal, 0)
		a.Emit0(bytecode.MutexLock)
		a.EmitNativeCall(bytecode.NativeCall, recordID, 0)
		a.Emit16(bytecode.LoadLocal, 0)
		a.Emit0(bytecode.MutexUnlock)
		a.Emit0(bytecode.ReturnVoid)
	})

	s.Start()
	defer s.Stop()

	addrA := s.Spawn(fn, []value.Value{value.FromPtr(muAddr)})
	handleA := handleOf(t, h, addrA)

	// Wait for A to register as the mutex's FIFO head before spawning B, so
	// wake order is determined by spawn order rather than goroutine timing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if task := s.Task(handleA.TaskID); task != nil && task.State() == StateBlocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task A never blocked on the mutex")
		}
		time.Sleep(time.Millisecond)
	}

	addrB := s.Spawn(fn, []value.Value{value.FromPtr(muAddr)})
	handleB := handleOf(t, h, addrB)

	// Release the mutex the same way a third task's MutexUnlock would.
	mu.Owner = -1

	awaitDone(t, handleA)
	awaitDone(t, handleB)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.order) != 2 || rec.order[0] != handleA.TaskID || rec.order[1] != handleB.TaskID {
		t.Errorf("wake order = %v; want [%d %d]", rec.order, handleA.TaskID, handleB.TaskID)
	}
}

func TestSchedulerSemaphoreFIFOWakeOrder(t *testing.T) {
	s, h := newTestScheduler(2)
	sem := heap.NewSemaphore(0)
	semAddr := h.Alloc(sem)

	var rec recorder
	natives := s.Natives
	const recordID = 2
	natives.Register(recordID, func(m *interp.Machine, args []value.Value) (value.Value, error) {
		rec.record(m.Host.TaskID())
		return value.Null, nil
	})

	fn := buildFn(t, h, "acquireRecord", 1, 1, func(a *bytecode.Assembler) {
		a.Emit16(bytecode.LoadLocal, 0)
		a.EmitI32(bytecode.ConstI32, 1)
		a.Emit0(bytecode.SemAcquire)
		a.EmitNativeCall(bytecode.NativeCall, recordID, 0)
		a.Emit0(bytecode.ReturnVoid)
	})

	s.Start()
	defer s.Stop()

	addrA := s.Spawn(fn, []value.Value{value.FromPtr(semAddr)})
	handleA := handleOf(t, h, addrA)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if task := s.Task(handleA.TaskID); task != nil && task.State() == StateBlocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task A never blocked on the semaphore")
		}
		time.Sleep(time.Millisecond)
	}

	addrB := s.Spawn(fn, []value.Value{value.FromPtr(semAddr)})
	handleB := handleOf(t, h, addrB)
	deadline = time.Now().Add(2 * time.Second)
	for {
		if task := s.Task(handleB.TaskID); task != nil && task.State() == StateBlocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task B never blocked on the semaphore")
		}
		time.Sleep(time.Millisecond)
	}

	sem.Permits = 1 // a single permit satisfies exactly A; B needs the second grant below
	awaitDone(t, handleA)
	sem.Permits = 1
	awaitDone(t, handleB)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.order) != 2 || rec.order[0] != handleA.TaskID || rec.order[1] != handleB.TaskID {
		t.Errorf("wake order = %v; want [%d %d]", rec.order, handleA.TaskID, handleB.TaskID)
	}
}

func TestSchedulerChannelRecvWakesOnSend(t *testing.T) {
	s, h := newTestScheduler(1)
	ch := heap.NewChannel(1)
	chAddr := h.Alloc(ch)

	fn := buildFn(t, h, "recvOne", 1, 1, func(a *bytecode.Assembler) {
		a.Emit16(bytecode.LoadLocal, 0)
		a.Emit0(bytecode.ChannelRecv)
		a.Emit0(bytecode.Return)
	})

	s.Start()
	defer s.Stop()
	addr := s.Spawn(fn, []value.Value{value.FromPtr(chAddr)})
	handle := handleOf(t, h, addr)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if task := s.Task(handle.TaskID); task != nil && task.State() == StateBlocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never blocked on the channel recv")
		}
		time.Sleep(time.Millisecond)
	}

	if !ch.TrySend(value.FromI32(9)) {
		t.Fatalf("TrySend on a channel with a free slot must succeed")
	}
	awaitDone(t, handle)

	result, errVal := handle.Result()
	if !errVal.IsNull() {
		t.Fatalf("task failed: kind=%s", errorKindOf(t, h, errVal))
	}
	if got := value.I32(result); got != 9 {
		t.Errorf("recv result = %d; want 9", got)
	}
}

func TestSchedulerChannelSendWakesOnRecv(t *testing.T) {
	s, h := newTestScheduler(1)
	ch := heap.NewChannel(1)
	if !ch.TrySend(value.FromI32(1)) {
		t.Fatalf("TrySend into a fresh capacity-1 channel must succeed")
	}

	fn := buildFn(t, h, "sendOne", 1, 1, func(a *bytecode.Assembler) {
		a.Emit16(bytecode.LoadLocal, 0)
		a.EmitI32(bytecode.ConstI32, 11)
		a.Emit0(bytecode.ChannelSend)
		a.Emit0(bytecode.ReturnVoid)
	})

	chAddr := h.Alloc(ch)
	s.Start()
	defer s.Stop()
	addr := s.Spawn(fn, []value.Value{value.FromPtr(chAddr)})
	handle := handleOf(t, h, addr)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if task := s.Task(handle.TaskID); task != nil && task.State() == StateBlocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never blocked on the channel send")
		}
		time.Sleep(time.Millisecond)
	}

	if _, ok := ch.TryRecv(); !ok {
		t.Fatalf("TryRecv on the pre-filled channel must succeed")
	}
	awaitDone(t, handle)

	_, errVal := handle.Result()
	if !errVal.IsNull() {
		t.Fatalf("task failed: kind=%s", errorKindOf(t, h, errVal))
	}
}

// ---- Sleep / Await -------------------------------------------------------------

func TestSchedulerSleepWakesAfterDeadline(t *testing.T) {
	s, h := newTestScheduler(1)
	fn := buildFn(t, h, "sleeper", 0, 0, func(a *bytecode.Assembler) {
		a.EmitI32(bytecode.ConstI32, 5) // 5ms
		a.Emit0(bytecode.Sleep)
		a.EmitI32(bytecode.ConstI32, 7)
		a.Emit0(bytecode.Return)
	})

	s.Start()
	defer s.Stop()
	addr := s.Spawn(fn, nil)
	handle := handleOf(t, h, addr)
	awaitDone(t, handle)

	result, errVal := handle.Result()
	if !errVal.IsNull() {
		t.Fatalf("task failed: kind=%s", errorKindOf(t, h, errVal))
	}
	if got := value.I32(result); got != 7 {
		t.Errorf("result = %d; want 7", got)
	}
}

func TestSchedulerAwaitWakesOnTaskCompletion(t *testing.T) {
	s, h := newTestScheduler(1)
	handle := heap.NewTaskHandle(123)
	handleAddr := h.Alloc(handle)

	fn := buildFn(t, h, "awaiter", 1, 1, func(a *bytecode.Assembler) {
		a.Emit16(bytecode.LoadLocal, 0)
		a.Emit0(bytecode.Await)
		a.Emit0(bytecode.Return)
	})

	s.Start()
	defer s.Stop()
	addr := s.Spawn(fn, []value.Value{value.FromPtr(handleAddr)})
	awaiterHandle := handleOf(t, h, addr)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if task := s.Task(awaiterHandle.TaskID); task != nil && task.State() == StateBlocked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("awaiter never blocked on Await")
		}
		time.Sleep(time.Millisecond)
	}

	handle.Complete(value.FromI32(55), value.Null)
	awaitDone(t, awaiterHandle)

	result, errVal := awaiterHandle.Result()
	if !errVal.IsNull() {
		t.Fatalf("awaiter failed: kind=%s", errorKindOf(t, h, errVal))
	}
	if got := value.I32(result); got != 55 {
		t.Errorf("result = %d; want 55", got)
	}
}

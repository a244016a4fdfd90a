// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package scheduler implements the engine's work-stealing task scheduler
// and stop-the-world safepoint coordinator (spec §3.6, §4.4, §5),
// generalizing the teacher repository's fixed worker-pool mining idiom
// (consensus/probeash/sealer.go: a runtime.NumCPU-sized pool of goroutines
// coordinated by a sync.WaitGroup and an abort channel) into a persistent
// pool of long-lived workers that pull Tasks from work-stealing queues
// instead of racing a single nonce search to completion.
package scheduler

import (
	"sync/atomic"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/value"
)

// State is a Task's position in its lifecycle (spec §3.6).
type State int32

const (
	StateCreated State = iota
	StateRunnable
	StateRunning
	StateBlocked
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// BlockReason mirrors interp.BlockReason at the scheduler's level of
// vocabulary (spec §3.6's Blocked(reason) variants), adding the
// wait-target/permit bookkeeping the scheduler's queues key on. A Task
// carries one of these whenever State is StateBlocked.
type BlockReason struct {
	Kind   BlockKind
	Target uint64 // heap address of the Mutex/Semaphore/Channel/TaskHandle being awaited
	N      int    // permits requested (Semaphore) or element count for channel readiness
}

// BlockKind enumerates spec §3.6's Blocked reason variants.
type BlockKind int32

const (
	BlockNone BlockKind = iota
	BlockAwaitingTask
	BlockAwaitingMutex
	BlockAwaitingSemaphore
	BlockAwaitingChannelSend
	BlockAwaitingChannelRecv
	BlockSleeping
)

// fromInterp translates the narrower interp.BlockReason (which knows
// nothing of task ids) into the scheduler's BlockKind vocabulary.
func fromInterp(r interp.BlockReason) BlockKind {
	switch r {
	case interp.BlockAwaitingTask:
		return BlockAwaitingTask
	case interp.BlockAwaitingMutex:
		return BlockAwaitingMutex
	case interp.BlockAwaitingSemaphore:
		return BlockAwaitingSemaphore
	case interp.BlockAwaitingChannelSend:
		return BlockAwaitingChannelSend
	case interp.BlockAwaitingChannelRecv:
		return BlockAwaitingChannelRecv
	case interp.BlockSleeping:
		return BlockSleeping
	default:
		return BlockNone
	}
}

// Task is the unit of concurrency (spec §3.6): an id, an optional parent,
// a state, the interpreter Machine executing its call-frame/operand-stack
// buffer, a cancellation flag, and a result slot (the heap address of its
// TaskHandle, which Await/WaitAll poll via heap.TaskHandle.Done).
type Task struct {
	ID       int64
	ParentID int64 // 0 if this is a root task

	Machine    *interp.Machine
	HandleAddr uint64 // heap address of this task's own heap.TaskHandle
	Block      BlockReason
	Deadline   int64 // unix-nano wait deadline for Sleeping/timed waits, 0 if none

	sched *Scheduler

	cancelled       int32 // atomic: set by Cancel, polled at the next safepoint
	cancelDelivered int32 // atomic: true once the Cancelled exception has been raised once
	oom             int32 // atomic: set by a collector that is still over cfg.GCMaxHeapBytes after a cycle
	oomDelivered    int32 // atomic: true once the OutOfMemory exception has been raised once
	state           int32 // atomic State
}

// newTask allocates a Task with a fresh Machine, not yet bound to a
// function and not yet scheduled onto any queue. The caller binds its
// function and arguments and pushes it onto the spawn queue.
func newTask(id, parentID int64, sched *Scheduler, handleAddr uint64) *Task {
	t := &Task{
		ID:         id,
		ParentID:   parentID,
		HandleAddr: handleAddr,
		sched:      sched,
		state:      int32(StateCreated),
	}
	t.Machine = interp.NewMachine(sched.Heap, sched.Natives, t, sched.ClassIDs)
	if sched.jit != nil {
		t.Machine.SetJitHook(sched.jit, sched.jitThr)
	}
	return t
}

// SpawnTask implements interp.Host: the Spawn/SpawnClosure opcodes call
// this through the Machine they're embedded in, delegating the new task's
// lifetime to this Task's owning Scheduler (spec §3.6: task creation is
// the scheduler's authority, not the interpreter's).
func (t *Task) SpawnTask(funcID uint32, args []value.Value) uint64 {
	return t.sched.spawnChild(t, funcID, args)
}

// State returns the task's current lifecycle state.
func (t *Task) State() State { return State(atomic.LoadInt32(&t.state)) }

func (t *Task) setState(s State) { atomic.StoreInt32(&t.state, int32(s)) }

// Cancel sets the task's cancellation flag. Idempotent; the effect becomes
// visible the next time the scheduler observes the task at a safepoint
// (between quanta), per spec §4.4.
func (t *Task) Cancel() { atomic.StoreInt32(&t.cancelled, 1) }

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool { return atomic.LoadInt32(&t.cancelled) == 1 }

// shouldDeliverCancel reports whether the Cancelled exception still needs
// to be raised in this task's context and, if so, atomically claims that
// delivery so a later quantum does not raise it a second time once the
// task has (possibly) caught and continued past it.
func (t *Task) shouldDeliverCancel() bool {
	if !t.Cancelled() {
		return false
	}
	return atomic.CompareAndSwapInt32(&t.cancelDelivered, 0, 1)
}

// RaiseOOM marks this task to receive an OutOfMemory exception at its next
// quantum (spec §4.5: "a failed allocation under a cap raises OutOfMemory").
// Called by a collector that finds the heap still over cfg.GCMaxHeapBytes
// immediately after a collection cycle.
func (t *Task) RaiseOOM() { atomic.StoreInt32(&t.oom, 1) }

func (t *Task) outOfMemory() bool { return atomic.LoadInt32(&t.oom) == 1 }

// shouldDeliverOOM mirrors shouldDeliverCancel: reports whether the
// OutOfMemory exception still needs to be raised in this task's context
// and, if so, atomically claims that delivery.
func (t *Task) shouldDeliverOOM() bool {
	if !t.outOfMemory() {
		return false
	}
	return atomic.CompareAndSwapInt32(&t.oomDelivered, 0, 1)
}

// TaskID implements interp.Host for the Machine this Task owns.
func (t *Task) TaskID() int64 { return t.ID }

// CancelTask implements interp.Host: TASK_CANCEL always targets a task by
// id (its own or another's), so this simply forwards to the owning
// Scheduler, which knows how to find that id's Task and evict it from its
// wait queue if currently blocked.
func (t *Task) CancelTask(taskID int64) { t.sched.CancelTask(taskID) }

// TaskSnapshot captures the scheduler-level fields of a Task (spec §6.2's
// per-task record: "id, parent, state, pending-exception, result..."),
// separate from its Machine's own execution state (frame stack, operand
// stack, handler stack), which interp.Machine.RestoreState rebuilds
// directly from its own exported accessors.
type TaskSnapshot struct {
	ID              int64
	ParentID        int64
	HandleAddr      uint64
	State           State
	Block           BlockReason
	Deadline        int64
	Cancelled       bool
	CancelDelivered bool
	OOM             bool
	OOMDelivered    bool
	QueuePos        int // index within Block's wait queue, -1 if not blocked
}

// Snapshot captures t's scheduler-level fields for the snapshot writer.
// QueuePos records t's actual FIFO position in its wait queue (rather than
// relying on Tasks()' ID order, which is not wait-queue order) so Restore
// can re-register blocked tasks in the order their primitive's fairness
// guarantee requires.
func (t *Task) Snapshot() TaskSnapshot {
	queuePos := -1
	if t.State() == StateBlocked {
		queuePos = t.sched.waits.queuePosition(t)
	}
	return TaskSnapshot{
		ID:              t.ID,
		ParentID:        t.ParentID,
		HandleAddr:      t.HandleAddr,
		State:           t.State(),
		Block:           t.Block,
		Deadline:        t.Deadline,
		Cancelled:       t.Cancelled(),
		CancelDelivered: atomic.LoadInt32(&t.cancelDelivered) == 1,
		OOM:             t.outOfMemory(),
		OOMDelivered:    atomic.LoadInt32(&t.oomDelivered) == 1,
		QueuePos:        queuePos,
	}
}

// RestoreTask reconstructs a Task from rec, mirroring newTask's Machine
// construction (same Heap/Natives/ClassIDs/jit hook wiring) rather than
// accepting a caller-built one, so a restored task's Machine is wired
// identically to one spawn() would have created. The caller (package
// snapshot) fills the Machine's execution state in afterward via
// t.Machine.RestoreState/SetConstants, before this task ever reaches a
// worker. Reinserts t into this scheduler's bookkeeping at the lifecycle
// point the snapshot captured: Runnable and Running tasks rejoin the spawn
// queue (a pause only ever lands between quanta, so "Running at snapshot
// time" and "Runnable at restore time" are the same thing), Blocked tasks
// rejoin the wait queue their BlockReason names, and a terminal task is
// left parked purely in s.tasks for Task/Tasks lookups, never requeued for
// execution again.
func (s *Scheduler) RestoreTask(rec TaskSnapshot) *Task {
	t := s.BuildRestoredTask(rec)
	s.CommitRestoredTask(t, rec)
	return t
}

// BuildRestoredTask constructs rec's Task and wires its Machine, but
// touches none of the scheduler's bookkeeping (s.tasks, the spawn queue,
// the wait queues). The snapshot reader calls this for every task, decodes
// each one's Machine state immediately after (the byte stream interleaves
// a task record with its Machine, per task, in capture order), and only
// once every task in the batch has been built and sorted into true
// wait-queue order does it call CommitRestoredTask — reusing a single
// task for both halves so the decoded Machine state lands on the same
// object that ultimately gets scheduled.
func (s *Scheduler) BuildRestoredTask(rec TaskSnapshot) *Task {
	t := &Task{
		ID:         rec.ID,
		ParentID:   rec.ParentID,
		HandleAddr: rec.HandleAddr,
		Block:      rec.Block,
		Deadline:   rec.Deadline,
		sched:      s,
		state:      int32(rec.State),
	}
	t.Machine = interp.NewMachine(s.Heap, s.Natives, t, s.ClassIDs)
	if s.jit != nil {
		t.Machine.SetJitHook(s.jit, s.jitThr)
	}
	if rec.Cancelled {
		t.cancelled = 1
	}
	if rec.CancelDelivered {
		t.cancelDelivered = 1
	}
	if rec.OOM {
		t.oom = 1
	}
	if rec.OOMDelivered {
		t.oomDelivered = 1
	}
	return t
}

// CommitRestoredTask files t (already built by BuildRestoredTask) into
// this scheduler's bookkeeping at the lifecycle point rec captured:
// Runnable and Running tasks rejoin the spawn queue (a pause only ever
// lands between quanta, so "Running at snapshot time" and "Runnable at
// restore time" are the same thing), Blocked tasks rejoin the wait queue
// their BlockReason names — in whatever order the caller invokes this
// across a batch of blocked tasks sharing a resource, so the caller must
// process them in ascending rec.QueuePos order to reproduce the captured
// FIFO order — and a terminal task is left parked purely in s.tasks for
// Task/Tasks lookups, never requeued for execution again.
func (s *Scheduler) CommitRestoredTask(t *Task, rec TaskSnapshot) {
	s.tasksMu.Lock()
	s.tasks[t.ID] = t
	s.tasksMu.Unlock()

	for {
		cur := atomic.LoadInt64(&s.nextID)
		if rec.ID <= cur || atomic.CompareAndSwapInt64(&s.nextID, cur, rec.ID) {
			break
		}
	}

	switch rec.State {
	case StateRunnable, StateRunning:
		t.setState(StateRunnable)
		atomic.AddInt32(&s.runningTasks, 1)
		s.spawnQ.push(t)
	case StateBlocked:
		atomic.AddInt32(&s.runningTasks, 1)
		s.waits.register(t)
	}
}

// completeHandle stamps this task's TaskHandle with its outcome and marks
// it Completed/Cancelled, the step that every blocked Await/WaitAll
// elsewhere in the program polls for via heap.TaskHandle.Done.
func (t *Task) completeHandle(h *heap.Heap, result, errVal value.Value, cancelled bool) {
	if obj, ok := h.Get(t.HandleAddr); ok {
		if handle, ok := obj.(*heap.TaskHandle); ok {
			handle.Complete(result, errVal)
		}
	}
	if cancelled {
		t.setState(StateCancelled)
	} else {
		t.setState(StateCompleted)
	}
}

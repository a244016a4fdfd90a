// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scheduler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/rconfig"
	"github.com/rizqme/raya/rlog"
	"github.com/rizqme/raya/value"
)

// Scheduler owns the full concurrency runtime for one VM instance (spec
// §3.6, §4.4): the spawn queue, the worker pool, the safepoint
// coordinator, and the wait-queue bookkeeping for every blocking
// primitive. It is the Host every Task's Machine is constructed against.
type Scheduler struct {
	Heap     *heap.Heap
	Natives  *interp.NativeRegistry
	ClassIDs heap.BuiltinClassIDs
	Config   *rconfig.Config
	Log      *rlog.Logger

	spawnQ  *spawnQueue
	coord   *Coordinator
	gc      GCHook
	jit     interp.JitHook
	jitThr  uint32

	workersMu sync.RWMutex
	workers   []*worker

	nextID int64 // atomic

	tasksMu sync.Mutex
	tasks   map[int64]*Task

	waits *waitSet

	runningTasks int32 // atomic: incremented/decremented as tasks finish, for Wait's drain check
	started      int32 // atomic bool
	stopCh       chan struct{}
	wg           sync.WaitGroup

	// wake is a single-slot coalescing signal (the classic Go
	// "channel-as-condition-variable" idiom): any of spawn/complete/unpark
	// performs a non-blocking send, and a parked worker's select drains it.
	// A buffered channel can't lose a wakeup the way a sync.Cond.Signal
	// can race a concurrent Wait, at the cost of only ever waking one
	// parked worker per event — bounded idle polling (see worker.park)
	// covers the rest.
	wake chan struct{}
}

// New creates a Scheduler sized per cfg.WorkerCount (default
// ceil(0.75*NumCPU), rconfig.Default), ready for tasks to be spawned onto
// it via Spawn. Start must be called before any task runs.
func New(h *heap.Heap, natives *interp.NativeRegistry, classIDs heap.BuiltinClassIDs, cfg *rconfig.Config, log *rlog.Logger) *Scheduler {
	if cfg == nil {
		cfg = rconfig.Default()
	}
	if log == nil {
		log = rlog.Root().With("scheduler")
	}
	n := cfg.WorkerCount
	if n < 1 {
		n = 1
	}
	s := &Scheduler{
		Heap:     h,
		Natives:  natives,
		ClassIDs: classIDs,
		Config:   cfg,
		Log:      log,
		spawnQ:   newSpawnQueue(),
		coord:    NewCoordinator(n),
		tasks:    make(map[int64]*Task),
		stopCh:   make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	s.waits = newWaitSet(s)
	s.workers = make([]*worker, n)
	for i := 0; i < n; i++ {
		s.workers[i] = newWorker(i, s)
	}
	return s
}

// Coordinator exposes the safepoint coordinator so gc/jit/snapshot callers
// (outside this package) can request a stop-the-world pause.
func (s *Scheduler) Coordinator() *Coordinator { return s.coord }

// GCHook is the narrow interface a worker drives after each quantum to give
// a collector the chance to request a pause once the heap has grown past
// its trigger threshold (spec §4.4's "after any opcode that can allocate"
// safepoint, approximated here at quantum granularity for the same reason
// runQuantum's quantum constant already documents). Defined here rather
// than imported from package gc so this package never depends on it —
// gc.Collector satisfies this structurally, the same inversion interp.Host
// already uses for SpawnTask/CancelTask.
type GCHook interface {
	MaybeCollect(current *Task)
}

// SetJitHook installs the tiering pipeline consulted whenever a task's
// Machine pushes a call frame (interp.JitHook, spec §4.6's "a closure call
// records the callee's call count"). threshold is the call count a
// function's profile must cross before it is even offered to the hook;
// must be called before Start so every Task newTask creates afterward
// picks it up via SetJitHook's own forwarding at task-creation time.
func (s *Scheduler) SetJitHook(h interp.JitHook, threshold uint32) {
	s.jit = h
	s.jitThr = threshold
}

// SetGCHook installs the collector a worker consults after every quantum.
// Must be called before Start; nil (the default) means no automatic
// collection is ever triggered.
func (s *Scheduler) SetGCHook(h GCHook) { s.gc = h }

// Tasks returns a snapshot of every task the scheduler currently knows
// about — spawned, running, blocked, or merely sitting in a queue —
// anything not yet reaped by finishTask. A safepoint-coordinated pass (the
// GC's mark phase, a future snapshot writer) walks this instead of
// aggregating per-worker root publications, since a task can be parked in
// the central spawn queue or a wait queue owned by no particular worker
// when the pause lands (spec §4.5 root set R4: "a blocked task's state is
// a root"). The result is sorted by ID rather than left in s.tasks' map
// iteration order, so two captures of an otherwise-identical scheduler
// state serialize identically.
func (s *Scheduler) Tasks() []*Task {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches one goroutine per worker, grounded on the teacher's own
// mining-pool idiom (consensus/probeash/sealer.go: a sync.WaitGroup tracks
// a fixed-size pool of `go func(id int) {...}` goroutines, each running
// until told to stop).
func (s *Scheduler) Start() {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return
	}
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.loop()
		}(w)
	}
}

// Stop signals every worker to exit its loop once its current quantum
// finishes and waits for them to drain.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wakeAll()
	s.wg.Wait()
}

// Spawn creates a root task (no parent) running fn with args and returns
// the heap address of its TaskHandle, mirroring what the Spawn opcode
// returns to guest code. The caller is responsible for calling Start (or
// having already called it) for the task to actually progress.
func (s *Scheduler) Spawn(fn *heap.Function, args []value.Value) uint64 {
	return s.spawn(0, fn, args)
}

// spawnChild implements interp.Host.SpawnTask on behalf of parent: funcID
// is resolved against the shared heap's function table.
func (s *Scheduler) spawnChild(parent *Task, funcID uint32, args []value.Value) uint64 {
	fn, ok := s.Heap.Functions().Get(funcID)
	if !ok {
		// A verified module never references an undefined function id; a
		// missing one here means the caller handed us raw/unverified
		// bytecode. Fall back to a handle that is permanently unfinished
		// rather than panic the worker goroutine.
		return s.Heap.Alloc(heap.NewTaskHandle(-1))
	}
	return s.spawn(parent.ID, fn, args)
}

func (s *Scheduler) spawn(parentID int64, fn *heap.Function, args []value.Value) uint64 {
	id := atomic.AddInt64(&s.nextID, 1)
	handleAddr := s.Heap.Alloc(heap.NewTaskHandle(id))
	t := newTask(id, parentID, s, handleAddr)
	if err := t.Machine.Reset(fn, args); err != nil {
		errVal := s.wrapFault(err)
		t.completeHandle(s.Heap, value.Null, errVal, false)
		return handleAddr
	}
	t.setState(StateRunnable)

	s.tasksMu.Lock()
	s.tasks[id] = t
	s.tasksMu.Unlock()

	atomic.AddInt32(&s.runningTasks, 1)
	s.spawnQ.push(t)
	s.wakeOne()
	return handleAddr
}

// Task looks up a live task by id (e.g. for an external cancel-by-id
// operation); returns nil once the task has completed and been reaped.
func (s *Scheduler) Task(id int64) *Task {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	return s.tasks[id]
}

func (s *Scheduler) forget(id int64) {
	s.tasksMu.Lock()
	delete(s.tasks, id)
	s.tasksMu.Unlock()
}

// wrapFault builds a guest Error instance for a Go error that occurred
// outside normal dispatch (e.g. Reset failing on a malformed function),
// the same shape interp's own wrapGoError produces, so a task that never
// got to execute a single instruction still completes with a catchable-
// looking result rather than silently vanishing.
func (s *Scheduler) wrapFault(err error) value.Value {
	kindAddr, _ := s.Heap.Strings().Intern(s.Heap, "InternalError")
	msgAddr, _ := s.Heap.Strings().Intern(s.Heap, err.Error())
	addr := heap.NewErrorInstance(s.Heap, s.ClassIDs.Error, kindAddr, msgAddr)
	return value.FromPtr(addr)
}

// wakeOne/wakeAll notify parked workers that new work (or a state change
// worth rechecking) exists, per spec §4.4's "parks on a condition variable
// that any spawn, complete, or unpark signals." Both reduce to the same
// one-slot coalescing send; see the wake field's doc comment for why a
// single signal wakes at most one worker and why that is still sufficient.
func (s *Scheduler) wakeOne() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) wakeAll() { s.wakeOne() }

// Drained reports whether every spawned task has reached a terminal state.
func (s *Scheduler) Drained() bool {
	return atomic.LoadInt32(&s.runningTasks) == 0
}

// Wait blocks the calling goroutine (the host program's own, e.g.
// cmd/rayavm's main) until every task the scheduler knows about has
// terminated. Intended for the common "spawn root task, run scheduler
// until drained" embedding (spec's load→verify→spawn→run sequence).
func (s *Scheduler) Wait() {
	for !s.Drained() {
		select {
		case <-s.wake:
		case <-time.After(idlePollInterval):
		}
	}
}

// requeueBlocked moves a previously-Blocked task back onto the spawn queue
// once waitSet.recheck has determined its condition is satisfiable.
func (s *Scheduler) requeueBlocked(t *Task) {
	t.setState(StateRunnable)
	s.spawnQ.push(t)
	s.wakeOne()
}

// finishTask retires a terminated task: decrements the live count, forgets
// it, and wakes anyone parked on Wait or idle so they re-check Drained /
// look for newly-possible work.
func (s *Scheduler) finishTask(t *Task) {
	s.forget(t.ID)
	atomic.AddInt32(&s.runningTasks, -1)
	s.wakeAll()
}

// CancelTask sets id's cancellation flag (idempotent, spec §4.4) and, if
// the task is currently blocked, evicts it from its wait queue immediately
// so the Cancelled exception is delivered on the task's next quantum
// rather than waiting for its original wait condition to become true.
func (s *Scheduler) CancelTask(id int64) {
	t := s.Task(id)
	if t == nil {
		return
	}
	t.Cancel()
	if t.State() == StateBlocked {
		s.waits.unregister(t)
		s.requeueBlocked(t)
	}
}

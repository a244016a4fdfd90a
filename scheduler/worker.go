// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scheduler

import (
	"math/rand"
	"time"

	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

// idlePollInterval bounds how long a parked worker waits before
// re-checking for work on its own, self-healing the rare case where a
// single wake signal (see Scheduler.wake) was already claimed by a
// different worker than the one whose queue could actually make progress
// (e.g. a Sleep deadline elapsing while every worker is idle).
const idlePollInterval = 2 * time.Millisecond

// worker is one cooperative executor thread (spec §4.4): it prefers its
// own run-queue, falls back to draining the central spawn queue, then
// steals a contiguous half from a randomly chosen peer, and parks when
// all three come up empty. Grounded on the teacher's mining-pool loop
// (consensus/probeash/sealer.go's per-goroutine search loop) generalized
// from "search until one thread finds a nonce" to "run tasks until told
// to stop".
type worker struct {
	id    int
	sched *Scheduler
	queue *runQueue
}

func newWorker(id int, s *Scheduler) *worker {
	return &worker{id: id, sched: s, queue: newRunQueue()}
}

func (w *worker) loop() {
	for {
		select {
		case <-w.sched.stopCh:
			return
		default:
		}

		// Safepoint poll (spec §4.4): a stop-the-world pause (GC, snapshot,
		// JIT install) takes effect at the top of every loop iteration, the
		// same quantum-granularity approximation runQuantum's own comment
		// already makes explicit for back-edge polling. An idle or
		// between-quanta worker checks in with an empty RootSet; the
		// collector visits every live task directly via Scheduler.Tasks
		// rather than aggregating per-worker root publications, since a
		// task can be sitting in the spawn queue or a wait queue owned by
		// no particular worker when the pause lands.
		if w.sched.coord.Pending() {
			w.sched.coord.CheckIn(w.id, RootSet{})
			continue
		}

		if t := w.nextTask(); t != nil {
			w.runQuantum(t)
			continue
		}

		// Nothing in any queue right now; a blocked task's condition may
		// still have just become true (Sleep deadline, Mutex released by
		// a task that finished its quantum elsewhere) without anyone
		// having pushed fresh work, so give waitSet one more look before
		// actually parking.
		w.sched.waits.recheck()
		if t := w.nextTask(); t != nil {
			w.runQuantum(t)
			continue
		}

		w.park()
	}
}

// nextTask implements spec §4.4's queue-preference order: own queue,
// central spawn queue, then work-stealing.
func (w *worker) nextTask() *Task {
	if t, ok := w.queue.popBack(); ok {
		return t
	}
	if batch := w.sched.spawnQ.drainAll(); len(batch) > 0 {
		for _, t := range batch[1:] {
			w.queue.pushBack(t)
		}
		return batch[0]
	}
	return w.steal()
}

// steal picks a peer uniformly at random and takes a contiguous half of
// its run-queue (spec §4.4). Trying every peer once (rather than a single
// random pick) avoids a worker going idle just because its first guess
// happened to be another idle worker.
func (w *worker) steal() *Task {
	w.sched.workersMu.RLock()
	peers := w.sched.workers
	w.sched.workersMu.RUnlock()
	if len(peers) < 2 {
		return nil
	}
	start := rand.Intn(len(peers))
	for i := 0; i < len(peers); i++ {
		p := peers[(start+i)%len(peers)]
		if p == w {
			continue
		}
		stolen := p.queue.stealHalf()
		if len(stolen) == 0 {
			continue
		}
		for _, t := range stolen[1:] {
			w.queue.pushBack(t)
		}
		return stolen[0]
	}
	return nil
}

// park blocks this worker until woken by a spawn, a task completion, an
// explicit unpark, Stop, or its own idle-poll timeout (spec §4.4: "parks
// on a condition variable that any spawn, complete, or unpark signals").
func (w *worker) park() {
	select {
	case <-w.sched.stopCh:
	case <-w.sched.wake:
	case <-time.After(idlePollInterval):
	}
}

// quantum bounds how many bytecode instructions a task runs before
// yielding back to its worker, the interpreter-side half of the
// cooperative-preemption contract (spec §4.4 describes true back-edge
// polling; this engine's Step loop instead grants a bounded slice per
// turn, which is the coarser-grained but semantically equivalent
// approximation this generalization makes explicit in DESIGN.md).
const quantum = 512

// runQuantum advances t by up to one quantum of execution, handling
// cancellation delivery, suspension, and termination.
func (w *worker) runQuantum(t *Task) {
	t.setState(StateRunning)

	var status interp.StepStatus
	var result value.Value
	var err error

	switch {
	case t.shouldDeliverCancel():
		status, err = t.Machine.RaiseAsync(rerr.New(rerr.KindCancelled, "task cancelled"))
		result = value.Null
	case t.shouldDeliverOOM():
		status, err = t.Machine.RaiseAsync(rerr.New(rerr.KindOutOfMemory, "heap exceeded max_heap_bytes"))
		result = value.Null
	default:
		status, result, err = t.Machine.Run(quantum)
	}

	switch {
	case err != nil:
		w.sched.Log.Error("task aborted on an internal engine fault", "task", t.ID, "err", err)
		t.completeHandle(w.sched.Heap, value.Null, w.sched.wrapFault(err), t.Cancelled())
		w.sched.finishTask(t)

	case status == interp.StatusReturned:
		t.completeHandle(w.sched.Heap, result, value.Null, t.Cancelled())
		w.sched.finishTask(t)

	case status == interp.StatusThrown:
		t.completeHandle(w.sched.Heap, value.Null, t.Machine.PendingException(), t.Cancelled())
		w.sched.finishTask(t)

	case status == interp.StatusSuspended:
		t.Block = BlockReason{
			Kind:   fromInterp(t.Machine.BlockReason),
			Target: t.Machine.BlockTarget,
			N:      t.Machine.BlockN,
		}
		t.setState(StateBlocked)
		w.sched.waits.register(t)

	default: // StatusRunning: quantum exhausted, still runnable
		t.setState(StateRunnable)
		w.queue.pushBack(t)
	}

	// Any quantum may have released a Mutex/Semaphore or completed a task
	// another task is waiting on; a cheap rescan catches it without the
	// opcode that caused it having to know who is waiting.
	w.sched.waits.recheck()

	if w.sched.gc != nil {
		w.sched.gc.MaybeCollect(t)
	}
}

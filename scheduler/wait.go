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
	"time"

	"github.com/rizqme/raya/heap"
)

// waitSet holds the FIFO wait queues backing every suspension point in
// spec §4.4/§5. interp's opcode handlers peek-don't-pop the contended
// resource and suspend, leaving the retry to re-examine the identical
// operand once woken; correspondingly waitSet's job is purely to decide
// *when* a blocked task is worth retrying. The actual contended state
// (heap.Mutex.Owner, heap.Semaphore.Permits, heap.Channel's buffer, heap.
// TaskHandle's done flag) is the single source of truth for whether the
// wait is actually over, and each of those types guards its own mutation
// with its own internal lock since worker goroutines drive different
// tasks' Machines against the same heap concurrently; mu here only
// protects waitSet's own queue maps/slices, never the heap objects.
type waitSet struct {
	sched *Scheduler

	mu                 sync.Mutex
	mutexWaiters       map[uint64][]*Task // FIFO, keyed by Mutex heap addr (spec §5: "Mutex fairness is FIFO")
	semWaiters         map[uint64][]*Task // FIFO, keyed by Semaphore heap addr (spec §5: "Semaphore is FIFO over permit-request order")
	awaitWaiters       map[uint64][]*Task // keyed by TaskHandle heap addr; Await and WaitAll share this registration
	channelSendWaiters map[uint64][]*Task // FIFO, keyed by Channel heap addr (spec §5: "Channel is FIFO per direction")
	channelRecvWaiters map[uint64][]*Task
	sleepers           []*Task
}

func newWaitSet(s *Scheduler) *waitSet {
	return &waitSet{
		sched:              s,
		mutexWaiters:       make(map[uint64][]*Task),
		semWaiters:         make(map[uint64][]*Task),
		awaitWaiters:       make(map[uint64][]*Task),
		channelSendWaiters: make(map[uint64][]*Task),
		channelRecvWaiters: make(map[uint64][]*Task),
	}
}

// register files a just-suspended task into the wait queue its
// BlockReason names. Called immediately after a worker observes
// StatusSuspended.
func (ws *waitSet) register(t *Task) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	switch t.Block.Kind {
	case BlockAwaitingMutex:
		ws.mutexWaiters[t.Block.Target] = append(ws.mutexWaiters[t.Block.Target], t)
	case BlockAwaitingSemaphore:
		ws.semWaiters[t.Block.Target] = append(ws.semWaiters[t.Block.Target], t)
	case BlockAwaitingTask:
		ws.awaitWaiters[t.Block.Target] = append(ws.awaitWaiters[t.Block.Target], t)
	case BlockSleeping:
		if t.Block.N > 0 {
			t.Deadline = time.Now().Add(time.Duration(t.Block.N) * time.Millisecond).UnixNano()
		} else {
			t.Deadline = time.Now().UnixNano()
		}
		ws.sleepers = append(ws.sleepers, t)
	case BlockAwaitingChannelSend:
		ws.channelSendWaiters[t.Block.Target] = append(ws.channelSendWaiters[t.Block.Target], t)
	case BlockAwaitingChannelRecv:
		ws.channelRecvWaiters[t.Block.Target] = append(ws.channelRecvWaiters[t.Block.Target], t)
	}
}

// recheck scans every wait queue once, moving any task whose condition
// has become satisfiable back onto the spawn queue as Runnable. It is
// deliberately cheap to call liberally (after every quantum any task
// completes, since that quantum might have unlocked a Mutex, released
// Semaphore permits, or completed a TaskHandle) rather than requiring the
// opcode that changed the resource to explicitly signal a target address.
func (ws *waitSet) recheck() {
	h := ws.sched.Heap
	now := time.Now().UnixNano()

	ws.mu.Lock()
	var woken []*Task

	for addr, list := range ws.mutexWaiters {
		if len(list) == 0 {
			continue
		}
		mu, ok := mutexAt(h, addr)
		if !ok || mu.OwnerID() != -1 {
			continue
		}
		woken = append(woken, list[0])
		ws.mutexWaiters[addr] = list[1:]
	}

	for addr, list := range ws.semWaiters {
		sem, ok := semaphoreAt(h, addr)
		if !ok {
			continue
		}
		// remaining tentatively tracks permits already promised to earlier
		// FIFO waiters in this same pass: sem.Permits itself is only
		// decremented once a woken task actually re-executes SemAcquire, so
		// without this running count two waiters could both read the same
		// un-decremented Permits and both be woken for a single permit.
		remaining := sem.PermitCount()
		for len(list) > 0 && remaining >= list[0].Block.N {
			remaining -= list[0].Block.N
			woken = append(woken, list[0])
			list = list[1:]
		}
		ws.semWaiters[addr] = list
	}

	for addr, list := range ws.channelSendWaiters {
		if len(list) == 0 {
			continue
		}
		ch, ok := channelAt(h, addr)
		if !ok || ch.Full() {
			continue
		}
		woken = append(woken, list[0])
		ws.channelSendWaiters[addr] = list[1:]
	}

	for addr, list := range ws.channelRecvWaiters {
		if len(list) == 0 {
			continue
		}
		ch, ok := channelAt(h, addr)
		if !ok || ch.Empty() {
			continue
		}
		woken = append(woken, list[0])
		ws.channelRecvWaiters[addr] = list[1:]
	}

	for addr, list := range ws.awaitWaiters {
		var remaining []*Task
		for _, t := range list {
			if handleDone(h, addr) {
				woken = append(woken, t)
			} else {
				remaining = append(remaining, t)
			}
		}
		ws.awaitWaiters[addr] = remaining
	}

	var remainingSleepers []*Task
	for _, t := range ws.sleepers {
		if t.Deadline <= now {
			woken = append(woken, t)
		} else {
			remainingSleepers = append(remainingSleepers, t)
		}
	}
	ws.sleepers = remainingSleepers
	ws.mu.Unlock()

	for _, t := range woken {
		ws.sched.requeueBlocked(t)
	}
}

// unregister removes t from whatever wait queue it is parked in, used when
// Cancel forces an immediate re-examination instead of waiting for the
// next recheck tick.
func (ws *waitSet) unregister(t *Task) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	switch t.Block.Kind {
	case BlockAwaitingMutex:
		removeTask(ws.mutexWaiters, t.Block.Target, t)
	case BlockAwaitingSemaphore:
		removeTask(ws.semWaiters, t.Block.Target, t)
	case BlockAwaitingChannelSend:
		removeTask(ws.channelSendWaiters, t.Block.Target, t)
	case BlockAwaitingChannelRecv:
		removeTask(ws.channelRecvWaiters, t.Block.Target, t)
	case BlockAwaitingTask:
		removeTask(ws.awaitWaiters, t.Block.Target, t)
	case BlockSleeping:
		for i, s := range ws.sleepers {
			if s == t {
				ws.sleepers = append(ws.sleepers[:i], ws.sleepers[i+1:]...)
				break
			}
		}
	}
}

// queuePosition returns t's zero-based index within the wait queue its
// BlockReason names, or -1 if it isn't currently registered in one. The
// snapshot writer uses this to record each blocked task's true FIFO
// position, since Scheduler.Tasks() orders tasks by ID (spawn order), not
// by wait-queue position.
func (ws *waitSet) queuePosition(t *Task) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var list []*Task
	switch t.Block.Kind {
	case BlockAwaitingMutex:
		list = ws.mutexWaiters[t.Block.Target]
	case BlockAwaitingSemaphore:
		list = ws.semWaiters[t.Block.Target]
	case BlockAwaitingChannelSend:
		list = ws.channelSendWaiters[t.Block.Target]
	case BlockAwaitingChannelRecv:
		list = ws.channelRecvWaiters[t.Block.Target]
	case BlockAwaitingTask:
		list = ws.awaitWaiters[t.Block.Target]
	case BlockSleeping:
		list = ws.sleepers
	default:
		return -1
	}
	for i, v := range list {
		if v == t {
			return i
		}
	}
	return -1
}

func removeTask(m map[uint64][]*Task, addr uint64, t *Task) {
	list := m[addr]
	for i, v := range list {
		if v == t {
			m[addr] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func mutexAt(h *heap.Heap, addr uint64) (*heap.Mutex, bool) {
	obj, ok := h.Get(addr)
	if !ok {
		return nil, false
	}
	mu, ok := obj.(*heap.Mutex)
	return mu, ok
}

func semaphoreAt(h *heap.Heap, addr uint64) (*heap.Semaphore, bool) {
	obj, ok := h.Get(addr)
	if !ok {
		return nil, false
	}
	sem, ok := obj.(*heap.Semaphore)
	return sem, ok
}

func channelAt(h *heap.Heap, addr uint64) (*heap.Channel, bool) {
	obj, ok := h.Get(addr)
	if !ok {
		return nil, false
	}
	ch, ok := obj.(*heap.Channel)
	return ch, ok
}

func handleDone(h *heap.Heap, addr uint64) bool {
	obj, ok := h.Get(addr)
	if !ok {
		return true // a freed handle can no longer be waited on meaningfully
	}
	handle, ok := obj.(*heap.TaskHandle)
	if !ok {
		return true
	}
	return handle.Done()
}

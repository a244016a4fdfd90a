// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scheduler

import "sync"

// spawnQueue is the central multi-producer queue newly-spawned tasks land
// on (spec §4.4). Workers and the Spawn opcode's Host.SpawnTask both push
// to it without coordinating with one another; a single mutex serializes
// access, the same trade a real lock-free MPMC ring makes only to shave
// contention under much higher core counts than this engine targets.
type spawnQueue struct {
	mu    sync.Mutex
	tasks []*Task
}

func newSpawnQueue() *spawnQueue {
	return &spawnQueue{}
}

func (q *spawnQueue) push(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// drainAll removes and returns every task currently queued, handing a
// worker a whole batch in one lock acquisition instead of popping one at a
// time.
func (q *spawnQueue) drainAll() []*Task {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	out := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	return out
}

// runQueue is a worker's own run-queue (spec §4.4), with no capacity limit: the
// worker pushes/pops from the back (LIFO for its own continuations, which
// keeps cache-hot work local) and a thief steals a contiguous half from
// the front, so the stolen tasks are the ones the owner touched least
// recently.
type runQueue struct {
	mu    sync.Mutex
	tasks []*Task
}

func newRunQueue() *runQueue {
	return &runQueue{}
}

func (q *runQueue) pushBack(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// popBack is the owner's own dequeue operation.
func (q *runQueue) popBack() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	if n == 0 {
		return nil, false
	}
	t := q.tasks[n-1]
	q.tasks = q.tasks[:n-1]
	return t, true
}

func (q *runQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// stealHalf removes and returns a contiguous half of the queue's contents
// from the front (spec §4.4: "steal a contiguous half from a randomly
// chosen peer"), leaving the owner's most recent work in place.
func (q *runQueue) stealHalf() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	if n < 2 {
		return nil
	}
	half := n / 2
	stolen := make([]*Task, half)
	copy(stolen, q.tasks[:half])
	remaining := make([]*Task, n-half)
	copy(remaining, q.tasks[half:])
	q.tasks = remaining
	return stolen
}

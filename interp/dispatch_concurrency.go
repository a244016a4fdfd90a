// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

// execNativeCall implements NativeCall/ModuleNativeCall: u16 id, u8 argc.
func (m *Machine) execNativeCall(operand []byte) (StepStatus, value.Value, bool, error) {
	id := le16(operand[:2])
	argc := int(operand[2])
	args, err := m.popArgs(argc)
	if err != nil {
		return 0, value.Null, false, err
	}
	v, err := m.Natives.Call(id, m, args)
	if err != nil {
		return 0, value.Null, false, err
	}
	m.push(v)
	return StatusRunning, value.Null, true, nil
}

// execSpawn implements Spawn (funcID u32, argCount u16) and SpawnClosure
// (argCount u16 only, the function id instead coming from a closure
// receiver popped below the args, the same placement CallMethod uses).
// Spawning itself is delegated to Host, since task lifetime is the
// scheduler's authority, not the interpreter's (spec §3.6).
func (m *Machine) execSpawn(op bytecode.Op, operand []byte) (StepStatus, value.Value, bool, error) {
	var funcID uint32
	var args []value.Value
	var err error

	if op == bytecode.SpawnClosure {
		count := le16(operand[:2])
		args, err = m.popArgs(int(count))
		if err != nil {
			return 0, value.Null, false, err
		}
		cloVal, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		obj, ok := m.objectOf(cloVal)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindTypeError, "SPAWN_CLOSURE on a non-closure value")
		}
		clo, ok := obj.(*heap.Closure)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindTypeError, "SPAWN_CLOSURE on a non-closure value")
		}
		funcID = clo.FuncID
	} else {
		funcID, _ = decodeCallOperand(operand)
		count := le16(operand[4:6])
		args, err = m.popArgs(int(count))
		if err != nil {
			return 0, value.Null, false, err
		}
	}

	handleAddr := m.Host.SpawnTask(funcID, args)
	m.push(value.FromPtr(handleAddr))
	return StatusRunning, value.Null, true, nil
}

// execAwait implements Await: the TaskHandle is peeked, not popped, so a
// suspended retry re-checks the identical handle once the scheduler wakes
// this task. Once the task has completed, the handle is popped and its
// result (or a raised exception, for an uncaught throw) replaces it.
func (m *Machine) execAwait() (StepStatus, value.Value, bool, error) {
	handleVal, err := m.peek()
	if err != nil {
		return 0, value.Null, false, err
	}
	obj, ok := m.objectOf(handleVal)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "AWAIT on a non-TaskHandle value")
	}
	handle, ok := obj.(*heap.TaskHandle)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "AWAIT on a non-TaskHandle value")
	}
	if !handle.Done() {
		m.BlockReason = BlockAwaitingTask
		m.BlockTarget = value.Ptr(handleVal)
		return StatusSuspended, value.Null, false, nil
	}
	m.pop()
	result, errVal := handle.Result()
	if !errVal.IsNull() {
		st, rerr2 := m.raise(errVal)
		return st, value.Null, false, rerr2
	}
	m.push(result)
	return StatusRunning, value.Null, true, nil
}

// execTaskCancel implements TaskCancel: pop a TaskHandle and forward its
// task id to the Host. The handle's own task learns about the cancellation
// the next time it reaches a suspension point (spec §4.4); this opcode
// itself never blocks.
func (m *Machine) execTaskCancel() (StepStatus, value.Value, bool, error) {
	handleVal, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	obj, ok := m.objectOf(handleVal)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "TASK_CANCEL on a non-TaskHandle value")
	}
	handle, ok := obj.(*heap.TaskHandle)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "TASK_CANCEL on a non-TaskHandle value")
	}
	m.Host.CancelTask(handle.TaskID)
	return StatusRunning, value.Null, true, nil
}

// execSleep implements Sleep: pop a millisecond duration and suspend. The
// scheduler is responsible for waking the task once that much wall time has
// elapsed; BlockN carries the duration since the deadline itself is a
// scheduler-clock concept the interpreter has no access to.
func (m *Machine) execSleep() (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	m.BlockReason = BlockSleeping
	m.BlockN = int(valueAsFloat(v))
	return StatusSuspended, value.Null, false, nil
}

func (m *Machine) mutexOf(v value.Value) (*heap.Mutex, error) {
	obj, ok := m.objectOf(v)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-Mutex value")
	}
	mu, ok := obj.(*heap.Mutex)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-Mutex value")
	}
	return mu, nil
}

// execMutexLock implements MutexLock: uncontended locks succeed inline;
// a held mutex suspends the task, leaving the handle on the stack for the
// retry (spec §3.6's FIFO fairness is the scheduler's wait-queue, not
// interp's, to implement).
func (m *Machine) execMutexLock() (StepStatus, value.Value, bool, error) {
	muVal, err := m.peek()
	if err != nil {
		return 0, value.Null, false, err
	}
	mu, err := m.mutexOf(muVal)
	if err != nil {
		return 0, value.Null, false, err
	}
	ok, alreadyOwner := mu.TryAcquire(m.Host.TaskID())
	if alreadyOwner {
		return 0, value.Null, false, rerr.New(rerr.KindInternal, "mutex is not reentrant")
	}
	if ok {
		m.pop()
		return StatusRunning, value.Null, true, nil
	}
	m.BlockReason = BlockAwaitingMutex
	m.BlockTarget = value.Ptr(muVal)
	return StatusSuspended, value.Null, false, nil
}

func (m *Machine) execMutexUnlock() (StepStatus, value.Value, bool, error) {
	muVal, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	mu, err := m.mutexOf(muVal)
	if err != nil {
		return 0, value.Null, false, err
	}
	if !mu.Release(m.Host.TaskID()) {
		return 0, value.Null, false, rerr.New(rerr.KindInternal, "unlock of a mutex this task does not own")
	}
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) semOf(v value.Value) (*heap.Semaphore, error) {
	obj, ok := m.objectOf(v)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-Semaphore value")
	}
	sem, ok := obj.(*heap.Semaphore)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-Semaphore value")
	}
	return sem, nil
}

// execSemAcquire implements SemAcquire: stack order is [semaphore, count]
// (count pushed last), matching verify.go's declared (2, 0) effect — both
// are only peeked until enough permits are available, so a suspended retry
// re-reads the same operands rather than needing them re-pushed.
func (m *Machine) execSemAcquire() (StepStatus, value.Value, bool, error) {
	countV, err := m.peek()
	if err != nil {
		return 0, value.Null, false, err
	}
	semVal, err := m.peekAt(1)
	if err != nil {
		return 0, value.Null, false, err
	}
	sem, err := m.semOf(semVal)
	if err != nil {
		return 0, value.Null, false, err
	}
	n := int(valueAsFloat(countV))
	if sem.TryAcquire(n) {
		m.pop()
		m.pop()
		return StatusRunning, value.Null, true, nil
	}
	m.BlockReason = BlockAwaitingSemaphore
	m.BlockTarget = value.Ptr(semVal)
	m.BlockN = n
	return StatusSuspended, value.Null, false, nil
}

// execSemRelease implements SemRelease: stack order is [semaphore, count],
// matching verify.go's declared (2, 0) effect.
func (m *Machine) execSemRelease() (StepStatus, value.Value, bool, error) {
	countV, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	semVal, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	sem, err := m.semOf(semVal)
	if err != nil {
		return 0, value.Null, false, err
	}
	sem.Release(int(valueAsFloat(countV)))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) channelOf(v value.Value) (*heap.Channel, error) {
	obj, ok := m.objectOf(v)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-Channel value")
	}
	ch, ok := obj.(*heap.Channel)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-Channel value")
	}
	return ch, nil
}

// execChannelSend implements ChannelSend: stack order is [channel, value]
// (value pushed last), matching verify.go's declared (2, 0) effect. Both
// operands are only peeked until the buffer has room, so a suspended retry
// re-reads the same operands once the scheduler wakes this task after a
// recv frees a slot.
func (m *Machine) execChannelSend() (StepStatus, value.Value, bool, error) {
	v, err := m.peek()
	if err != nil {
		return 0, value.Null, false, err
	}
	chVal, err := m.peekAt(1)
	if err != nil {
		return 0, value.Null, false, err
	}
	ch, err := m.channelOf(chVal)
	if err != nil {
		return 0, value.Null, false, err
	}
	if ch.Closed {
		return 0, value.Null, false, rerr.New(rerr.KindInternal, "send on a closed channel")
	}
	if ch.TrySend(v) {
		m.pop()
		m.pop()
		return StatusRunning, value.Null, true, nil
	}
	m.BlockReason = BlockAwaitingChannelSend
	m.BlockTarget = value.Ptr(chVal)
	return StatusSuspended, value.Null, false, nil
}

// execChannelRecv implements ChannelRecv: the channel is peeked, not
// popped, so a suspended retry re-checks the identical channel once woken
// by a matching send. A closed, drained channel yields Null immediately
// rather than suspending forever.
func (m *Machine) execChannelRecv() (StepStatus, value.Value, bool, error) {
	chVal, err := m.peek()
	if err != nil {
		return 0, value.Null, false, err
	}
	ch, err := m.channelOf(chVal)
	if err != nil {
		return 0, value.Null, false, err
	}
	if v, ok := ch.TryRecv(); ok {
		m.pop()
		m.push(v)
		return StatusRunning, value.Null, true, nil
	}
	if ch.Closed {
		m.pop()
		m.push(value.Null)
		return StatusRunning, value.Null, true, nil
	}
	m.BlockReason = BlockAwaitingChannelRecv
	m.BlockTarget = value.Ptr(chVal)
	return StatusSuspended, value.Null, false, nil
}

// execWaitAll implements WaitAll: read (without popping) an array of
// TaskHandles and suspend until every one reports Done. Re-entry re-scans from scratch, which is
// cheap relative to the blocking cost it is guarding.
func (m *Machine) execWaitAll() (StepStatus, value.Value, bool, error) {
	arrVal, err := m.peek()
	if err != nil {
		return 0, value.Null, false, err
	}
	arr, err := m.arrayOf(arrVal)
	if err != nil {
		return 0, value.Null, false, err
	}
	for i := 0; i < arr.Len(); i++ {
		hv, _ := arr.Get(i)
		obj, ok := m.objectOf(hv)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindTypeError, "WAIT_ALL element is not a TaskHandle")
		}
		handle, ok := obj.(*heap.TaskHandle)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindTypeError, "WAIT_ALL element is not a TaskHandle")
		}
		if !handle.Done() {
			m.BlockReason = BlockAwaitingTask
			m.BlockTarget = value.Ptr(hv)
			return StatusSuspended, value.Null, false, nil
		}
	}
	// All handles are done; arrVal (peeked, not popped) remains the
	// expression's result value.
	return StatusRunning, value.Null, true, nil
}

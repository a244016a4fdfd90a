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

// wrapGoError converts a Go error surfaced by an opcode handler or native
// into the Value that becomes the pending exception. A *rerr.Error of a
// catchable Kind becomes an Error instance (spec §7); anything else
// (including a non-catchable *rerr.Error) is returned unchanged so the
// caller aborts instead of raising a guest-visible exception.
func (m *Machine) wrapGoError(err error) (value.Value, bool) {
	re, ok := err.(*rerr.Error)
	if !ok || !re.Kind.Catchable() {
		return value.Null, false
	}
	kindAddr, _ := m.Heap.Strings().Intern(m.Heap, re.Kind.String())
	msgAddr, _ := m.Heap.Strings().Intern(m.Heap, re.Message)
	addr := heap.NewErrorInstance(m.Heap, m.builtinClassIDs.Error, kindAddr, msgAddr)
	return value.FromPtr(addr), true
}

// raiseError is the entry point opcode handlers use to turn a Go error into
// control flow: catchable errors become a guest exception via raise();
// anything else is returned as-is so Step aborts the Machine.
func (m *Machine) raiseError(err error) (StepStatus, error) {
	if v, ok := m.wrapGoError(err); ok {
		return m.raise(v)
	}
	return StatusRunning, err
}

// RaiseAsync delivers a Go error from outside the dispatch loop as a guest
// exception in the task the Machine is currently running. The scheduler
// uses this at a safepoint to complete a Cancelled task (spec §4.4: "if the
// task is runnable the VM raises a Cancelled exception in its context") and
// to complete a deadline-expired blocking primitive with a Timeout
// exception (spec §5). err must be a catchable *rerr.Error; a non-catchable
// one is returned unchanged for the caller to treat as an abort, the same
// contract raiseError gives opcode handlers.
func (m *Machine) RaiseAsync(err error) (StepStatus, error) {
	return m.raiseError(err)
}

// execTry implements Try: catchOffset/finallyOffset are i32s relative to
// the byte immediately following the 8-byte operand (EmitTry's documented
// encoding), with -1 meaning "absent". Pushes a handlerEntry recording the
// owning frame, resolved absolute PCs, and the operand-stack depth to
// restore before transferring control.
func (m *Machine) execTry(f *Frame, operand []byte) {
	catchOff := int32(le32(operand[:4]))
	finallyOff := int32(le32(operand[4:8]))
	base := f.PC + 1 + len(operand)

	catchPC, finallyPC := -1, -1
	if catchOff >= 0 {
		catchPC = base + int(catchOff)
	}
	if finallyOff >= 0 {
		finallyPC = base + int(finallyOff)
	}

	m.handlers = append(m.handlers, handlerEntry{
		frameIndex: len(m.frames) - 1,
		catchPC:    catchPC,
		finallyPC:  finallyPC,
		stackDepth: m.sp,
	})
}

// raise implements exception propagation (spec §4.2): walk the handler
// stack from the top, unwinding frames down to the handler's owning frame,
// and transfer control to its catch or finally bytecode. If no handler
// remains, every frame is discarded and StatusThrown is reported with the
// exception left in m.pendingException.
func (m *Machine) raise(exc value.Value) (StepStatus, error) {
	m.pendingException = exc
	m.hasException = true

	for len(m.handlers) > 0 {
		h := m.handlers[len(m.handlers)-1]
		m.handlers = m.handlers[:len(m.handlers)-1]

		// Unwind frames above (and including, if the handler's own frame
		// is about to be replaced) the handler's owning frame.
		for len(m.frames)-1 > h.frameIndex {
			m.frames = m.frames[:len(m.frames)-1]
		}
		if len(m.frames) == 0 {
			break
		}
		f := &m.frames[len(m.frames)-1]
		m.sp = h.stackDepth

		if h.catchPC >= 0 {
			m.hasException = false
			m.push(exc)
			f.PC = h.catchPC
			return StatusRunning, nil
		}
		if h.finallyPC >= 0 {
			// hasException stays true: Rethrow (emitted at the end of the
			// compiled finally block) re-raises it once the finally body
			// completes, continuing the search from here.
			f.PC = h.finallyPC
			return StatusRunning, nil
		}
	}

	m.frames = m.frames[:0]
	return StatusThrown, nil
}

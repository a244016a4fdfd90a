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
	"fmt"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/value"
)

// encodeMachine serializes m's operand stack, frame stack, exception
// handler stack, pending exception, and global table (spec §6.2's per-task
// "pending-exception, result, frame stack, operand stack, exception-
// handler stack" fields; globals are per-context, captured once per
// Machine even though every task in one context shares the same slice
// contents at the moment of a pause).
func encodeMachine(buf *bytes.Buffer, m *interp.Machine, funcs *heap.FunctionTable) error {
	stack := m.StackSlots()
	writeU32(buf, uint32(len(stack)))
	for _, v := range stack {
		writeU64(buf, uint64(v))
	}

	frames := m.Frames()
	writeU32(buf, uint32(len(frames)))
	for _, f := range frames {
		idx, ok := funcs.IndexOf(f.Func)
		if !ok {
			return fmt.Errorf("snapshot: frame references a function not in the function table")
		}
		writeU32(buf, idx)
		writeU32(buf, uint32(f.PC))
		writeU32(buf, uint32(f.LocalsBase))
		writeU32(buf, uint32(f.StackBase))
		writeU32(buf, uint32(f.HandlerBase))
		writeU64(buf, f.ClosureAddr)
	}

	handlers := m.Handlers()
	writeU32(buf, uint32(len(handlers)))
	for _, h := range handlers {
		writeU32(buf, uint32(h.FrameIndex))
		writeU32(buf, uint32(h.CatchPC))
		writeU32(buf, uint32(h.FinallyPC))
		writeU32(buf, uint32(h.StackDepth))
	}

	writeU64(buf, uint64(m.PendingException()))

	globals := m.Globals()
	writeU32(buf, uint32(len(globals)))
	for _, v := range globals {
		writeU64(buf, uint64(v))
	}
	return nil
}

// decodeMachine reads back what encodeMachine wrote and installs it onto m
// via RestoreState. funcs/h resolve the function-table index and closure
// address every frame carries back to live objects; both must belong to
// the already-loaded module the snapshot was captured against.
func decodeMachine(r *byteReader, m *interp.Machine, funcs *heap.FunctionTable, h *heap.Heap) error {
	nStack, err := r.u32()
	if err != nil {
		return err
	}
	stack := make([]value.Value, nStack)
	for i := uint32(0); i < nStack; i++ {
		v, err := r.u64()
		if err != nil {
			return err
		}
		stack[i] = value.Value(v)
	}

	nFrames, err := r.u32()
	if err != nil {
		return err
	}
	frames := make([]interp.Frame, nFrames)
	for i := uint32(0); i < nFrames; i++ {
		funcIdx, err := r.u32()
		if err != nil {
			return err
		}
		pc, err := r.u32()
		if err != nil {
			return err
		}
		localsBase, err := r.u32()
		if err != nil {
			return err
		}
		stackBase, err := r.u32()
		if err != nil {
			return err
		}
		handlerBase, err := r.u32()
		if err != nil {
			return err
		}
		closureAddr, err := r.u64()
		if err != nil {
			return err
		}
		fn, ok := funcs.Get(funcIdx)
		if !ok {
			return fmt.Errorf("snapshot: frame function index %d out of range", funcIdx)
		}
		var closure *heap.Closure
		if closureAddr != 0 {
			obj, ok := h.Get(closureAddr)
			if !ok {
				return fmt.Errorf("snapshot: frame closure address 0x%x not in heap object table", closureAddr)
			}
			closure, ok = obj.(*heap.Closure)
			if !ok {
				return fmt.Errorf("snapshot: frame closure address 0x%x is not a closure", closureAddr)
			}
		}
		frames[i] = interp.Frame{
			Func:        fn,
			PC:          int(pc),
			LocalsBase:  int(localsBase),
			StackBase:   int(stackBase),
			HandlerBase: int(handlerBase),
			Closure:     closure,
			ClosureAddr: closureAddr,
		}
	}

	nHandlers, err := r.u32()
	if err != nil {
		return err
	}
	handlers := make([]interp.HandlerRecord, nHandlers)
	for i := uint32(0); i < nHandlers; i++ {
		frameIndex, err := r.u32()
		if err != nil {
			return err
		}
		catchPC, err := r.u32()
		if err != nil {
			return err
		}
		finallyPC, err := r.u32()
		if err != nil {
			return err
		}
		stackDepth, err := r.u32()
		if err != nil {
			return err
		}
		handlers[i] = interp.HandlerRecord{
			FrameIndex: int(frameIndex),
			CatchPC:    int(catchPC),
			FinallyPC:  int(finallyPC),
			StackDepth: int(stackDepth),
		}
	}

	pending, err := r.u64()
	if err != nil {
		return err
	}

	nGlobals, err := r.u32()
	if err != nil {
		return err
	}
	globals := make([]value.Value, nGlobals)
	for i := uint32(0); i < nGlobals; i++ {
		v, err := r.u64()
		if err != nil {
			return err
		}
		globals[i] = value.Value(v)
	}

	m.RestoreState(stack, frames, handlers, value.Value(pending), globals)
	return nil
}

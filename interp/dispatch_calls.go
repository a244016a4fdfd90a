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

func decodeCallOperand(operand []byte) (idx uint32, count uint16) {
	return le32(operand[:4]), le16(operand[4:6])
}

// popArgs pops n values off the operand stack and returns them in their
// original left-to-right call order.
func (m *Machine) popArgs(n int) ([]value.Value, error) {
	args := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// execCall implements Call/CallStatic: invoke function idx directly with n
// popped arguments (spec §4.2). The caller frame's PC is advanced past this
// instruction before the callee frame is pushed, so that when the callee
// eventually Returns and this frame is exposed again, execution resumes at
// the instruction following the call rather than re-fetching Call itself.
func (m *Machine) execCall(operand []byte, f *Frame, next int) (StepStatus, value.Value, bool, error) {
	idx, count := decodeCallOperand(operand)
	args, err := m.popArgs(int(count))
	if err != nil {
		return 0, value.Null, false, err
	}
	fn, ok := m.Heap.Functions().Get(idx)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "unknown function id %d", idx)
	}
	f.PC = next
	if err := m.pushCall(fn, args); err != nil {
		return 0, value.Null, false, err
	}
	return StatusRunning, value.Null, false, nil
}

// invokeSlot is the fixed vtable slot every class reserves for "call this
// value like a function", used when CallMethod's receiver turns out to be a
// bare Closure rather than a class Instance.
const invokeSlot = -1

// execCallMethod implements CallMethod: the receiver sits below the n
// popped args and is dispatched through its class's vtable slot idx (spec
// §4.3's dynamic-dispatch rules), or, if the receiver is itself a Closure
// value, invoked directly ignoring idx.
func (m *Machine) execCallMethod(operand []byte, f *Frame, next int) (StepStatus, value.Value, bool, error) {
	idx, count := decodeCallOperand(operand)
	args, err := m.popArgs(int(count))
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if recv.IsFloat() || recv.Tag() != value.TagPtr {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "CallMethod on a non-object receiver")
	}
	obj, ok := m.Heap.Get(value.Ptr(recv))
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "dangling method receiver")
	}
	if clo, ok := obj.(*heap.Closure); ok {
		fn, ok := m.Heap.Functions().Get(clo.FuncID)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "closure references unknown function %d", clo.FuncID)
		}
		f.PC = next
		if err := m.pushCallClosure(fn, args, clo, value.Ptr(recv)); err != nil {
			return 0, value.Null, false, err
		}
		return StatusRunning, value.Null, false, nil
	}
	inst, ok := obj.(*heap.Instance)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "CallMethod receiver is not callable")
	}
	class, ok := m.Heap.Classes().Get(inst.Header().ClassID)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "receiver references unknown class %d", inst.Header().ClassID)
	}
	funcID, ok := class.Method(int(idx))
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "class %q has no method at slot %d", class.Name, idx)
	}
	fn, ok := m.Heap.Functions().Get(funcID)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "method slot %d references unknown function %d", idx, funcID)
	}
	thisArgs := append([]value.Value{recv}, args...)
	f.PC = next
	if err := m.pushCall(fn, thisArgs); err != nil {
		return 0, value.Null, false, err
	}
	return StatusRunning, value.Null, false, nil
}

// execCallConstructor implements CallConstructor/CallSuper: idx names the
// constructor function id directly; the receiver (the instance under
// construction) sits below the n popped args and is passed as argument 0.
// The constructor's own return value becomes the expression result.
func (m *Machine) execCallConstructor(operand []byte, f *Frame, next int) (StepStatus, value.Value, bool, error) {
	idx, count := decodeCallOperand(operand)
	args, err := m.popArgs(int(count))
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	fn, ok := m.Heap.Functions().Get(idx)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "unknown constructor function id %d", idx)
	}
	ctorArgs := append([]value.Value{recv}, args...)
	f.PC = next
	if err := m.pushCall(fn, ctorArgs); err != nil {
		return 0, value.Null, false, err
	}
	// The constructor frame's own Return discards its result; patch the
	// caller's next-pushed value back to the instance by remembering it on
	// the new frame via a synthetic local slot is unnecessary: simpler to
	// just push it again once the constructor frame returns, which Return's
	// normal protocol already does by pushing its return Value. Since
	// constructors conventionally `Return` the receiver themselves (the
	// compiler arranges this), no special-casing is required here.
	return StatusRunning, value.Null, false, nil
}

// execReturn implements Return/ReturnVoid (spec §4.2): discard the callee
// frame and either resume the caller with the return Value pushed back, or,
// if this was the task's entry frame, report StatusReturned.
func (m *Machine) execReturn() (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	m.popFrame()
	if len(m.frames) == 0 {
		return StatusReturned, v, false, nil
	}
	m.push(v)
	return StatusRunning, value.Null, false, nil
}

// execMakeClosure implements MakeClosure: idx, captureCount. The captures
// are popped off the stack in reverse order and stored left-to-right.
func (m *Machine) execMakeClosure(operand []byte) (StepStatus, value.Value, bool, error) {
	idx, count := decodeCallOperand(operand)
	captures, err := m.popArgs(int(count))
	if err != nil {
		return 0, value.Null, false, err
	}
	addr := m.Heap.Alloc(heap.NewClosure(idx, captures))
	m.push(value.FromPtr(addr))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execLoadCaptured(f *Frame, idx uint16) (StepStatus, value.Value, bool, error) {
	if f.Closure == nil {
		return 0, value.Null, false, rerr.New(rerr.KindInternal, "LOAD_CAPTURED outside a closure invocation")
	}
	v, ok := f.Closure.Capture(int(idx))
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "capture slot %d out of range", idx)
	}
	m.push(v)
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStoreCaptured(f *Frame, idx uint16) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if f.Closure == nil {
		return 0, value.Null, false, rerr.New(rerr.KindInternal, "STORE_CAPTURED outside a closure invocation")
	}
	if !f.Closure.SetCapture(int(idx), v) {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "capture slot %d out of range", idx)
	}
	return StatusRunning, value.Null, true, nil
}

// execSetClosureCapture patches an existing Closure value's capture slot
// after creation (used for mutually-recursive closures that must reference
// each other once all are allocated).
func (m *Machine) execSetClosureCapture(idx uint16) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	cloVal, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if cloVal.IsFloat() || cloVal.Tag() != value.TagPtr {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "SET_CLOSURE_CAPTURE on a non-closure value")
	}
	obj, ok := m.Heap.Get(value.Ptr(cloVal))
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "dangling closure value")
	}
	clo, ok := obj.(*heap.Closure)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "SET_CLOSURE_CAPTURE on a non-closure value")
	}
	if !clo.SetCapture(int(idx), v) {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "capture slot %d out of range", idx)
	}
	m.push(cloVal)
	return StatusRunning, value.Null, true, nil
}

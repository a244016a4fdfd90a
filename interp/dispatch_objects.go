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

func (m *Machine) objectOf(v value.Value) (heap.Object, bool) {
	if v.IsFloat() || v.Tag() != value.TagPtr {
		return nil, false
	}
	return m.Heap.Get(value.Ptr(v))
}

// execLoadField implements LoadField/LoadFieldFast/OptionalField: pop the
// receiver, read field idx. OptionalField pushes null instead of raising
// when the receiver itself is null (spec §4.3's `?.` short-circuit).
func (m *Machine) execLoadField(idx uint16, optional bool) (StepStatus, value.Value, bool, error) {
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if optional && recv.IsNull() {
		m.push(value.Null)
		return StatusRunning, value.Null, true, nil
	}
	obj, ok := m.objectOf(recv)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "field access on a non-object value")
	}
	inst, ok := obj.(*heap.Instance)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "field access on a non-instance object")
	}
	v, ok := inst.Field(int(idx))
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "field slot %d out of range", idx)
	}
	m.push(v)
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStoreField(idx uint16) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	obj, ok := m.objectOf(recv)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "field assignment on a non-object value")
	}
	inst, ok := obj.(*heap.Instance)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "field assignment on a non-instance object")
	}
	if !inst.SetField(int(idx), v) {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "field slot %d out of range", idx)
	}
	return StatusRunning, value.Null, true, nil
}

// execObjectLiteral implements ObjectLiteral: classID, fieldCount. The
// fieldCount values are popped in reverse order and written to fields
// 0..fieldCount-1 of a freshly allocated Instance.
func (m *Machine) execObjectLiteral(operand []byte) (StepStatus, value.Value, bool, error) {
	classID, count := decodeCallOperand(operand)
	fields, err := m.popArgs(int(count))
	if err != nil {
		return 0, value.Null, false, err
	}
	class, ok := m.Heap.Classes().Get(classID)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "unknown class id %d", classID)
	}
	inst := heap.NewInstance(classID, class.FieldCount)
	for i, v := range fields {
		inst.SetField(i, v)
	}
	addr := m.Heap.Alloc(inst)
	m.push(value.FromPtr(addr))
	return StatusRunning, value.Null, true, nil
}

// execInitFields implements InitObject: a zero-stack-effect marker the
// compiler emits once a sequence of discrete StoreField instructions has
// finished populating a freshly constructed instance. n is documentary
// (the field count that was just initialized) and carries no runtime
// stack traffic of its own.
func (m *Machine) execInitFields(n uint16) (StepStatus, value.Value, bool, error) {
	_ = n
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) ownerClass(f *Frame) (*heap.Class, error) {
	if f.Func.OwnerClassID == nil {
		return nil, rerr.New(rerr.KindInternal, "static access outside a method body")
	}
	class, ok := m.Heap.Classes().Get(*f.Func.OwnerClassID)
	if !ok {
		return nil, rerr.New(rerr.KindReferenceError, "method's owning class %d no longer registered", *f.Func.OwnerClassID)
	}
	return class, nil
}

func (m *Machine) execLoadStatic(f *Frame, idx uint32) (StepStatus, value.Value, bool, error) {
	class, err := m.ownerClass(f)
	if err != nil {
		return 0, value.Null, false, err
	}
	v, ok := class.LoadStatic(int(idx))
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "static slot %d out of range", idx)
	}
	m.push(v)
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStoreStatic(f *Frame, idx uint32) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	class, err := m.ownerClass(f)
	if err != nil {
		return 0, value.Null, false, err
	}
	if !class.StoreStatic(int(idx), v) {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "static slot %d out of range", idx)
	}
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) arrayOf(v value.Value) (*heap.Array, error) {
	obj, ok := m.objectOf(v)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-array value")
	}
	arr, ok := obj.(*heap.Array)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "operation applied to a non-array value")
	}
	return arr, nil
}

func (m *Machine) execLoadElem() (StepStatus, value.Value, bool, error) {
	idxV, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	arr, err := m.arrayOf(recv)
	if err != nil {
		return 0, value.Null, false, err
	}
	idx := int(valueAsFloat(idxV))
	v, ok := arr.Get(idx)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "array index %d out of bounds", idx)
	}
	m.push(v)
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStoreElem() (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	idxV, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	arr, err := m.arrayOf(recv)
	if err != nil {
		return 0, value.Null, false, err
	}
	idx := int(valueAsFloat(idxV))
	if !arr.Set(idx, v) {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "array index %d out of bounds", idx)
	}
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execArrayLen() (StepStatus, value.Value, bool, error) {
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	arr, err := m.arrayOf(recv)
	if err != nil {
		return 0, value.Null, false, err
	}
	m.push(value.FromI32(int32(arr.Len())))
	return StatusRunning, value.Null, true, nil
}

// execArrayLiteral implements ArrayLiteral's Emit32_32 encoding: two u32s
// (classID placeholder unused by plain arrays, elemCount). Elements are
// popped in reverse order.
func (m *Machine) execArrayLiteral(operand []byte) (StepStatus, value.Value, bool, error) {
	count := le32(operand[4:8])
	elems, err := m.popArgs(int(count))
	if err != nil {
		return 0, value.Null, false, err
	}
	arr := heap.NewArray(len(elems))
	for _, v := range elems {
		arr.Push(v)
	}
	addr := m.Heap.Alloc(arr)
	m.push(value.FromPtr(addr))
	return StatusRunning, value.Null, true, nil
}

// execTupleLiteral implements TupleLiteral's Emit32_16 encoding (idx u32
// unused for a literal, count u16): identical to a fixed-size array
// literal, since tuples share the Array backing store (spec §3.1, fixed
// arity enforced by the type checker rather than the runtime).
func (m *Machine) execTupleLiteral(operand []byte) (StepStatus, value.Value, bool, error) {
	_, count := decodeCallOperand(operand)
	elems, err := m.popArgs(int(count))
	if err != nil {
		return 0, value.Null, false, err
	}
	arr := heap.NewArray(len(elems))
	for _, v := range elems {
		arr.Push(v)
	}
	addr := m.Heap.Alloc(arr)
	m.push(value.FromPtr(addr))
	return StatusRunning, value.Null, true, nil
}

// execInitArray implements InitArray/InitTuple: a zero-stack-effect marker,
// the array-literal counterpart of execInitFields, emitted once a sequence
// of discrete StoreElem instructions has populated a freshly allocated
// array or tuple. n is documentary only.
func (m *Machine) execInitArray(n uint16) (StepStatus, value.Value, bool, error) {
	_ = n
	return StatusRunning, value.Null, true, nil
}

// execArrayPush implements ArrayPush: pops value then array, pushes
// nothing back (spec bytecode verifier's declared (2,0) effect — ArrayPush
// is a statement-form mutation, as is JsonPush).
func (m *Machine) execArrayPush() (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	arr, err := m.arrayOf(recv)
	if err != nil {
		return 0, value.Null, false, err
	}
	arr.Push(v)
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execArrayPop() (StepStatus, value.Value, bool, error) {
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	arr, err := m.arrayOf(recv)
	if err != nil {
		return 0, value.Null, false, err
	}
	v, ok := arr.Pop()
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "pop from an empty array")
	}
	m.push(v)
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execLoadRefCell() (StepStatus, value.Value, bool, error) {
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	obj, ok := m.objectOf(recv)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "LOAD_REFCELL on a non-refcell value")
	}
	rc, ok := obj.(*heap.RefCell)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "LOAD_REFCELL on a non-refcell value")
	}
	m.push(rc.Load())
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStoreRefCell() (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	obj, ok := m.objectOf(recv)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "STORE_REFCELL on a non-refcell value")
	}
	rc, ok := obj.(*heap.RefCell)
	if !ok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "STORE_REFCELL on a non-refcell value")
	}
	rc.Store(v)
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execLoadGlobal(idx uint32) (StepStatus, value.Value, bool, error) {
	m.push(m.globalAt(idx))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStoreGlobal(idx uint32) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	m.setGlobal(idx, v)
	return StatusRunning, value.Null, true, nil
}

// execInstanceOf implements InstanceOf: pop classID then the value, walk
// the value's class's parent chain looking for classID (spec §4.3).
func (m *Machine) execInstanceOf() (StepStatus, value.Value, bool, error) {
	classV, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	targetID := uint32(valueAsFloat(classV))
	obj, ok := m.objectOf(recv)
	if !ok {
		m.push(value.False)
		return StatusRunning, value.Null, true, nil
	}
	inst, ok := obj.(*heap.Instance)
	if !ok {
		m.push(value.False)
		return StatusRunning, value.Null, true, nil
	}
	id := inst.Header().ClassID
	for {
		if id == targetID {
			m.push(value.True)
			return StatusRunning, value.Null, true, nil
		}
		class, ok := m.Heap.Classes().Get(id)
		if !ok || class.ParentID == nil {
			break
		}
		id = *class.ParentID
	}
	m.push(value.False)
	return StatusRunning, value.Null, true, nil
}

// execCast implements Cast: the guest-level `as` operator. The runtime has
// no static type information left at this point, so a cast is a checked
// pass-through: the value is returned unchanged if it already satisfies
// instanceof the target class, and raises a TypeError otherwise (spec §4.3,
// "a failed downcast throws rather than silently truncating").
func (m *Machine) execCast() (StepStatus, value.Value, bool, error) {
	classV, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	recv, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	m.push(recv)
	m.push(classV)
	status, _, advance, err := m.execInstanceOf()
	if err != nil {
		return status, value.Null, advance, err
	}
	ok, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if !truthy(ok) {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "cast failed: value is not an instance of the target class")
	}
	m.push(recv)
	return StatusRunning, value.Null, true, nil
}

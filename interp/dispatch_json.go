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

// mapBacking resolves a Map instance's backing key/value Array (field 0,
// alternating key, value Values; heap.NewMapInstance's documented layout).
func (m *Machine) mapBacking(v value.Value) (*heap.Array, error) {
	obj, ok := m.objectOf(v)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "JSON operation applied to a non-object value")
	}
	inst, ok := obj.(*heap.Instance)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "JSON operation applied to a non-object value")
	}
	addrV, ok := inst.Field(0)
	if !ok {
		return nil, rerr.New(rerr.KindTypeError, "JSON operation applied to a malformed object")
	}
	return m.arrayOf(addrV)
}

func (m *Machine) jsonKeyAt(idx uint32) (string, error) {
	s, ok := m.Consts.GetString(idx)
	if !ok {
		return "", rerr.New(rerr.KindReferenceError, "JSON key constant index %d out of range", idx)
	}
	return s, nil
}

// execJSON implements the JsonX opcode family (spec §6.4's dynamic-object
// bridge): JSON objects are Map instances, JSON arrays are plain Arrays,
// matching the same linear-scan backing store the Map/Set builtins already
// use (heap.NewMapInstance).
func (m *Machine) execJSON(op bytecode.Op, operand []byte) (StepStatus, value.Value, bool, error) {
	switch op {
	case bytecode.JsonNewObject:
		addr := heap.NewMapInstance(m.Heap, m.builtinClassIDs.Map)
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonNewArray:
		addr := m.Heap.Alloc(heap.NewArray(0))
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonGet:
		key, err := m.jsonKeyAt(le32(operand))
		if err != nil {
			return 0, value.Null, false, err
		}
		objV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		backing, err := m.mapBacking(objV)
		if err != nil {
			return 0, value.Null, false, err
		}
		for i := 0; i+1 < backing.Len(); i += 2 {
			kv, _ := backing.Get(i)
			if ks, ok := mustString(m.Heap, kv); ok && ks == key {
				vv, _ := backing.Get(i + 1)
				m.push(vv)
				return StatusRunning, value.Null, true, nil
			}
		}
		m.push(value.Null)
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonSet:
		key, err := m.jsonKeyAt(le32(operand))
		if err != nil {
			return 0, value.Null, false, err
		}
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		objV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		backing, err := m.mapBacking(objV)
		if err != nil {
			return 0, value.Null, false, err
		}
		keyAddr, _ := m.Heap.Strings().Intern(m.Heap, key)
		for i := 0; i+1 < backing.Len(); i += 2 {
			kv, _ := backing.Get(i)
			if ks, ok := mustString(m.Heap, kv); ok && ks == key {
				backing.Set(i+1, v)
				return StatusRunning, value.Null, true, nil
			}
		}
		backing.Push(value.FromPtr(keyAddr))
		backing.Push(v)
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonDelete:
		key, err := m.jsonKeyAt(le32(operand))
		if err != nil {
			return 0, value.Null, false, err
		}
		objV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		backing, err := m.mapBacking(objV)
		if err != nil {
			return 0, value.Null, false, err
		}
		for i := 0; i+1 < backing.Len(); i += 2 {
			kv, _ := backing.Get(i)
			if ks, ok := mustString(m.Heap, kv); ok && ks == key {
				// Shift the remaining pairs down over the removed one and
				// shrink by two; adequate for the small objects JSON
				// decoding typically produces.
				for j := i; j+2 < backing.Len(); j++ {
					v, _ := backing.Get(j + 2)
					backing.Set(j, v)
				}
				backing.SetLength(backing.Len() - 2)
				return StatusRunning, value.Null, true, nil
			}
		}
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonIndex:
		idxV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		arrV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		arr, err := m.arrayOf(arrV)
		if err != nil {
			return 0, value.Null, false, err
		}
		v, ok := arr.Get(int(valueAsFloat(idxV)))
		if !ok {
			m.push(value.Null)
		} else {
			m.push(v)
		}
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonIndexSet:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		idxV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		arrV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		arr, err := m.arrayOf(arrV)
		if err != nil {
			return 0, value.Null, false, err
		}
		idx := int(valueAsFloat(idxV))
		if idx == arr.Len() {
			arr.Push(v)
		} else if !arr.Set(idx, v) {
			return 0, value.Null, false, rerr.New(rerr.KindRangeError, "JSON array index %d out of bounds", idx)
		}
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonPush:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		arrV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		arr, err := m.arrayOf(arrV)
		if err != nil {
			return 0, value.Null, false, err
		}
		arr.Push(v)
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonPop:
		arrV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		arr, err := m.arrayOf(arrV)
		if err != nil {
			return 0, value.Null, false, err
		}
		v, ok := arr.Pop()
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindRangeError, "pop from an empty JSON array")
		}
		m.push(v)
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonKeys:
		objV, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		backing, err := m.mapBacking(objV)
		if err != nil {
			return 0, value.Null, false, err
		}
		keys := heap.NewArray(backing.Len() / 2)
		for i := 0; i+1 < backing.Len(); i += 2 {
			kv, _ := backing.Get(i)
			keys.Push(kv)
		}
		m.push(value.FromPtr(m.Heap.Alloc(keys)))
		return StatusRunning, value.Null, true, nil

	case bytecode.JsonLength:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		if obj, ok := m.objectOf(v); ok {
			if arr, ok := obj.(*heap.Array); ok {
				m.push(value.FromI32(int32(arr.Len())))
				return StatusRunning, value.Null, true, nil
			}
		}
		backing, err := m.mapBacking(v)
		if err != nil {
			return 0, value.Null, false, err
		}
		m.push(value.FromI32(int32(backing.Len() / 2)))
		return StatusRunning, value.Null, true, nil

	default:
		return 0, value.Null, false, rerr.New(rerr.KindInternal, "unimplemented JSON opcode %s", op)
	}
}

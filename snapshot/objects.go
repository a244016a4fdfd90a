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

	"github.com/holiman/uint256"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/value"
)

// encodeObject writes o's kind tag plus its per-kind payload. PTR-tagged
// Value fields are written as flat uint64 words (the address, not a live
// reference): decode order never matters, since resolving a PTR to its
// Object happens through Heap.Get at use time, long after every object in
// the table has been installed via Heap.LoadAt.
func encodeObject(buf *bytes.Buffer, addr uint64, o heap.Object) error {
	writeU64(buf, addr)
	buf.WriteByte(byte(o.Header().Kind))
	writeU32(buf, o.Header().ClassID)

	switch obj := o.(type) {
	case *heap.String:
		writeString(buf, obj.Bytes())

	case *heap.Array:
		n := obj.Len()
		writeU32(buf, uint32(n))
		for i := 0; i < n; i++ {
			v, _ := obj.Get(i)
			writeU64(buf, uint64(v))
		}

	case *heap.Instance:
		n := obj.FieldCount()
		writeU32(buf, uint32(n))
		for i := 0; i < n; i++ {
			v, _ := obj.Field(i)
			writeU64(buf, uint64(v))
		}

	case *heap.Closure:
		writeU32(buf, obj.FuncID)
		writeU32(buf, uint32(len(obj.Captures)))
		for _, v := range obj.Captures {
			writeU64(buf, uint64(v))
		}

	case *heap.RefCell:
		writeU64(buf, uint64(obj.Load()))

	case *heap.Mutex:
		writeI64(buf, obj.Owner)
		writeU32(buf, uint32(len(obj.Waiters)))
		for _, id := range obj.Waiters {
			writeI64(buf, id)
		}

	case *heap.Semaphore:
		writeU32(buf, uint32(obj.Permits))
		writeU32(buf, uint32(len(obj.Waiters)))
		for _, w := range obj.Waiters {
			writeI64(buf, w.TaskID)
			writeU32(buf, uint32(w.Permits))
		}

	case *heap.Channel:
		values, capacity := obj.Snapshot()
		writeU32(buf, uint32(capacity))
		writeU32(buf, uint32(len(values)))
		for _, v := range values {
			writeU64(buf, uint64(v))
		}
		writeBool(buf, obj.Closed)
		writeU32(buf, uint32(len(obj.SendWaiters)))
		for _, id := range obj.SendWaiters {
			writeI64(buf, id)
		}
		writeU32(buf, uint32(len(obj.RecvWaiters)))
		for _, id := range obj.RecvWaiters {
			writeI64(buf, id)
		}

	case *heap.TaskHandle:
		result, errVal := obj.Result()
		writeI64(buf, obj.TaskID)
		writeBool(buf, obj.Done())
		writeU64(buf, uint64(result))
		writeU64(buf, uint64(errVal))

	case *heap.RegExp:
		writeString(buf, obj.Source)
		writeString(buf, obj.Flags)

	case *heap.BigInt:
		b32 := obj.Uint256().Bytes32()
		buf.Write(b32[:])

	default:
		return fmt.Errorf("snapshot: unsupported heap object kind %v", o.Header().Kind)
	}
	return nil
}

// decodeObject reads one heap-object-table entry and installs it into h at
// its original address via Heap.LoadAt.
func decodeObject(r *byteReader, h *heap.Heap) error {
	addr, err := r.u64()
	if err != nil {
		return err
	}
	kindByte, err := r.bytes(1)
	if err != nil {
		return err
	}
	kind := heap.Kind(kindByte[0])
	classID, err := r.u32()
	if err != nil {
		return err
	}

	var obj heap.Object
	switch kind {
	case heap.KindString:
		s, err := readString(r)
		if err != nil {
			return err
		}
		obj = heap.RestoreString(s)

	case heap.KindArray:
		n, err := r.u32()
		if err != nil {
			return err
		}
		a := heap.NewArray(int(n))
		a.SetLength(int(n))
		for i := uint32(0); i < n; i++ {
			v, err := r.u64()
			if err != nil {
				return err
			}
			a.Set(int(i), value.Value(v))
		}
		obj = a

	case heap.KindObject:
		n, err := r.u32()
		if err != nil {
			return err
		}
		inst := heap.NewInstance(classID, int(n))
		for i := uint32(0); i < n; i++ {
			v, err := r.u64()
			if err != nil {
				return err
			}
			inst.SetField(int(i), value.Value(v))
		}
		obj = inst

	case heap.KindClosure:
		funcID, err := r.u32()
		if err != nil {
			return err
		}
		n, err := r.u32()
		if err != nil {
			return err
		}
		captures := make([]value.Value, n)
		for i := uint32(0); i < n; i++ {
			v, err := r.u64()
			if err != nil {
				return err
			}
			captures[i] = value.Value(v)
		}
		obj = heap.NewClosure(funcID, captures)

	case heap.KindRefCell:
		v, err := r.u64()
		if err != nil {
			return err
		}
		obj = heap.NewRefCell(value.Value(v))

	case heap.KindMutex:
		owner, err := r.i64()
		if err != nil {
			return err
		}
		n, err := r.u32()
		if err != nil {
			return err
		}
		waiters := make([]int64, n)
		for i := uint32(0); i < n; i++ {
			id, err := r.i64()
			if err != nil {
				return err
			}
			waiters[i] = id
		}
		m := heap.NewMutex()
		m.Owner = owner
		m.Waiters = waiters
		obj = m

	case heap.KindSemaphore:
		permits, err := r.u32()
		if err != nil {
			return err
		}
		n, err := r.u32()
		if err != nil {
			return err
		}
		waiters := make([]heap.SemWaiter, n)
		for i := uint32(0); i < n; i++ {
			id, err := r.i64()
			if err != nil {
				return err
			}
			p, err := r.u32()
			if err != nil {
				return err
			}
			waiters[i] = heap.SemWaiter{TaskID: id, Permits: int(p)}
		}
		s := heap.NewSemaphore(int(permits))
		s.Waiters = waiters
		obj = s

	case heap.KindChannel:
		capacity, err := r.u32()
		if err != nil {
			return err
		}
		n, err := r.u32()
		if err != nil {
			return err
		}
		values := make([]value.Value, n)
		for i := uint32(0); i < n; i++ {
			v, err := r.u64()
			if err != nil {
				return err
			}
			values[i] = value.Value(v)
		}
		closed, err := r.bool()
		if err != nil {
			return err
		}
		nSend, err := r.u32()
		if err != nil {
			return err
		}
		sendWaiters := make([]int64, nSend)
		for i := uint32(0); i < nSend; i++ {
			id, err := r.i64()
			if err != nil {
				return err
			}
			sendWaiters[i] = id
		}
		nRecv, err := r.u32()
		if err != nil {
			return err
		}
		recvWaiters := make([]int64, nRecv)
		for i := uint32(0); i < nRecv; i++ {
			id, err := r.i64()
			if err != nil {
				return err
			}
			recvWaiters[i] = id
		}
		obj = heap.RestoreChannel(values, int(capacity), closed, sendWaiters, recvWaiters)

	case heap.KindTaskHandle:
		taskID, err := r.i64()
		if err != nil {
			return err
		}
		done, err := r.bool()
		if err != nil {
			return err
		}
		result, err := r.u64()
		if err != nil {
			return err
		}
		errVal, err := r.u64()
		if err != nil {
			return err
		}
		th := heap.NewTaskHandle(taskID)
		if done {
			th.Complete(value.Value(result), value.Value(errVal))
		}
		obj = th

	case heap.KindRegExp:
		source, err := readString(r)
		if err != nil {
			return err
		}
		flags, err := readString(r)
		if err != nil {
			return err
		}
		re, err := heap.CompileRegExp(source, flags)
		if err != nil {
			return fmt.Errorf("snapshot: recompile regexp %q/%q: %w", source, flags, err)
		}
		obj = re

	case heap.KindBigInt:
		b32, err := r.bytes(32)
		if err != nil {
			return err
		}
		var arr [32]byte
		copy(arr[:], b32)
		obj = heap.NewBigInt(new(uint256.Int).SetBytes32(arr[:]))

	default:
		return fmt.Errorf("snapshot: unknown heap object kind %d", kindByte[0])
	}

	h.LoadAt(addr, obj)
	return nil
}

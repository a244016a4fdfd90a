// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

// valueSize is the width of one Value slot; headerSize approximates an
// ObjectHeader plus the owning Go struct's fixed overhead. Neither needs to
// match the runtime's actual memory layout: the GC's allocation-budget
// trigger (spec §4.5) only needs heap growth tracked consistently, not to
// the byte.
const (
	valueSize  = 8
	headerSize = 16
)

// approxObjectSize estimates the bytes committed to o, including its
// header, for the allocated_bytes counter every Alloc/Free call maintains.
func approxObjectSize(o Object) uint64 {
	switch v := o.(type) {
	case *String:
		return uint64(headerSize + v.Len())
	case *Array:
		return uint64(headerSize + v.Cap()*valueSize)
	case *Instance:
		return uint64(headerSize + v.FieldCount()*valueSize)
	case *Closure:
		return uint64(headerSize + len(v.Captures)*valueSize)
	case *RefCell:
		return uint64(headerSize + valueSize)
	case *Mutex:
		return uint64(headerSize + len(v.Waiters)*8)
	case *Semaphore:
		return uint64(headerSize + len(v.Waiters)*16)
	case *Channel:
		return uint64(headerSize + v.Capacity()*valueSize)
	case *TaskHandle:
		return uint64(headerSize + 2*valueSize)
	case *RegExp:
		return uint64(headerSize + len(v.Source) + len(v.Flags))
	case *BigInt:
		return uint64(headerSize + 32) // uint256's fixed backing array
	default:
		return headerSize
	}
}

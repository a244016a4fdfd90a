// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package heap implements the engine's heap object model (spec §3.2-§3.5):
// object headers, the per-kind object layouts a Value PTR tag can address,
// the class table with its vtable-based method dispatch, and the function
// record with its JIT code-status state machine.
package heap

import "github.com/rizqme/raya/value"

// Kind enumerates the shapes a heap object can take.
type Kind uint8

const (
	KindString Kind = iota
	KindArray
	KindObject
	KindClosure
	KindRefCell
	KindMutex
	KindSemaphore
	KindChannel
	KindTaskHandle
	KindRegExp
	KindBigInt
)

var kindNames = [...]string{
	KindString:     "string",
	KindArray:      "array",
	KindObject:     "object",
	KindClosure:    "closure",
	KindRefCell:    "refcell",
	KindMutex:      "mutex",
	KindSemaphore:  "semaphore",
	KindChannel:    "channel",
	KindTaskHandle: "task_handle",
	KindRegExp:     "regexp",
	KindBigInt:     "bigint",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// ObjectHeader is the common prefix of every heap object (spec §3.2). The
// mark bit is owned exclusively by the GC; between collection cycles it is
// false (spec invariant I5).
type ObjectHeader struct {
	Kind    Kind
	Marked  bool
	ClassID uint32 // 0 for arrays, strings, closures, and the other non-instance kinds
}

// Object is implemented by every heap-resident value. Trace reports the
// Values an object directly holds, so the GC can walk the heap graph without
// per-kind special casing in the collector itself.
type Object interface {
	Header() *ObjectHeader
	Trace(visit func(value.Value))
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import "github.com/rizqme/raya/value"

// Closure is a function id paired with its captured environment (spec §3.2,
// invariant I4). A capture slot holds either a plain Value (captured by
// value) or a PTR to a RefCell (captured by shared mutable reference, used
// when the captured variable is reassigned after the closure is created).
type Closure struct {
	header   ObjectHeader
	FuncID   uint32
	Captures []value.Value
}

// NewClosure allocates a Closure. len(captures) must equal the function's
// declared capture_count (invariant I4); that check is the caller's
// responsibility (the bytecode verifier and MakeClosure handler), since the
// heap package has no view of function metadata beyond FunctionTable ids.
func NewClosure(funcID uint32, captures []value.Value) *Closure {
	return &Closure{header: ObjectHeader{Kind: KindClosure}, FuncID: funcID, Captures: captures}
}

func (c *Closure) Header() *ObjectHeader { return &c.header }

func (c *Closure) Trace(visit func(value.Value)) {
	for _, v := range c.Captures {
		visit(v)
	}
}

// Capture reads capture slot i.
func (c *Closure) Capture(i int) (value.Value, bool) {
	if i < 0 || i >= len(c.Captures) {
		return value.Null, false
	}
	return c.Captures[i], true
}

// SetCapture overwrites capture slot i (SetClosureCapture opcode, used while
// building a closure before it escapes).
func (c *Closure) SetCapture(i int, v value.Value) bool {
	if i < 0 || i >= len(c.Captures) {
		return false
	}
	c.Captures[i] = v
	return true
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import (
	"fmt"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
)

// eligibleOps is the conservative whitelist a hot function's entire
// bytecode must fall within before it is even handed to Decode/BuildCFG:
// straight-line integer arithmetic, comparisons, locals, and structured
// control flow. Anything touching the object heap, closures, exceptions,
// or calls out stays interpreted rather than taught to a still-young code
// generator (Open Question #4: "amd64 direct-emission substitute for a
// conservative eligible-function subset, Ineligible reported otherwise").
// JmpIfNull/JmpIfNotNull are not listed: the code generator branches on the
// low 32 bits of the condition, which cannot tell null from zero.
var eligibleOps = map[bytecode.Op]bool{
	bytecode.ConstI32:     true,
	bytecode.LoadLocal:    true,
	bytecode.LoadLocal0:   true,
	bytecode.LoadLocal1:   true,
	bytecode.StoreLocal:   true,
	bytecode.StoreLocal0:  true,
	bytecode.StoreLocal1:  true,
	bytecode.Iadd:         true,
	bytecode.Isub:         true,
	bytecode.Imul:         true,
	bytecode.Ineg:         true,
	bytecode.Ieq:          true,
	bytecode.Ine:          true,
	bytecode.Ilt:          true,
	bytecode.Ile:          true,
	bytecode.Igt:          true,
	bytecode.Ige:          true,
	bytecode.Pop:          true,
	bytecode.Dup:          true,
	bytecode.Jmp:          true,
	bytecode.JmpIfFalse:   true,
	bytecode.JmpIfTrue:    true,
	bytecode.Return:       true,
	bytecode.ReturnVoid:   true,
}

// IneligibleError names the first reason Eligible rejected a function, so
// Tiering can log a useful diagnostic instead of a bare bool.
type IneligibleError struct {
	Func   string
	Offset int
	Opcode bytecode.Op
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("jit: %s not eligible for native compilation: opcode %s at offset %d is outside the supported subset", e.Func, e.Opcode, e.Offset)
}

// Eligible reports whether fn's bytecode stays entirely within
// eligibleOps. It also rejects functions with exception handlers: a native
// frame has no place to resume a catch/finally block until deopt.go grows
// that support.
func Eligible(fn *heap.Function) error {
	if len(fn.Handlers) > 0 {
		return &IneligibleError{Func: fn.Name, Offset: -1, Opcode: bytecode.Trap}
	}
	instrs, err := Decode(fn.Code)
	if err != nil {
		return err
	}
	for _, d := range instrs {
		if !eligibleOps[d.Opcode] {
			return &IneligibleError{Func: fn.Name, Offset: d.Offset, Opcode: d.Opcode}
		}
	}
	return nil
}

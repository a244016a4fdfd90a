// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package jit implements the engine's tiering and just-in-time compilation
// pipeline (spec §4.6): decode -> control-flow graph -> SSA IR -> a fixed
// optimization pipeline -> amd64 code generation -> installation, plus
// deoptimization back to the interpreter. It generalizes the teacher
// repository's lang/ir static SSA shape (lang/ir/ir.go) from a compile-time
// AST lowering into a runtime decoder over already-assembled bytecode
// (package bytecode), and follows the raw-machine-code-emission idiom of a
// hand-rolled amd64 JIT backend for its code generator rather than binding
// an external code generation library.
package jit

import (
	"fmt"

	"github.com/rizqme/raya/bytecode"
)

// DecodedInstr is one bytecode instruction with its operand bytes resolved
// and its own size known, so the CFG builder can compute successor offsets
// without re-deriving OperandSize() at every use site.
type DecodedInstr struct {
	Offset  int
	Opcode  bytecode.Op
	Operand []byte
	Size    int // 1 (opcode byte) + len(Operand)
}

// End returns the offset one past this instruction, i.e. the offset of
// whatever follows it in the instruction stream.
func (d DecodedInstr) End() int { return d.Offset + d.Size }

// Decode walks code from offset 0, splitting it into a dense, gap-free
// sequence of DecodedInstr. It never branches or interprets control flow
// itself (that is cfg.go's job) — a straight linear pass mirroring the
// interpreter's own fetchOp/Step shape (interp/dispatch.go), just without a
// Machine to execute against.
func Decode(code []byte) ([]DecodedInstr, error) {
	var out []DecodedInstr
	pc := 0
	for pc < len(code) {
		op := bytecode.Op(code[pc])
		width := op.OperandSize()
		if pc+1+width > len(code) {
			return nil, fmt.Errorf("jit: truncated operand for %s at offset %d", op, pc)
		}
		out = append(out, DecodedInstr{
			Offset:  pc,
			Opcode:  op,
			Operand: code[pc+1 : pc+1+width],
			Size:    1 + width,
		})
		pc += 1 + width
	}
	return out, nil
}

// InstrAt returns the decoded instruction beginning exactly at offset, for
// resolving a jump target or exception-handler offset into the instruction
// it points to.
func InstrAt(instrs []DecodedInstr, offset int) (DecodedInstr, bool) {
	// instrs is offset-sorted by construction (Decode walks forward), so a
	// binary search would work; a linear scan is simpler and this is only
	// ever called a handful of times per function during CFG construction,
	// never per-opcode at runtime.
	for _, d := range instrs {
		if d.Offset == offset {
			return d, true
		}
	}
	return DecodedInstr{}, false
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// jumpTarget mirrors interp/dispatch.go's own jumpTarget: the encoded
// offset is relative to the instruction immediately following the jump,
// not the jump's own start.
func jumpTarget(d DecodedInstr, operand []byte) int {
	return d.End() + int(int32(le32(operand)))
}

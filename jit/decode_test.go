// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import (
	"testing"

	"github.com/rizqme/raya/bytecode"
)

func TestDecodeSimpleSequence(t *testing.T) {
	a := bytecode.NewAssembler()
	a.EmitI32(bytecode.ConstI32, 7)
	a.Emit0(bytecode.Iadd)
	a.Emit0(bytecode.ReturnVoid)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	instrs, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(instrs) != 3 {
		t.Fatalf("got %d instructions, want 3", len(instrs))
	}
	if instrs[0].Opcode != bytecode.ConstI32 || instrs[0].Offset != 0 || instrs[0].Size != 5 {
		t.Fatalf("instr 0 = %+v", instrs[0])
	}
	if instrs[1].Opcode != bytecode.Iadd || instrs[1].Offset != 5 || instrs[1].Size != 1 {
		t.Fatalf("instr 1 = %+v", instrs[1])
	}
	if instrs[2].Opcode != bytecode.ReturnVoid || instrs[2].Offset != 6 {
		t.Fatalf("instr 2 = %+v", instrs[2])
	}
	if instrs[2].End() != len(code) {
		t.Fatalf("last instr End() = %d, want %d", instrs[2].End(), len(code))
	}
}

func TestDecodeTruncatedOperand(t *testing.T) {
	_, err := Decode([]byte{byte(bytecode.ConstI32), 1, 2})
	if err == nil {
		t.Fatal("expected an error for a truncated operand")
	}
}

func TestJumpTargetRelativeToInstructionEnd(t *testing.T) {
	a := bytecode.NewAssembler()
	a.EmitJump(bytecode.Jmp, "target")
	a.Emit0(bytecode.Pop)
	a.Label("target")
	a.Emit0(bytecode.ReturnVoid)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	instrs, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := jumpTarget(instrs[0], instrs[0].Operand)
	want := instrs[2].Offset // the ReturnVoid after the Label
	if got != want {
		t.Fatalf("jumpTarget = %d, want %d", got, want)
	}
}

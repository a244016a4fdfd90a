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
	"github.com/rizqme/raya/heap"
)

func buildConstantFold(t *testing.T) *heap.Function {
	t.Helper()
	a := bytecode.NewAssembler()
	a.EmitI32(bytecode.ConstI32, 2)
	a.EmitI32(bytecode.ConstI32, 3)
	a.Emit0(bytecode.Iadd)
	a.Emit0(bytecode.Return)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return heap.NewFunction("constFold", 0, 0, code)
}

func TestFoldConstantsCollapsesArithmetic(t *testing.T) {
	fn := buildConstantFold(t)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	ssa, err := Build(fn.Name, fn.ParamCount, fn.LocalCount, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	foldConstants(ssa)

	var found bool
	for _, ins := range ssa.Entry().Instrs {
		if ins.Op == IRConstI32 && ins.I32Const == 5 {
			found = true
		}
		if ins.Op == IRIAdd {
			t.Fatal("IRIAdd should have been folded away")
		}
	}
	if !found {
		t.Fatal("expected a folded IRConstI32 5")
	}
}

func TestEliminateDeadCodeDropsUnusedPureInstr(t *testing.T) {
	fn := &Func{Name: "f"}
	blk := &Block{ID: 0}
	fn.Blocks = []*Block{blk}
	used := fn.newReg(TypeI32)
	unused := fn.newReg(TypeI32)
	blk.Instrs = []*Instr{
		{Op: IRConstI32, Result: used, I32Const: 1},
		{Op: IRConstI32, Result: unused, I32Const: 2}, // never read by anything
	}
	blk.Terminator = TermReturn{Value: &used}

	eliminateDeadCode(fn)

	if len(blk.Instrs) != 1 {
		t.Fatalf("got %d instrs after DCE, want 1: %+v", len(blk.Instrs), blk.Instrs)
	}
	if blk.Instrs[0].Result != used {
		t.Fatalf("DCE kept the wrong instruction: %+v", blk.Instrs[0])
	}
}

func TestEliminateDeadCodeKeepsStoreLocalForItsSideEffect(t *testing.T) {
	fn := &Func{Name: "f"}
	blk := &Block{ID: 0}
	fn.Blocks = []*Block{blk}
	v := fn.newReg(TypeBoxed)
	blk.Instrs = []*Instr{
		{Op: IRConstI32, Result: v, I32Const: 1},
		{Op: IRStoreLocal, Args: []Reg{v}, Slot: 0},
	}
	blk.Terminator = TermReturn{Value: nil}

	eliminateDeadCode(fn)

	if len(blk.Instrs) != 2 {
		t.Fatalf("got %d instrs after DCE, want 2 (StoreLocal's side effect must survive): %+v", len(blk.Instrs), blk.Instrs)
	}
}

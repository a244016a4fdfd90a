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

func buildAddOne(t *testing.T) *heap.Function {
	t.Helper()
	a := bytecode.NewAssembler()
	a.Emit0(bytecode.LoadLocal0)
	a.EmitI32(bytecode.ConstI32, 1)
	a.Emit0(bytecode.Iadd)
	a.Emit0(bytecode.Return)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return heap.NewFunction("addOne", 1, 1, code)
}

func TestBuildStraightLineFunction(t *testing.T) {
	fn := buildAddOne(t)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	ssa, err := Build(fn.Name, fn.ParamCount, fn.LocalCount, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ssa.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(ssa.Blocks))
	}
	blk := ssa.Entry()
	ret, ok := blk.Terminator.(TermReturn)
	if !ok {
		t.Fatalf("terminator = %T, want TermReturn", blk.Terminator)
	}
	if ret.Value == nil {
		t.Fatal("TermReturn.Value is nil")
	}
	// LoadLocal, ConstI32, UnboxI32, IAdd, Box is the expected instruction shape.
	var sawAdd, sawBox bool
	for _, ins := range blk.Instrs {
		if ins.Op == IRIAdd {
			sawAdd = true
		}
		if ins.Op == IRBox {
			sawBox = true
		}
	}
	if !sawAdd {
		t.Fatal("expected an IRIAdd instruction")
	}
	if !sawBox {
		t.Fatal("expected the return value to be boxed before Return")
	}
}

func TestBuildIfElseArmsHaveNoPhis(t *testing.T) {
	fn := buildIfElse(t)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	ssa, err := Build(fn.Name, fn.ParamCount, fn.LocalCount, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ssa.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(ssa.Blocks))
	}
	for _, blk := range ssa.Blocks {
		if _, ok := blk.Terminator.(TermBranch); ok {
			continue
		}
		if len(blk.Phis) != 0 {
			t.Fatalf("block %d unexpectedly has phis: %+v", blk.ID, blk.Phis)
		}
	}
}

func TestBuildRejectsUnsupportedOpcode(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit0(bytecode.Throw)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	fn := heap.NewFunction("throwsStuff", 0, 0, code)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	if _, err := Build(fn.Name, fn.ParamCount, fn.LocalCount, cfg); err == nil {
		t.Fatal("expected Build to reject a Throw terminator")
	}
}

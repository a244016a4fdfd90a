// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build amd64

package jit

import "testing"

func TestCodegenAddOneProducesCode(t *testing.T) {
	fn := buildAddOne(t)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	ssa, err := Build(fn.Name, fn.ParamCount, fn.LocalCount, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	Optimize(ssa)
	code, offsets, err := codegenFunc(ssa)
	if err != nil {
		t.Fatalf("codegenFunc: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("codegenFunc produced no bytes")
	}
	if code[0] != 0x55 {
		t.Fatalf("expected the function to open with `push rbp` (0x55), got 0x%02x", code[0])
	}
	if code[len(code)-1] != 0xC3 {
		t.Fatalf("expected the function to end with `ret` (0xC3), got 0x%02x", code[len(code)-1])
	}
	if off, ok := offsets[ssa.Entry().ID]; !ok || off != 0 {
		t.Fatalf("entry block offset = %d, %v; want 0, true", off, ok)
	}
}

func TestCodegenIfElseResolvesBranchTargets(t *testing.T) {
	fn := buildIfElse(t)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	ssa, err := Build(fn.Name, fn.ParamCount, fn.LocalCount, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	Optimize(ssa)
	code, offsets, err := codegenFunc(ssa)
	if err != nil {
		t.Fatalf("codegenFunc: %v", err)
	}
	if len(offsets) != len(ssa.Blocks) {
		t.Fatalf("got %d block offsets, want %d", len(offsets), len(ssa.Blocks))
	}
	for id, off := range offsets {
		if off < 0 || off > len(code) {
			t.Fatalf("block %d offset %d out of range [0,%d]", id, off, len(code))
		}
	}
}

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

// buildIfElse assembles: if (arg0 < arg1) return 1 else return 0, where
// each arm ends in its own Return and no block joins them.
func buildIfElse(t *testing.T) *heap.Function {
	t.Helper()
	a := bytecode.NewAssembler()
	a.Emit0(bytecode.LoadLocal0)
	a.Emit0(bytecode.LoadLocal1)
	a.Emit0(bytecode.Ilt)
	a.EmitJump(bytecode.JmpIfFalse, "else")
	a.EmitI32(bytecode.ConstI32, 1)
	a.Emit0(bytecode.Return)
	a.Label("else")
	a.EmitI32(bytecode.ConstI32, 0)
	a.Emit0(bytecode.Return)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return heap.NewFunction("ifElse", 2, 2, code)
}

func TestBuildCFGPartitionsIfElse(t *testing.T) {
	fn := buildIfElse(t)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	// Expect 3 blocks: the condition/branch block, the then-arm, the else-arm.
	if len(cfg.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3: %+v", len(cfg.Blocks), cfg.Blocks)
	}
	entry := cfg.Blocks[0]
	if entry.Start != 0 {
		t.Fatalf("entry block does not start at 0: %+v", entry)
	}
	if len(entry.Succs) != 2 {
		t.Fatalf("entry block should branch two ways, got succs %v", entry.Succs)
	}
	for _, b := range cfg.Blocks[1:] {
		if len(b.Succs) != 0 {
			t.Fatalf("block %d (a Return arm) should have no successors, got %v", b.ID, b.Succs)
		}
		if len(b.Preds) != 1 || b.Preds[0] != entry.ID {
			t.Fatalf("block %d should have entry as its sole predecessor, got %v", b.ID, b.Preds)
		}
	}
}

// buildLoop assembles a trivial counting loop:
//
//	while (local0 < local1) { local0 = local0 + 1 }
//	return local0
func buildLoop(t *testing.T) *heap.Function {
	t.Helper()
	a := bytecode.NewAssembler()
	a.Label("head")
	a.Emit0(bytecode.LoadLocal0)
	a.Emit0(bytecode.LoadLocal1)
	a.Emit0(bytecode.Ilt)
	a.EmitJump(bytecode.JmpIfFalse, "done")
	a.Emit0(bytecode.LoadLocal0)
	a.EmitI32(bytecode.ConstI32, 1)
	a.Emit0(bytecode.Iadd)
	a.Emit0(bytecode.StoreLocal0)
	a.EmitJump(bytecode.Jmp, "head")
	a.Label("done")
	a.Emit0(bytecode.LoadLocal0)
	a.Emit0(bytecode.Return)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return heap.NewFunction("loop", 2, 2, code)
}

func TestBuildCFGDetectsLoopHeader(t *testing.T) {
	fn := buildLoop(t)
	cfg, err := BuildCFG(fn)
	if err != nil {
		t.Fatalf("BuildCFG: %v", err)
	}
	head, ok := cfg.BlockAt(0)
	if !ok {
		t.Fatal("no block at offset 0")
	}
	foundBackedge := false
	for _, p := range head.Preds {
		if p >= head.ID {
			foundBackedge = true
		}
	}
	if !foundBackedge {
		t.Fatalf("loop head %+v has no back-edge predecessor", head)
	}
}

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
	"sort"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
)

// BlockID identifies a BasicBlock within one Function's CFG. IDs are
// assigned in ascending order of block-start offset, so a block with a
// predecessor whose ID is >= its own ID is a loop header candidate (spec
// §4.6: "a block with a predecessor id >= its own id").
type BlockID int

// BasicBlock is a maximal straight-line run of instructions: control only
// ever enters at Start and leaves at the last instruction's terminator.
type BasicBlock struct {
	ID     BlockID
	Start  int
	End    int // exclusive end offset, one past the terminator
	Instrs []DecodedInstr
	Preds  []BlockID
	Succs  []BlockID

	// InTryRegion is true when this block's instructions fall within at
	// least one of the function's exception-handler protected ranges
	// (spec §4.6's "Try-region tagging"), marking it as a block a native
	// frame cannot safely resume past on a raw exception without first
	// consulting Function.HandlerFor.
	InTryRegion bool
}

func isTerminator(op bytecode.Op) bool {
	switch op {
	case bytecode.Jmp, bytecode.JmpIfFalse, bytecode.JmpIfTrue, bytecode.JmpIfNull, bytecode.JmpIfNotNull,
		bytecode.Return, bytecode.ReturnVoid, bytecode.Throw, bytecode.Rethrow, bytecode.Trap:
		return true
	default:
		return false
	}
}

// CFG is a decoded function's full control-flow graph, blocks ordered by
// ascending Start offset (so Blocks[0] is always the entry block).
type CFG struct {
	Blocks []*BasicBlock

	startToID map[int]BlockID
}

// BlockAt resolves the block beginning exactly at offset.
func (g *CFG) BlockAt(offset int) (*BasicBlock, bool) {
	id, ok := g.startToID[offset]
	if !ok {
		return nil, false
	}
	return g.Blocks[id], true
}

// BuildCFG decodes fn's bytecode and partitions it into basic blocks (spec
// §4.6 step 2): block starts at offset 0, at the instruction following
// every terminator, at every jump target, and at every catch/finally
// target named in fn.Handlers.
func BuildCFG(fn *heap.Function) (*CFG, error) {
	instrs, err := Decode(fn.Code)
	if err != nil {
		return nil, err
	}
	if len(instrs) == 0 {
		return nil, fmt.Errorf("jit: %s has no instructions", fn.Name)
	}

	starts := map[int]bool{0: true}
	for _, d := range instrs {
		if !isTerminator(d.Opcode) {
			continue
		}
		if d.End() < len(fn.Code) {
			starts[d.End()] = true
		}
		switch d.Opcode {
		case bytecode.Jmp:
			starts[jumpTarget(d, d.Operand)] = true
		case bytecode.JmpIfFalse, bytecode.JmpIfTrue, bytecode.JmpIfNull, bytecode.JmpIfNotNull:
			starts[jumpTarget(d, d.Operand)] = true
		}
	}
	for _, h := range fn.Handlers {
		if h.CatchOffset >= 0 {
			starts[h.CatchOffset] = true
		}
		if h.FinallyOffset >= 0 {
			starts[h.FinallyOffset] = true
		}
	}

	ordered := make([]int, 0, len(starts))
	for off := range starts {
		ordered = append(ordered, off)
	}
	sort.Ints(ordered)

	g := &CFG{startToID: make(map[int]BlockID, len(ordered))}
	for i, off := range ordered {
		id := BlockID(i)
		g.startToID[off] = id
		end := len(fn.Code)
		if i+1 < len(ordered) {
			end = ordered[i+1]
		}
		g.Blocks = append(g.Blocks, &BasicBlock{ID: id, Start: off, End: end})
	}

	instrIdx := 0
	for _, b := range g.Blocks {
		for instrIdx < len(instrs) && instrs[instrIdx].Offset < b.End {
			b.Instrs = append(b.Instrs, instrs[instrIdx])
			instrIdx++
		}
	}

	for _, b := range g.Blocks {
		for _, h := range fn.Handlers {
			if b.Start >= h.StartPC && b.Start < h.EndPC {
				b.InTryRegion = true
				break
			}
		}
	}

	g.linkSuccessors()
	return g, nil
}

func (g *CFG) linkSuccessors() {
	for _, b := range g.Blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		last := b.Instrs[len(b.Instrs)-1]
		switch last.Opcode {
		case bytecode.Jmp:
			g.addEdge(b, jumpTarget(last, last.Operand))
		case bytecode.JmpIfFalse, bytecode.JmpIfTrue, bytecode.JmpIfNull, bytecode.JmpIfNotNull:
			g.addEdge(b, jumpTarget(last, last.Operand))
			g.addEdge(b, last.End())
		case bytecode.Return, bytecode.ReturnVoid, bytecode.Throw, bytecode.Rethrow, bytecode.Trap:
			// Terminal: no fallthrough, no outgoing edge.
		default:
			// Fell off the end of this block without an explicit
			// terminator (e.g. a Call at the very end, or the block
			// simply ends because the next block's start offset,
			// computed from some other instruction's target, happens to
			// land here): control falls through sequentially.
			g.addEdge(b, last.End())
		}
	}
}

func (g *CFG) addEdge(from *BasicBlock, targetOffset int) {
	toID, ok := g.startToID[targetOffset]
	if !ok {
		return
	}
	to := g.Blocks[toID]
	from.Succs = append(from.Succs, to.ID)
	to.Preds = append(to.Preds, from.ID)
}

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
)

// builder converts a decoded CFG into SSA form (spec §4.6 step 3). Only the
// bytecode operand stack is promoted to registers; local-variable slots
// stay addressable memory, translated directly into IRLoadLocal/IRStoreLocal
// rather than SSA-renamed, since this ISA's compiler only ever emits
// control-flow instructions (Jmp/JmpIf*) with the expression stack fully
// drained to the statement boundary's fixed depth — in practice always
// zero, never a value straddling a branch. Per-block input registers and
// Phis exist to make that a property the builder verifies rather than
// assumes: a merge point whose predecessors disagree on stack depth is a
// building error, not silently wrong codegen.
type builder struct {
	fn        *Func
	cfg       *CFG
	blocks    map[BlockID]*Block
	entry     map[BlockID][]Reg
	exit      map[BlockID][]Reg
	phis      map[BlockID][]*Phi // parallel to entry[id]; nil slot means "no phi, reg aliases the sole predecessor's"
}

// Build lowers cfg (already partitioned by BuildCFG) into SSA form.
func Build(name string, paramCount, localCount int, cfg *CFG) (*Func, error) {
	f := &Func{Name: name, ParamCount: paramCount, LocalCount: localCount}
	b := &builder{
		fn:     f,
		cfg:    cfg,
		blocks: make(map[BlockID]*Block, len(cfg.Blocks)),
		entry:  make(map[BlockID][]Reg, len(cfg.Blocks)),
		exit:   make(map[BlockID][]Reg, len(cfg.Blocks)),
		phis:   make(map[BlockID][]*Phi, len(cfg.Blocks)),
	}
	for _, bb := range cfg.Blocks {
		f.Blocks = append(f.Blocks, &Block{ID: bb.ID})
	}
	for i, bb := range cfg.Blocks {
		b.blocks[bb.ID] = f.Blocks[i]
	}
	for _, bb := range cfg.Blocks {
		if err := b.buildBlock(bb); err != nil {
			return nil, fmt.Errorf("jit: building %s block %d: %w", name, bb.ID, err)
		}
	}
	b.wireCrossEdges()
	b.resolveBackedgePhis()
	return f, nil
}

func (b *builder) buildBlock(bb *BasicBlock) error {
	stack, err := b.resolveEntryStack(bb)
	if err != nil {
		return err
	}
	b.entry[bb.ID] = append([]Reg(nil), stack...)
	blk := b.blocks[bb.ID]

	for i, d := range bb.Instrs {
		last := i == len(bb.Instrs)-1
		if last && isTerminator(d.Opcode) {
			term, err := b.translateTerminator(blk, d, stack)
			if err != nil {
				return err
			}
			blk.Terminator = term
			b.exit[bb.ID] = stack
			return nil
		}
		stack, err = b.translateOne(blk, d, stack)
		if err != nil {
			return err
		}
	}

	b.exit[bb.ID] = stack
	if len(bb.Succs) != 1 {
		return fmt.Errorf("block %d falls off its instructions without a terminator and without exactly one fallthrough successor", bb.ID)
	}
	blk.Terminator = TermJump{Target: b.blocks[bb.Succs[0]]}
	return nil
}

// resolveEntryStack determines a block's entry stack registers. Block 0
// always starts empty. A block with exactly one predecessor directly
// reuses that predecessor's exit registers (no phi needed). A block with
// more than one predecessor allocates fresh input registers and a Phi per
// slot, populated from whichever predecessors are already built;
// resolveBackedgePhis fills in the rest once every block has been built.
func (b *builder) resolveEntryStack(bb *BasicBlock) ([]Reg, error) {
	if bb.ID == 0 {
		return nil, nil
	}
	if len(bb.Preds) == 0 {
		return nil, fmt.Errorf("block %d is unreachable (no predecessors)", bb.ID)
	}
	if len(bb.Preds) == 1 {
		pred := bb.Preds[0]
		exit, ok := b.exit[pred]
		if !ok {
			return nil, fmt.Errorf("block %d's sole predecessor %d was not built first (unexpected backedge shape)", bb.ID, pred)
		}
		return exit, nil
	}

	depth := -1
	for _, pred := range bb.Preds {
		if exit, ok := b.exit[pred]; ok {
			depth = len(exit)
			break
		}
	}
	if depth < 0 {
		return nil, fmt.Errorf("block %d has no already-built predecessor to establish its entry stack depth", bb.ID)
	}

	stack := make([]Reg, depth)
	phis := make([]*Phi, depth)
	for slot := 0; slot < depth; slot++ {
		reg := b.fn.newReg(TypeBoxed)
		stack[slot] = reg
		phi := &Phi{Result: reg, Incoming: make(map[BlockID]Reg, len(bb.Preds))}
		phis[slot] = phi
		b.blocks[bb.ID].Phis = append(b.blocks[bb.ID].Phis, phi)
	}
	b.phis[bb.ID] = phis

	for _, pred := range bb.Preds {
		exit, ok := b.exit[pred]
		if !ok {
			continue // backedge: resolved in resolveBackedgePhis
		}
		if len(exit) != depth {
			return nil, fmt.Errorf("block %d: predecessor %d exits with stack depth %d, want %d", bb.ID, pred, len(exit), depth)
		}
		for slot, phi := range phis {
			phi.Incoming[pred] = exit[slot]
		}
	}
	return stack, nil
}

// resolveBackedgePhis fills in the Incoming entry for every predecessor
// that was not yet built when its successor's phis were first allocated
// (i.e. every backedge), now that every block's exit stack is known.
func (b *builder) resolveBackedgePhis() {
	for _, bb := range b.cfg.Blocks {
		phis := b.phis[bb.ID]
		if phis == nil {
			continue
		}
		for _, pred := range bb.Preds {
			exit := b.exit[pred]
			for slot, phi := range phis {
				if _, done := phi.Incoming[pred]; done {
					continue
				}
				if slot < len(exit) {
					phi.Incoming[pred] = exit[slot]
				}
			}
		}
	}
}

func (b *builder) wireCrossEdges() {
	for _, bb := range b.cfg.Blocks {
		blk := b.blocks[bb.ID]
		for _, p := range bb.Preds {
			blk.Preds = append(blk.Preds, b.blocks[p])
		}
		for _, s := range bb.Succs {
			blk.Succs = append(blk.Succs, b.blocks[s])
		}
	}
}

func pop1(stack []Reg) ([]Reg, Reg, error) {
	if len(stack) == 0 {
		return nil, Reg{}, fmt.Errorf("operand stack underflow")
	}
	return stack[:len(stack)-1], stack[len(stack)-1], nil
}

func pop2(stack []Reg) ([]Reg, Reg, Reg, error) {
	stack, b, err := pop1(stack)
	if err != nil {
		return nil, Reg{}, Reg{}, err
	}
	stack, a, err := pop1(stack)
	if err != nil {
		return nil, Reg{}, Reg{}, err
	}
	return stack, a, b, nil
}

// ensureBoxed emits an IRBox to turn an unboxed arithmetic result into a
// Value word before it crosses into memory (StoreLocal) or back out to the
// interpreter (Return); a register already TypeBoxed passes through
// unchanged, including the chain that eliminateBoxing later collapses away
// when it was boxed from something unbox already undid.
func (b *builder) ensureBoxed(blk *Block, r Reg) Reg {
	if r.Type == TypeBoxed {
		return r
	}
	boxed := b.fn.newReg(TypeBoxed)
	blk.Instrs = append(blk.Instrs, &Instr{Op: IRBox, Result: boxed, Args: []Reg{r}})
	return boxed
}

// translateOne appends the IR for one non-terminator instruction and
// returns the updated symbolic stack.
func (b *builder) translateOne(blk *Block, d DecodedInstr, stack []Reg) ([]Reg, error) {
	emit := func(ins *Instr) { blk.Instrs = append(blk.Instrs, ins) }

	switch d.Opcode {
	case bytecode.ConstI32:
		r := b.fn.newReg(TypeI32)
		emit(&Instr{Op: IRConstI32, Result: r, I32Const: int32(le32(d.Operand))})
		return append(stack, r), nil

	case bytecode.LoadLocal0, bytecode.LoadLocal1, bytecode.LoadLocal:
		slot := 0
		switch d.Opcode {
		case bytecode.LoadLocal1:
			slot = 1
		case bytecode.LoadLocal:
			slot = int(le16(d.Operand))
		}
		r := b.fn.newReg(TypeBoxed)
		emit(&Instr{Op: IRLoadLocal, Result: r, Slot: slot})
		return append(stack, r), nil

	case bytecode.StoreLocal0, bytecode.StoreLocal1, bytecode.StoreLocal:
		slot := 0
		switch d.Opcode {
		case bytecode.StoreLocal1:
			slot = 1
		case bytecode.StoreLocal:
			slot = int(le16(d.Operand))
		}
		rest, v, err := pop1(stack)
		if err != nil {
			return nil, err
		}
		v = b.ensureBoxed(blk, v)
		emit(&Instr{Op: IRStoreLocal, Args: []Reg{v}, Slot: slot})
		return rest, nil

	case bytecode.Iadd, bytecode.Isub, bytecode.Imul, bytecode.Ineg:
		return b.translateIntArith(blk, d.Opcode, stack)

	case bytecode.Ieq, bytecode.Ine, bytecode.Ilt, bytecode.Ile, bytecode.Igt, bytecode.Ige:
		return b.translateIntCompare(blk, d.Opcode, stack)

	case bytecode.Pop:
		rest, _, err := pop1(stack)
		return rest, err

	case bytecode.Dup:
		rest, v, err := pop1(stack)
		if err != nil {
			return nil, err
		}
		return append(append(rest, v), v), nil

	default:
		return nil, fmt.Errorf("unsupported opcode %s in IR translation", d.Opcode)
	}
}

// ensureUnboxedI32 emits an IRUnboxI32 only when r isn't already known to
// hold a raw i32 (e.g. straight off an IRConstI32 or a prior arithmetic
// result); this both saves an instruction and keeps two back-to-back
// constants directly visible to foldConstants instead of hidden behind a
// redundant unbox of an already-unboxed register.
func (b *builder) ensureUnboxedI32(blk *Block, r Reg) Reg {
	if r.Type == TypeI32 {
		return r
	}
	u := b.fn.newReg(TypeI32)
	blk.Instrs = append(blk.Instrs, &Instr{Op: IRUnboxI32, Result: u, Args: []Reg{r}})
	return u
}

func (b *builder) translateIntArith(blk *Block, op bytecode.Op, stack []Reg) ([]Reg, error) {
	if op == bytecode.Ineg {
		rest, v, err := pop1(stack)
		if err != nil {
			return nil, err
		}
		unboxed := b.ensureUnboxedI32(blk, v)
		r := b.fn.newReg(TypeI32)
		blk.Instrs = append(blk.Instrs, &Instr{Op: IRINeg, Result: r, Args: []Reg{unboxed}})
		return append(rest, r), nil
	}
	rest, a, c, err := pop2(stack)
	if err != nil {
		return nil, err
	}
	ua := b.ensureUnboxedI32(blk, a)
	uc := b.ensureUnboxedI32(blk, c)
	irOp := map[bytecode.Op]IROp{bytecode.Iadd: IRIAdd, bytecode.Isub: IRISub, bytecode.Imul: IRIMul}[op]
	r := b.fn.newReg(TypeI32)
	blk.Instrs = append(blk.Instrs, &Instr{Op: irOp, Result: r, Args: []Reg{ua, uc}})
	return append(rest, r), nil
}

func (b *builder) translateIntCompare(blk *Block, op bytecode.Op, stack []Reg) ([]Reg, error) {
	rest, a, c, err := pop2(stack)
	if err != nil {
		return nil, err
	}
	ua := b.ensureUnboxedI32(blk, a)
	uc := b.ensureUnboxedI32(blk, c)
	kind := map[bytecode.Op]CmpKind{
		bytecode.Ieq: CmpEq, bytecode.Ine: CmpNe, bytecode.Ilt: CmpLt,
		bytecode.Ile: CmpLe, bytecode.Igt: CmpGt, bytecode.Ige: CmpGe,
	}[op]
	r := b.fn.newReg(TypeBool)
	blk.Instrs = append(blk.Instrs, &Instr{Op: IRICmp, Result: r, Args: []Reg{ua, uc}, Slot: int(kind)})
	return append(rest, r), nil
}

func (b *builder) translateTerminator(blk *Block, d DecodedInstr, stack []Reg) (Terminator, error) {
	switch d.Opcode {
	case bytecode.Return:
		_, v, err := pop1(stack)
		if err != nil {
			return nil, err
		}
		v = b.ensureBoxed(blk, v)
		return TermReturn{Value: &v}, nil
	case bytecode.ReturnVoid:
		return TermReturn{Value: nil}, nil
	case bytecode.Jmp:
		target, ok := b.cfg.BlockAt(jumpTarget(d, d.Operand))
		if !ok {
			return nil, fmt.Errorf("jmp target not a block start")
		}
		return TermJump{Target: b.blocks[target.ID]}, nil
	case bytecode.JmpIfFalse, bytecode.JmpIfTrue, bytecode.JmpIfNull, bytecode.JmpIfNotNull:
		rest, cond, err := pop1(stack)
		if err != nil {
			return nil, err
		}
		_ = rest
		thenOff := jumpTarget(d, d.Operand)
		elseOff := d.End()
		thenBB, ok := b.cfg.BlockAt(thenOff)
		if !ok {
			return nil, fmt.Errorf("conditional jump target not a block start")
		}
		elseBB, ok := b.cfg.BlockAt(elseOff)
		if !ok {
			return nil, fmt.Errorf("conditional jump fallthrough not a block start")
		}
		then, els := b.blocks[thenBB.ID], b.blocks[elseBB.ID]
		if d.Opcode == bytecode.JmpIfFalse {
			then, els = els, then
		}
		return TermBranch{Cond: cond, Then: then, Else: els}, nil
	default:
		return nil, fmt.Errorf("unsupported terminator opcode %s", d.Opcode)
	}
}

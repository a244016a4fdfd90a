// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

// Optimize runs the fixed four-pass pipeline over fn in place (spec §4.6
// step 4): box/unbox elimination, copy propagation, constant folding, then
// dead-code elimination. The passes are deliberately not iterated to a
// fixpoint — a single fixed pass order keeps compile latency bounded and
// predictable, which matters more here than squeezing out the last register
// than a looping optimizer would catch.
func Optimize(fn *Func) {
	eliminateBoxing(fn)
	propagateCopies(fn)
	foldConstants(fn)
	eliminateDeadCode(fn)
}

// eliminateBoxing cancels an IRUnboxI32/IRUnboxF64 whose operand is the
// result of an IRBox anywhere in the function (the widths are not
// compared), replacing the unbox's result with the box's original operand
// everywhere it's used. This is the common shape the
// builder emits at arithmetic sites (Unbox, op, and the result stays
// unboxed until a later Box for a StoreLocal or Return) colliding with a
// value that was only just boxed by a previous op.
func eliminateBoxing(fn *Func) {
	boxedBy := make(map[Reg]Reg) // result of an IRBox -> its unboxed operand
	for _, b := range fn.Blocks {
		for _, ins := range b.Instrs {
			if ins.Op == IRBox && len(ins.Args) == 1 {
				boxedBy[ins.Result] = ins.Args[0]
			}
		}
	}
	replace := make(map[Reg]Reg)
	for _, b := range fn.Blocks {
		for _, ins := range b.Instrs {
			if (ins.Op == IRUnboxI32 || ins.Op == IRUnboxF64) && len(ins.Args) == 1 {
				if orig, ok := boxedBy[ins.Args[0]]; ok {
					replace[ins.Result] = orig
				}
			}
		}
	}
	applyReplacements(fn, replace)
}

// propagateCopies replaces every Phi that has exactly one incoming register
// with that register in all of its uses. It does not touch IRBox/IRUnbox
// pairs; eliminateBoxing handles an unbox of a boxed value. Guards against self-referential cycles (a phi whose sole incoming value
// is itself, possible on a loop header with a dead backedge) by never
// chasing through a register already seen in the current resolution chain.
func propagateCopies(fn *Func) {
	replace := make(map[Reg]Reg)
	for _, b := range fn.Blocks {
		for _, phi := range b.Phis {
			if len(phi.Incoming) != 1 {
				continue
			}
			for _, src := range phi.Incoming {
				if src != phi.Result {
					replace[phi.Result] = src
				}
			}
		}
	}
	applyReplacements(fn, replace)
}

func resolve(replace map[Reg]Reg, r Reg) Reg {
	seen := map[Reg]bool{}
	for {
		next, ok := replace[r]
		if !ok || seen[r] {
			return r
		}
		seen[r] = true
		r = next
	}
}

func applyReplacements(fn *Func, replace map[Reg]Reg) {
	if len(replace) == 0 {
		return
	}
	fixReg := func(r Reg) Reg { return resolve(replace, r) }
	for _, b := range fn.Blocks {
		for _, phi := range b.Phis {
			for pred, r := range phi.Incoming {
				phi.Incoming[pred] = fixReg(r)
			}
		}
		for _, ins := range b.Instrs {
			for i, a := range ins.Args {
				ins.Args[i] = fixReg(a)
			}
		}
		switch t := b.Terminator.(type) {
		case TermReturn:
			if t.Value != nil {
				v := fixReg(*t.Value)
				b.Terminator = TermReturn{Value: &v}
			}
		case TermBranch:
			t.Cond = fixReg(t.Cond)
			b.Terminator = t
		case TermThrow:
			t.Value = fixReg(t.Value)
			b.Terminator = t
		}
	}
}

// foldConstants reduces IRIAdd/IRISub/IRIMul over two IRConstI32-produced
// registers, and IRINeg over one, to a single IRConstI32, replacing the
// original instruction with the fold in place so later passes see one
// fewer live computation. Comparisons (IRICmp) are not folded.
func foldConstants(fn *Func) {
	for _, b := range fn.Blocks {
		constI32 := make(map[Reg]int32)
		for _, ins := range b.Instrs {
			if ins.Op == IRConstI32 {
				constI32[ins.Result] = ins.I32Const
			}
		}
		for _, ins := range b.Instrs {
			switch ins.Op {
			case IRIAdd, IRISub, IRIMul:
				if len(ins.Args) != 2 {
					continue
				}
				a, aok := constI32[ins.Args[0]]
				c, cok := constI32[ins.Args[1]]
				if !aok || !cok {
					continue
				}
				var folded int32
				switch ins.Op {
				case IRIAdd:
					folded = a + c
				case IRISub:
					folded = a - c
				case IRIMul:
					folded = a * c
				}
				ins.Op = IRConstI32
				ins.Args = nil
				ins.I32Const = folded
				constI32[ins.Result] = folded
			case IRINeg:
				if len(ins.Args) != 1 {
					continue
				}
				a, aok := constI32[ins.Args[0]]
				if !aok {
					continue
				}
				ins.Op = IRConstI32
				ins.Args = nil
				ins.I32Const = -a
				constI32[ins.Result] = -a
			}
		}
	}
}

// eliminateDeadCode removes any instruction whose result is never read by
// another instruction, a phi, or a terminator, via a mark-and-sweep over
// live registers. Instructions with no Result (IRStoreLocal, IRDeoptimize)
// are kept because hasSideEffect lists them, as is every call op: calls
// may have side effects the IR does not model, so only pure
// value-producing instructions are eligible for removal.
func eliminateDeadCode(fn *Func) {
	live := make(map[Reg]bool)
	mark := func(r Reg) { live[r] = true }

	for _, b := range fn.Blocks {
		switch t := b.Terminator.(type) {
		case TermReturn:
			if t.Value != nil {
				mark(*t.Value)
			}
		case TermBranch:
			mark(t.Cond)
		case TermThrow:
			mark(t.Value)
		}
		for _, phi := range b.Phis {
			for _, r := range phi.Incoming {
				mark(r)
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			for _, ins := range b.Instrs {
				if !live[ins.Result] && !hasSideEffect(ins.Op) {
					continue
				}
				for _, a := range ins.Args {
					if !live[a] {
						live[a] = true
						changed = true
					}
				}
			}
		}
	}

	for _, b := range fn.Blocks {
		kept := b.Instrs[:0]
		for _, ins := range b.Instrs {
			if live[ins.Result] || hasSideEffect(ins.Op) {
				kept = append(kept, ins)
			}
		}
		b.Instrs = kept
	}
}

func hasSideEffect(op IROp) bool {
	switch op {
	case IRStoreLocal, IRCall, IRCallMethod, IRCallNative, IRCallClosure, IRDeoptimize:
		return true
	default:
		return false
	}
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

// IRType is a register's static type once the SSA builder has narrowed it
// away from a generic boxed Value (spec §4.6 step 3: "typed arithmetic...
// box/unbox conversions"). Named distinctly from package value's runtime
// Value so the two never get confused: an IRType describes a compile-time
// fact about a Reg, not a runtime-tagged word.
type IRType int

const (
	TypeUnknown IRType = iota
	TypeBoxed          // still a raw NaN-boxed word; must Unbox before arithmetic
	TypeI32
	TypeF64
	TypeBool
)

func (t IRType) String() string {
	switch t {
	case TypeBoxed:
		return "boxed"
	case TypeI32:
		return "i32"
	case TypeF64:
		return "f64"
	case TypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Reg names one SSA register: every Instr with a Result defines exactly
// one, and it is assigned exactly once for the lifetime of the Func (the
// single-static-assignment invariant the optimizer's copy-propagation and
// DCE passes rely on).
type Reg struct {
	ID   int
	Type IRType
}

// IROp identifies an IR instruction's operation, grounded on the teacher
// repository's lang/ir.Op enum shape (arithmetic/memory/call/control
// categories) but narrowed to this engine's typed-value and bytecode-call
// domain rather than its agent/blockchain-specific operations.
type IROp int

const (
	IRConstI32 IROp = iota
	IRConstF64
	IRConstBool
	IRLoadLocal
	IRStoreLocal
	IRBox
	IRUnboxI32
	IRUnboxF64
	IRIAdd
	IRISub
	IRIMul
	IRINeg
	IRFAdd
	IRFSub
	IRFMul
	IRFDiv
	IRFNeg
	IRICmp // Slot carries the comparison kind (CmpKind)
	IRCall
	IRCallMethod
	IRCallNative
	IRCallClosure
	IRDeoptimize // terminator: bail out to the interpreter at DeoptSite
)

// CmpKind identifies which integer comparison an IRICmp performs.
type CmpKind int

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// Instr is one SSA instruction: Result is only meaningful when Op defines
// a value (IRDeoptimize and calls-for-effect leave it zero).
type Instr struct {
	Op     IROp
	Result Reg
	Args   []Reg

	I32Const int32
	F64Const float64
	Slot     int // local slot index (IRLoadLocal/IRStoreLocal) or CmpKind (IRICmp)

	FuncID    uint32
	DeoptSite int // index into the owning Function's deopt-site table
}

// Terminator ends a Block's instruction stream and names its successors,
// mirroring the teacher's Terminator interface (lang/ir.go's
// TermReturn/TermBranch/TermCondBranch) generalized with a Throw/Deoptimize
// case this engine's exception model and tiering need that the teacher's
// domain never did.
type Terminator interface{ isTerminator() }

// TermReturn ends a Func: Value is nil for ReturnVoid.
type TermReturn struct{ Value *Reg }

// TermJump is an unconditional edge to Target.
type TermJump struct{ Target *Block }

// TermBranch is a two-way conditional edge.
type TermBranch struct {
	Cond        Reg
	Then, Else  *Block
}

// TermThrow propagates Value as an exception out of the current block.
type TermThrow struct{ Value Reg }

// TermDeoptimize bails out of native execution back to the interpreter at
// the bytecode offset DeoptSite maps to (spec §4.6's Deoptimize terminator:
// "site, reason").
type TermDeoptimize struct {
	Site   int
	Reason string
}

func (TermReturn) isTerminator()     {}
func (TermJump) isTerminator()       {}
func (TermBranch) isTerminator()     {}
func (TermThrow) isTerminator()      {}
func (TermDeoptimize) isTerminator() {}

// Phi resolves a register's value at a block entry from whichever
// predecessor control arrived from (spec §4.6 step 3: "Phi at merges").
// The amd64 code generator emits no moves for phis; it rejects any block
// that still has them.
type Phi struct {
	Result   Reg
	Incoming map[BlockID]Reg
}

// Block is one SSA basic block: phis first, then straight-line Instrs,
// then exactly one Terminator.
type Block struct {
	ID         BlockID
	Phis       []*Phi
	Instrs     []*Instr
	Terminator Terminator
	Preds      []*Block
	Succs      []*Block
}

// IsLoopHeader reports whether b has a predecessor whose ID is >= its own,
// per spec §4.6's block-ordering convention: blocks are numbered by
// ascending bytecode offset, so a back-edge is exactly a predecessor with
// an equal-or-greater id. seal_block (finalizing a loop header's phis) is
// deferred to the end of the building function's Build pass, once every
// block — including this one's back-edge predecessor — has been visited.
func (b *Block) IsLoopHeader() bool {
	for _, p := range b.Preds {
		if p.ID >= b.ID {
			return true
		}
	}
	return false
}

// Func is one function's SSA form: Entry is always Blocks[0].
type Func struct {
	Name       string
	ParamCount int
	LocalCount int
	Blocks     []*Block
	NextReg    int
}

func (f *Func) Entry() *Block { return f.Blocks[0] }

// newReg allocates a fresh SSA register of the given type.
func (f *Func) newReg(t IRType) Reg {
	r := Reg{ID: f.NextReg, Type: t}
	f.NextReg++
	return r
}

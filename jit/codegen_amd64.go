// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build amd64

package jit

import "fmt"

// xreg is a physical amd64 general-purpose register number (the same
// numbering ModRM/REX use), so encoding helpers never have to translate
// between two different register namespaces.
type xreg int

const (
	xAX  xreg = 0
	xCX  xreg = 1
	xDX  xreg = 2
	xBX  xreg = 3
	xSP  xreg = 4
	xBP  xreg = 5
	xSI  xreg = 6
	xDI  xreg = 7
	xR12 xreg = 12
)

// localsBaseReg holds the locals-array pointer (the native ABI's third
// argument, delivered in RDX) for the whole function body, freeing RDX
// back up as a scratch register — this engine's eligible subset never
// needs the raw args pointer once invokeNative has already copied it into
// the locals array.
const localsBaseReg = xR12

// asm is a tiny byte-emitting x86-64 assembler covering exactly the
// instruction shapes codegenFunc needs, grounded on the hand-rolled
// register-bitmask amd64 emitter idiom of a reference scheme JIT backend
// (raw opcode byte slices assembled by a recursive expression compiler)
// rather than any general-purpose assembler package.
type asm struct {
	code []byte
}

func (a *asm) emit(b ...byte) { a.code = append(a.code, b...) }

func (a *asm) pos() int { return len(a.code) }

func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 1 << 3
	}
	if r {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 1
	}
	if b {
		v |= 1
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// movRegReg64 emits MOV dst, src (both 64-bit GPRs).
func (a *asm) movRegReg64(dst, src xreg) {
	a.emit(rex(true, src >= 8, false, dst >= 8), 0x89, modrm(3, byte(src), byte(dst)))
}

// movRegImm64 emits MOVABS dst, imm64.
func (a *asm) movRegImm64(dst xreg, imm uint64) {
	a.emit(rex(true, false, false, dst >= 8), 0xB8+byte(dst&7))
	for i := 0; i < 8; i++ {
		a.emit(byte(imm >> (8 * i)))
	}
}

func disp32Bytes(disp int32) []byte {
	u := uint32(disp)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

// movRegMem64 emits MOV dst, [base+disp32].
func (a *asm) movRegMem64(dst, base xreg, disp int32) {
	a.emit(rex(true, dst >= 8, false, base >= 8), 0x8B, modrm(2, byte(dst), byte(base)))
	if base&7 == 4 { // RSP/R12 as base needs a trivial SIB byte
		a.emit(0x24)
	}
	a.emit(disp32Bytes(disp)...)
}

// movMemReg64 emits MOV [base+disp32], src.
func (a *asm) movMemReg64(base xreg, disp int32, src xreg) {
	a.emit(rex(true, src >= 8, false, base >= 8), 0x89, modrm(2, byte(src), byte(base)))
	if base&7 == 4 {
		a.emit(0x24)
	}
	a.emit(disp32Bytes(disp)...)
}

// The 32-bit arithmetic group below operates on the low 32 bits of a slot
// that otherwise always holds a sign-extended 64-bit copy of an i32; each
// is followed by movsxdRegReg to restore that invariant in the result.

func (a *asm) addRegReg32(dst, src xreg) {
	a.maybeRex32(dst, src)
	a.emit(0x01, modrm(3, byte(src), byte(dst)))
}

func (a *asm) subRegReg32(dst, src xreg) {
	a.maybeRex32(dst, src)
	a.emit(0x29, modrm(3, byte(src), byte(dst)))
}

func (a *asm) imulRegReg32(dst, src xreg) {
	a.maybeRex32(dst, src)
	a.emit(0x0F, 0xAF, modrm(3, byte(dst), byte(src)))
}

func (a *asm) negReg32(r xreg) {
	if r >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xF7, modrm(3, 3, byte(r)))
}

func (a *asm) cmpRegReg32(a1, a2 xreg) {
	a.maybeRex32(a1, a2)
	a.emit(0x39, modrm(3, byte(a2), byte(a1)))
}

func (a *asm) maybeRex32(dst, src xreg) {
	if dst >= 8 || src >= 8 {
		a.emit(rex(false, src >= 8, false, dst >= 8))
	}
}

// movsxdRegReg sign-extends the low 32 bits of src into the full 64 bits
// of dst.
func (a *asm) movsxdRegReg(dst, src xreg) {
	a.emit(rex(true, dst >= 8, false, src >= 8), 0x63, modrm(3, byte(dst), byte(src)))
}

// andRegImm32 emits AND dst, imm32. Like every 32-bit-operand-size amd64
// instruction, this implicitly zeroes the high 32 bits of dst, which is
// what IRBox/IRUnboxI32 rely on to isolate a clean low-32-bit payload.
func (a *asm) andRegImm32(dst xreg, imm uint32) {
	if dst >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x81, modrm(3, 4, byte(dst)))
	a.emit(disp32Bytes(int32(imm))...)
}

// orRegImm64 emits OR dst, imm64 via a scratch MOVABS+OR-reg sequence
// (there is no OR r/m64, imm64 encoding on amd64).
func (a *asm) orRegImm64(dst xreg, imm uint64, scratch xreg) {
	a.movRegImm64(scratch, imm)
	a.emit(rex(true, scratch >= 8, false, dst >= 8), 0x09, modrm(3, byte(scratch), byte(dst)))
}

// setccToReg emits SETcc AL for the given CmpKind, then movzx's it into dst.
func (a *asm) setccToReg(dst xreg, kind CmpKind) {
	var cc byte
	switch kind {
	case CmpEq:
		cc = 0x94
	case CmpNe:
		cc = 0x95
	case CmpLt:
		cc = 0x9C
	case CmpLe:
		cc = 0x9E
	case CmpGt:
		cc = 0x9F
	case CmpGe:
		cc = 0x9D
	}
	a.emit(0x0F, cc, modrm(3, 0, 0)) // SETcc AL
	// MOVZX dst, AL
	a.emit(rex(true, dst >= 8, false, false), 0x0F, 0xB6, modrm(3, byte(dst), 0))
}

// testReg32 emits TEST r, r (sets ZF from r's low 32 bits).
func (a *asm) testReg32(r xreg) {
	a.maybeRex32(r, r)
	a.emit(0x85, modrm(3, byte(r), byte(r)))
}

type jumpKind int

const (
	jmpAlways jumpKind = iota
	jmpIfNotZero
)

// patch records a forward/backward jump whose rel32 is filled in once
// every block's final offset is known.
type patch struct {
	at     int // offset of the rel32 field itself
	target BlockID
}

func (a *asm) jmpRel32Placeholder(kind jumpKind) int {
	switch kind {
	case jmpIfNotZero:
		a.emit(0x0F, 0x85) // JNZ rel32
	default:
		a.emit(0xE9) // JMP rel32
	}
	at := a.pos()
	a.emit(0, 0, 0, 0)
	return at
}

func (a *asm) patchRel32(at, target int) {
	rel := int32(target - (at + 4))
	b := disp32Bytes(rel)
	copy(a.code[at:at+4], b)
}

func (a *asm) ret() { a.emit(0xC3) }

// codegenFunc emits amd64 machine code for fn's SSA form following the
// native entry ABI callNative's trampoline establishes: RDI=argsPtr (ignored
// here; invokeNative has already copied it into locals before the call),
// RSI=argCount (ignored), RDX=localsPtr, RCX=localCount (ignored), R8=ctx
// (ignored), returning a boxed Value in RAX.
//
// Every SSA register gets its own 8-byte stack slot (no register
// allocation): a baseline tier trades code quality for a codegen simple
// enough to hand-verify without a toolchain to check it against.
func codegenFunc(fn *Func) ([]byte, map[BlockID]int, error) {
	frameSlots := fn.NextReg
	if frameSlots == 0 {
		frameSlots = 1
	}
	frameSize := int32(((frameSlots*8 + 15) / 16) * 16)

	a := &asm{}
	blockOffset := make(map[BlockID]int, len(fn.Blocks))
	var patches []patch

	slot := func(r Reg) int32 { return -8 * int32(r.ID+1) }

	// Prologue: push rbp; mov rbp, rsp; sub rsp, frameSize; push r12; mov r12, rdx.
	a.emit(0x55)
	a.movRegReg64(xBP, xSP)
	a.emit(0x48, 0x81, 0xEC)
	a.emit(disp32Bytes(frameSize)...)
	a.emit(0x41, 0x54) // push r12
	a.movRegReg64(localsBaseReg, xDX)

	epilogue := func() {
		a.emit(0x41, 0x5C) // pop r12
		a.emit(0x48, 0x81, 0xC4)
		a.emit(disp32Bytes(frameSize)...)
		a.emit(0x5D) // pop rbp
		a.ret()
	}

	for _, blk := range fn.Blocks {
		blockOffset[blk.ID] = a.pos()
		if err := codegenBlock(a, fn, blk, slot, epilogue, &patches); err != nil {
			return nil, nil, err
		}
	}

	for _, p := range patches {
		target, ok := blockOffset[p.target]
		if !ok {
			return nil, nil, fmt.Errorf("jit: codegen %s: unresolved branch target block %d", fn.Name, p.target)
		}
		a.patchRel32(p.at, target)
	}

	return a.code, blockOffset, nil
}

func codegenBlock(a *asm, fn *Func, blk *Block, slot func(Reg) int32, epilogue func(), patches *[]patch) error {
	if len(blk.Phis) > 0 {
		return fmt.Errorf("jit: codegen %s: block %d has phis, which this baseline codegen does not yet materialize (only single-predecessor control flow is supported)", fn.Name, blk.ID)
	}

	load := func(dst xreg, r Reg) { a.movRegMem64(dst, xBP, slot(r)) }
	store := func(r Reg, src xreg) { a.movMemReg64(xBP, slot(r), src) }

	for _, ins := range blk.Instrs {
		switch ins.Op {
		case IRConstI32:
			a.movRegImm64(xAX, uint64(uint32(int32(ins.I32Const))) & 0xFFFFFFFF)
			a.movsxdRegReg(xAX, xAX)
			store(ins.Result, xAX)

		case IRLoadLocal:
			a.movRegMem64(xAX, localsBaseReg, int32(ins.Slot*8))
			store(ins.Result, xAX)

		case IRStoreLocal:
			load(xAX, ins.Args[0])
			a.movMemReg64(localsBaseReg, int32(ins.Slot*8), xAX)

		case IRBox:
			src := ins.Args[0]
			load(xAX, src)
			a.andRegImm32(xAX, 0xFFFFFFFF)
			tag := uint64(2) // TagI32
			if src.Type == TypeBool {
				tag = 1 // TagBool
			}
			a.orRegImm64(xAX, qnanBoxHeader(tag), xCX)
			store(ins.Result, xAX)

		case IRUnboxI32:
			load(xAX, ins.Args[0])
			a.andRegImm32(xAX, 0xFFFFFFFF)
			a.movsxdRegReg(xAX, xAX)
			store(ins.Result, xAX)

		case IRIAdd, IRISub, IRIMul:
			load(xAX, ins.Args[0])
			load(xCX, ins.Args[1])
			switch ins.Op {
			case IRIAdd:
				a.addRegReg32(xAX, xCX)
			case IRISub:
				a.subRegReg32(xAX, xCX)
			case IRIMul:
				a.imulRegReg32(xAX, xCX)
			}
			a.movsxdRegReg(xAX, xAX)
			store(ins.Result, xAX)

		case IRINeg:
			load(xAX, ins.Args[0])
			a.negReg32(xAX)
			a.movsxdRegReg(xAX, xAX)
			store(ins.Result, xAX)

		case IRICmp:
			load(xAX, ins.Args[0])
			load(xCX, ins.Args[1])
			a.cmpRegReg32(xAX, xCX)
			a.setccToReg(xAX, CmpKind(ins.Slot))
			store(ins.Result, xAX)

		default:
			return fmt.Errorf("jit: codegen %s: unsupported IR op %d in block %d", fn.Name, ins.Op, blk.ID)
		}
	}

	switch t := blk.Terminator.(type) {
	case TermReturn:
		if t.Value != nil {
			load(xAX, *t.Value)
		} else {
			a.movRegImm64(xAX, nullBoxed())
		}
		epilogue()
	case TermJump:
		if t.Target.ID != blk.ID+1 {
			at := a.jmpRel32Placeholder(jmpAlways)
			*patches = append(*patches, patch{at: at, target: t.Target.ID})
		}
	case TermBranch:
		load(xAX, t.Cond)
		a.testReg32(xAX)
		at := a.jmpRel32Placeholder(jmpIfNotZero)
		*patches = append(*patches, patch{at: at, target: t.Then.ID})
		if t.Else.ID != blk.ID+1 {
			at2 := a.jmpRel32Placeholder(jmpAlways)
			*patches = append(*patches, patch{at: at2, target: t.Else.ID})
		}
	default:
		return fmt.Errorf("jit: codegen %s: unsupported terminator in block %d", fn.Name, blk.ID)
	}
	return nil
}

// qnanBoxHeader computes the fixed upper bits package value's box() sets
// for the given tag: the canonical quiet-NaN sentinel OR'd with tag<<48.
// Duplicated here (rather than imported) because value.box is unexported
// and the bit pattern is a stable wire-level fact this codegen must match
// exactly, not an API it calls at runtime — there is no Go call instruction
// available mid-expression in generated machine code.
func qnanBoxHeader(tag uint64) uint64 {
	const qnanPattern uint64 = 0x7FF8_0000_0000_0000
	const tagShift = 48
	return qnanPattern | (tag << tagShift)
}

// nullBoxed is value.Null's bit pattern (TagNull = 0, payload 0).
func nullBoxed() uint64 { return qnanBoxHeader(0) }

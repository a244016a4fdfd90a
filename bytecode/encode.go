package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Assembler builds a single function's instruction stream, resolving
// forward jump references the same way the teacher's codegen.Generator
// resolves forward block references: labels are declared once and every
// jump to an as-yet-undeclared label is queued as a patch, applied when
// Finish runs.
type Assembler struct {
	code    []byte
	labels  map[string]int
	patches []patch
}

type patch struct {
	offset int // offset of the i32 operand to patch
	instrEnd int // byte offset immediately after the instruction, for relative addressing
	label  string
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Offset returns the current end-of-stream offset, i.e. where the next
// emitted instruction will start.
func (a *Assembler) Offset() int { return len(a.code) }

// Label binds name to the current offset.
func (a *Assembler) Label(name string) {
	a.labels[name] = len(a.code)
}

func (a *Assembler) emitOp(op Op) {
	a.code = append(a.code, byte(op))
}

// Emit0 appends a zero-operand instruction.
func (a *Assembler) Emit0(op Op) {
	a.emitOp(op)
}

// Emit16 appends an instruction with a u16 operand.
func (a *Assembler) Emit16(op Op, v uint16) {
	a.emitOp(op)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	a.code = append(a.code, b[:]...)
}

// Emit32 appends an instruction with a u32 operand.
func (a *Assembler) Emit32(op Op, v uint32) {
	a.emitOp(op)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.code = append(a.code, b[:]...)
}

// EmitI32 appends an instruction with an i32 operand (ConstI32).
func (a *Assembler) EmitI32(op Op, v int32) {
	a.Emit32(op, uint32(v))
}

// EmitF64 appends an instruction with an f64 operand (ConstF64).
func (a *Assembler) EmitF64(op Op, v float64) {
	a.emitOp(op)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	a.code = append(a.code, b[:]...)
}

// Emit32_16 appends a (u32, u16) operand instruction: Call/CallMethod/
// CallConstructor/CallSuper/CallStatic/ObjectLiteral/Spawn/MakeClosure/
// TupleLiteral.
func (a *Assembler) Emit32_16(op Op, idx uint32, count uint16) {
	a.emitOp(op)
	var b [6]byte
	binary.LittleEndian.PutUint32(b[:4], idx)
	binary.LittleEndian.PutUint16(b[4:], count)
	a.code = append(a.code, b[:]...)
}

// Emit32_32 appends a (u32, u32) operand instruction: ArrayLiteral.
func (a *Assembler) Emit32_32(op Op, a1, a2 uint32) {
	a.emitOp(op)
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:4], a1)
	binary.LittleEndian.PutUint32(b[4:], a2)
	a.code = append(a.code, b[:]...)
}

// EmitNativeCall appends a NativeCall/ModuleNativeCall instruction: u16 id
// + u8 argCount.
func (a *Assembler) EmitNativeCall(op Op, id uint16, argc uint8) {
	a.emitOp(op)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], id)
	a.code = append(a.code, b[0], b[1], argc)
}

// EmitTry appends a Try instruction with catch/finally offsets relative to
// the byte immediately following the instruction; -1 means "absent".
func (a *Assembler) EmitTry(catchOffset, finallyOffset int32) {
	a.emitOp(Try)
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:4], uint32(catchOffset))
	binary.LittleEndian.PutUint32(b[4:], uint32(finallyOffset))
	a.code = append(a.code, b[:]...)
}

// EmitJump appends a jump instruction targeting label, patched once the
// label's offset is known (forward references allowed).
func (a *Assembler) EmitJump(op Op, label string) {
	a.emitOp(op)
	operandOffset := len(a.code)
	a.code = append(a.code, 0, 0, 0, 0)
	a.patches = append(a.patches, patch{offset: operandOffset, instrEnd: operandOffset + 4, label: label})
}

// Finish resolves all pending jump patches and returns the assembled code.
// It returns an error naming the first undefined label, mirroring the
// teacher codegen's "undefined label" failure mode.
func (a *Assembler) Finish() ([]byte, error) {
	for _, p := range a.patches {
		target, ok := a.labels[p.label]
		if !ok {
			return nil, fmt.Errorf("bytecode: undefined label %q", p.label)
		}
		rel := int32(target - p.instrEnd)
		binary.LittleEndian.PutUint32(a.code[p.offset:p.offset+4], uint32(rel))
	}
	return a.code, nil
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"math"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

func (m *Machine) execLoadConst(op bytecode.Op, operand []byte) (StepStatus, value.Value, bool, error) {
	idx := le32(operand)
	if op == bytecode.ConstStr {
		s, ok := m.Consts.GetString(idx)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "constant string index %d out of range", idx)
		}
		m.push(pushString(m, s))
		return StatusRunning, value.Null, true, nil
	}
	// LoadConst indexes the unified pool view: strings first, then numbers
	// (bytecode.ConstantPool.Size's documented layout).
	if s, ok := m.Consts.GetString(idx); ok {
		m.push(pushString(m, s))
		return StatusRunning, value.Null, true, nil
	}
	if n, ok := m.Consts.GetNumber(idx - uint32(len(m.Consts.Strings))); ok {
		m.push(value.FromFloat(n))
		return StatusRunning, value.Null, true, nil
	}
	return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "constant pool index %d out of range", idx)
}

func (m *Machine) execLoadLocal(f *Frame, idx int) (StepStatus, value.Value, bool, error) {
	if idx < 0 || f.LocalsBase+idx >= f.StackBase {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "local slot %d out of range", idx)
	}
	m.push(m.stack[f.LocalsBase+idx])
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStoreLocal(f *Frame, idx int) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if idx < 0 || f.LocalsBase+idx >= f.StackBase {
		return 0, value.Null, false, rerr.New(rerr.KindRangeError, "local slot %d out of range", idx)
	}
	m.stack[f.LocalsBase+idx] = v
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) popInts() (int32, int32, error) {
	b, err := m.pop()
	if err != nil {
		return 0, 0, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, 0, err
	}
	if a.IsFloat() || a.Tag() != value.TagI32 || b.IsFloat() || b.Tag() != value.TagI32 {
		return 0, 0, rerr.New(rerr.KindTypeError, "integer operator applied to non-i32 operand")
	}
	return value.I32(a), value.I32(b), nil
}

func (m *Machine) execIntBinOp(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	a, b, err := m.popInts()
	if err != nil {
		return 0, value.Null, false, err
	}
	var r int32
	switch op {
	case bytecode.Iadd:
		r = a + b
	case bytecode.Isub:
		r = a - b
	case bytecode.Imul:
		r = a * b
	case bytecode.Idiv:
		if b == 0 {
			return 0, value.Null, false, rerr.New(rerr.KindRangeError, "integer division by zero")
		}
		r = a / b
	case bytecode.Imod:
		if b == 0 {
			return 0, value.Null, false, rerr.New(rerr.KindRangeError, "integer modulo by zero")
		}
		r = a % b
	case bytecode.Ipow:
		r = ipow(a, b)
	case bytecode.Ishl:
		r = a << (uint32(b) & 31)
	case bytecode.Ishr:
		r = a >> (uint32(b) & 31)
	case bytecode.Iushr:
		r = int32(uint32(a) >> (uint32(b) & 31))
	case bytecode.Iand:
		r = a & b
	case bytecode.Ior:
		r = a | b
	case bytecode.Ixor:
		r = a ^ b
	}
	m.push(value.FromI32(r))
	return StatusRunning, value.Null, true, nil
}

func ipow(base, exp int32) int32 {
	if exp < 0 {
		return 0
	}
	r := int32(1)
	for i := int32(0); i < exp; i++ {
		r *= base
	}
	return r
}

func (m *Machine) execIntUnOp(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if v.IsFloat() || v.Tag() != value.TagI32 {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "integer operator applied to non-i32 operand")
	}
	n := value.I32(v)
	if op == bytecode.Ineg {
		m.push(value.FromI32(-n))
	} else {
		m.push(value.FromI32(^n))
	}
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) popFloats() (float64, float64, error) {
	b, err := m.pop()
	if err != nil {
		return 0, 0, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, 0, err
	}
	if !a.IsFloat() || !b.IsFloat() {
		return 0, 0, rerr.New(rerr.KindTypeError, "float operator applied to non-float operand")
	}
	return a.Float(), b.Float(), nil
}

func (m *Machine) execFloatBinOp(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	a, b, err := m.popFloats()
	if err != nil {
		return 0, value.Null, false, err
	}
	var r float64
	switch op {
	case bytecode.Fadd:
		r = a + b
	case bytecode.Fsub:
		r = a - b
	case bytecode.Fmul:
		r = a * b
	case bytecode.Fdiv:
		r = a / b
	case bytecode.Fpow:
		r = fpow(a, b)
	case bytecode.Fmod:
		r = fmod(a, b)
	}
	m.push(value.FromFloat(r))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execFloatUnOp(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if !v.IsFloat() {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "float operator applied to non-float operand")
	}
	m.push(value.FromFloat(-v.Float()))
	return StatusRunning, value.Null, true, nil
}

// execDynBinOp implements spec §4.3's Nadd/.../Nmod coerce-then-operate
// family: int-int stays int (wrapping), any float operand promotes to
// float, and + additionally concatenates when either side is a string.
func (m *Machine) execDynBinOp(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	b, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}

	if op == bytecode.Nadd {
		if as, aok := mustString(m.Heap, a); aok {
			m.push(pushString(m, as+m.toDisplayString(b)))
			return StatusRunning, value.Null, true, nil
		}
		if bs, bok := mustString(m.Heap, b); bok {
			m.push(pushString(m, m.toDisplayString(a)+bs))
			return StatusRunning, value.Null, true, nil
		}
	}

	aIsInt := !a.IsFloat() && a.Tag() == value.TagI32
	bIsInt := !b.IsFloat() && b.Tag() == value.TagI32
	if aIsInt && bIsInt {
		ai, bi := value.I32(a), value.I32(b)
		var r int32
		switch op {
		case bytecode.Nadd:
			r = ai + bi
		case bytecode.Nsub:
			r = ai - bi
		case bytecode.Nmul:
			r = ai * bi
		case bytecode.Ndiv:
			if bi == 0 {
				return 0, value.Null, false, rerr.New(rerr.KindRangeError, "integer division by zero")
			}
			r = ai / bi
		case bytecode.Nmod:
			if bi == 0 {
				return 0, value.Null, false, rerr.New(rerr.KindRangeError, "integer modulo by zero")
			}
			r = ai % bi
		}
		m.push(value.FromI32(r))
		return StatusRunning, value.Null, true, nil
	}

	af, aok := numericFloat(a)
	bf, bok := numericFloat(b)
	if !aok || !bok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "arithmetic operator applied to non-numeric value")
	}
	var r float64
	switch op {
	case bytecode.Nadd:
		r = af + bf
	case bytecode.Nsub:
		r = af - bf
	case bytecode.Nmul:
		r = af * bf
	case bytecode.Ndiv:
		r = af / bf
	case bytecode.Nmod:
		r = fmod(af, bf)
	}
	m.push(value.FromFloat(r))
	return StatusRunning, value.Null, true, nil
}

func numericFloat(v value.Value) (float64, bool) {
	if v.IsFloat() {
		return v.Float(), true
	}
	switch v.Tag() {
	case value.TagI32:
		return float64(value.I32(v)), true
	case value.TagU32:
		return float64(value.U32(v)), true
	case value.TagU64:
		return float64(value.U64(v)), true
	}
	return 0, false
}

func fpow(a, b float64) float64 {
	r := 1.0
	if b == 0 {
		return 1
	}
	neg := b < 0
	n := int(b)
	if float64(n) != b {
		return math.Pow(a, b)
	}
	if neg {
		n = -n
	}
	for i := 0; i < n; i++ {
		r *= a
	}
	if neg {
		return 1 / r
	}
	return r
}

func fmod(a, b float64) float64 {
	return math.Mod(a, b)
}

func (m *Machine) execIntCompare(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	a, b, err := m.popInts()
	if err != nil {
		return 0, value.Null, false, err
	}
	var r bool
	switch op {
	case bytecode.Ieq:
		r = a == b
	case bytecode.Ine:
		r = a != b
	case bytecode.Ilt:
		r = a < b
	case bytecode.Ile:
		r = a <= b
	case bytecode.Igt:
		r = a > b
	case bytecode.Ige:
		r = a >= b
	}
	m.push(value.FromBool(r))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execFloatCompare(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	a, b, err := m.popFloats()
	if err != nil {
		return 0, value.Null, false, err
	}
	var r bool
	switch op {
	case bytecode.Feq:
		r = a == b
	case bytecode.Fne:
		r = a != b
	case bytecode.Flt:
		r = a < b
	case bytecode.Fle:
		r = a <= b
	case bytecode.Fgt:
		r = a > b
	case bytecode.Fge:
		r = a >= b
	}
	m.push(value.FromBool(r))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execGenericEquals(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	b, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	eq := looseEquals(m, a, b)
	if op == bytecode.Ne {
		eq = !eq
	}
	m.push(value.FromBool(eq))
	return StatusRunning, value.Null, true, nil
}

func looseEquals(m *Machine, a, b value.Value) bool {
	if as, aok := mustString(m.Heap, a); aok {
		if bs, bok := mustString(m.Heap, b); bok {
			return as == bs
		}
	}
	af, aok := numericFloat(a)
	bf, bok := numericFloat(b)
	if aok && bok {
		return af == bf
	}
	return a.StrictEquals(b)
}

func (m *Machine) execStrictEquals(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	b, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	eq := a.StrictEquals(b)
	if op == bytecode.StrictNe {
		eq = !eq
	}
	m.push(value.FromBool(eq))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execLogical(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	b, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	if op == bytecode.And {
		m.push(value.FromBool(truthy(a) && truthy(b)))
	} else {
		m.push(value.FromBool(truthy(a) || truthy(b)))
	}
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execStringBinOp(op bytecode.Op) (StepStatus, value.Value, bool, error) {
	b, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	a, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	as, aok := mustString(m.Heap, a)
	bs, bok := mustString(m.Heap, b)
	if !aok || !bok {
		return 0, value.Null, false, rerr.New(rerr.KindTypeError, "string operator applied to non-string operand")
	}
	if op == bytecode.Sconcat {
		m.push(pushString(m, as+bs))
		return StatusRunning, value.Null, true, nil
	}
	var r bool
	switch op {
	case bytecode.Seq:
		r = as == bs
	case bytecode.Sne:
		r = as != bs
	case bytecode.Slt:
		r = as < bs
	case bytecode.Sle:
		r = as <= bs
	case bytecode.Sgt:
		r = as > bs
	case bytecode.Sge:
		r = as >= bs
	}
	m.push(value.FromBool(r))
	return StatusRunning, value.Null, true, nil
}

func (m *Machine) execCondJump(op bytecode.Op, operand []byte, f *Frame) (StepStatus, value.Value, bool, error) {
	v, err := m.pop()
	if err != nil {
		return 0, value.Null, false, err
	}
	var take bool
	switch op {
	case bytecode.JmpIfFalse:
		take = !truthy(v)
	case bytecode.JmpIfTrue:
		take = truthy(v)
	case bytecode.JmpIfNull:
		take = v.IsNull()
	case bytecode.JmpIfNotNull:
		take = !v.IsNull()
	}
	if take {
		f.PC = jumpTarget(f.PC, operand)
		return StatusRunning, value.Null, false, nil
	}
	f.PC = f.PC + 1 + len(operand)
	return StatusRunning, value.Null, false, nil
}

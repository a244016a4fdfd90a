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
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

// Run drives Step until the task returns, throws uncaught, or suspends.
// limit bounds how many instructions a single Run call executes before
// yielding control back to its caller even if still StatusRunning (a
// cooperative tick boundary the scheduler's safepoint poll relies on); 0
// means unbounded.
func (m *Machine) Run(limit int) (StepStatus, value.Value, error) {
	for i := 0; limit == 0 || i < limit; i++ {
		status, result, err := m.Step()
		if status != StatusRunning || err != nil {
			return status, result, err
		}
	}
	return StatusRunning, value.Null, nil
}

// Step executes exactly one instruction (or, for Call/Return, performs the
// frame transition as a unit) and reports what happened.
func (m *Machine) Step() (StepStatus, value.Value, error) {
	op, f, err := m.fetchOp()
	if err != nil {
		return StatusThrown, value.Null, err
	}
	width := op.OperandSize()
	operand := f.Func.Code[f.PC+1 : f.PC+1+width]
	next := f.PC + 1 + width

	status, result, advance, err := m.exec(op, operand, f, next)
	if err != nil {
		st, rerr2 := m.raiseError(err)
		if rerr2 != nil {
			return StatusThrown, value.Null, rerr2
		}
		return st, value.Null, nil
	}
	if advance {
		f.PC = next
	}
	return status, result, nil
}

// exec dispatches a single decoded instruction. advance reports whether
// Step should move PC to the instruction's successor; opcodes that already
// set PC themselves (jumps, calls, returns, handler transfers) report
// false.
func (m *Machine) exec(op bytecode.Op, operand []byte, f *Frame, next int) (status StepStatus, result value.Value, advance bool, err error) {
	switch op {
	case bytecode.Nop, bytecode.Debugger:
		return StatusRunning, value.Null, true, nil

	case bytecode.Pop:
		_, err := m.pop()
		return StatusRunning, value.Null, true, err

	case bytecode.Dup:
		v, err := m.peek()
		if err != nil {
			return 0, value.Null, false, err
		}
		m.push(v)
		return StatusRunning, value.Null, true, nil

	case bytecode.Swap:
		a, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		b, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		m.push(a)
		m.push(b)
		return StatusRunning, value.Null, true, nil

	case bytecode.ConstNull:
		m.push(value.Null)
		return StatusRunning, value.Null, true, nil
	case bytecode.ConstTrue:
		m.push(value.True)
		return StatusRunning, value.Null, true, nil
	case bytecode.ConstFalse:
		m.push(value.False)
		return StatusRunning, value.Null, true, nil
	case bytecode.ConstI32:
		m.push(value.FromI32(int32(le32(operand))))
		return StatusRunning, value.Null, true, nil
	case bytecode.ConstF64:
		m.push(value.FromFloat(math.Float64frombits(le64(operand))))
		return StatusRunning, value.Null, true, nil
	case bytecode.ConstStr, bytecode.LoadConst:
		return m.execLoadConst(op, operand)

	case bytecode.LoadLocal:
		return m.execLoadLocal(f, int(le16(operand)))
	case bytecode.LoadLocal0:
		return m.execLoadLocal(f, 0)
	case bytecode.LoadLocal1:
		return m.execLoadLocal(f, 1)
	case bytecode.StoreLocal:
		return m.execStoreLocal(f, int(le16(operand)))
	case bytecode.StoreLocal0:
		return m.execStoreLocal(f, 0)
	case bytecode.StoreLocal1:
		return m.execStoreLocal(f, 1)

	case bytecode.Iadd, bytecode.Isub, bytecode.Imul, bytecode.Idiv, bytecode.Imod,
		bytecode.Ipow, bytecode.Ishl, bytecode.Ishr, bytecode.Iushr,
		bytecode.Iand, bytecode.Ior, bytecode.Ixor:
		return m.execIntBinOp(op)
	case bytecode.Ineg, bytecode.Inot:
		return m.execIntUnOp(op)

	case bytecode.Fadd, bytecode.Fsub, bytecode.Fmul, bytecode.Fdiv, bytecode.Fpow, bytecode.Fmod:
		return m.execFloatBinOp(op)
	case bytecode.Fneg:
		return m.execFloatUnOp(op)

	case bytecode.Nadd, bytecode.Nsub, bytecode.Nmul, bytecode.Ndiv, bytecode.Nmod:
		return m.execDynBinOp(op)
	case bytecode.Nneg:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		if v.IsFloat() {
			m.push(value.FromFloat(-v.Float()))
		} else if v.Tag() == value.TagI32 {
			m.push(value.FromI32(-value.I32(v)))
		} else {
			return 0, value.Null, false, rerr.New(rerr.KindTypeError, "unary - on non-numeric value")
		}
		return StatusRunning, value.Null, true, nil

	case bytecode.Ieq, bytecode.Ine, bytecode.Ilt, bytecode.Ile, bytecode.Igt, bytecode.Ige:
		return m.execIntCompare(op)
	case bytecode.Feq, bytecode.Fne, bytecode.Flt, bytecode.Fle, bytecode.Fgt, bytecode.Fge:
		return m.execFloatCompare(op)

	case bytecode.Eq, bytecode.Ne:
		return m.execGenericEquals(op)
	case bytecode.StrictEq, bytecode.StrictNe:
		return m.execStrictEquals(op)
	case bytecode.Not:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		m.push(value.FromBool(!truthy(v)))
		return StatusRunning, value.Null, true, nil
	case bytecode.And, bytecode.Or:
		return m.execLogical(op)
	case bytecode.Typeof:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		addr, _ := m.Heap.Strings().Intern(m.Heap, v.TypeOf())
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil

	case bytecode.Sconcat, bytecode.Seq, bytecode.Sne, bytecode.Slt, bytecode.Sle, bytecode.Sgt, bytecode.Sge:
		return m.execStringBinOp(op)
	case bytecode.Slen:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		s, ok := mustString(m.Heap, v)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindTypeError, "SLEN on non-string value")
		}
		m.push(value.FromI32(int32(len(s))))
		return StatusRunning, value.Null, true, nil
	case bytecode.ToString:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		m.push(pushString(m, m.toDisplayString(v)))
		return StatusRunning, value.Null, true, nil

	case bytecode.Jmp:
		f.PC = jumpTarget(f.PC, operand)
		return StatusRunning, value.Null, false, nil
	case bytecode.JmpIfFalse, bytecode.JmpIfTrue, bytecode.JmpIfNull, bytecode.JmpIfNotNull:
		return m.execCondJump(op, operand, f)

	case bytecode.Call, bytecode.CallStatic:
		return m.execCall(operand, f, next)
	case bytecode.CallMethod:
		return m.execCallMethod(operand, f, next)
	case bytecode.CallConstructor, bytecode.CallSuper:
		return m.execCallConstructor(operand, f, next)
	case bytecode.Return:
		return m.execReturn()
	case bytecode.ReturnVoid:
		m.push(value.Null)
		return m.execReturn()

	case bytecode.New:
		classID := le32(operand)
		class, ok := m.Heap.Classes().Get(classID)
		if !ok {
			return 0, value.Null, false, rerr.New(rerr.KindReferenceError, "unknown class id %d", classID)
		}
		addr := m.Heap.Alloc(heap.NewInstance(classID, class.FieldCount))
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil

	case bytecode.LoadField, bytecode.LoadFieldFast, bytecode.OptionalField:
		return m.execLoadField(le16(operand), op == bytecode.OptionalField)
	case bytecode.StoreField, bytecode.StoreFieldFast:
		return m.execStoreField(le16(operand))
	case bytecode.ObjectLiteral:
		return m.execObjectLiteral(operand)
	case bytecode.InitObject:
		return m.execInitFields(le16(operand))
	case bytecode.LoadStatic:
		return m.execLoadStatic(f, le32(operand))
	case bytecode.StoreStatic:
		return m.execStoreStatic(f, le32(operand))

	case bytecode.NewArray:
		n := int(le32(operand))
		addr := m.Heap.Alloc(heap.NewArray(n))
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil
	case bytecode.LoadElem:
		return m.execLoadElem()
	case bytecode.StoreElem:
		return m.execStoreElem()
	case bytecode.ArrayLen:
		return m.execArrayLen()
	case bytecode.ArrayLiteral:
		return m.execArrayLiteral(operand)
	case bytecode.InitArray:
		return m.execInitArray(le16(operand))
	case bytecode.ArrayPush:
		return m.execArrayPush()
	case bytecode.ArrayPop:
		return m.execArrayPop()
	case bytecode.TupleLiteral:
		return m.execTupleLiteral(operand) // tuples share the Array backing store
	case bytecode.InitTuple:
		return m.execInitArray(le16(operand))
	case bytecode.TupleGet:
		return m.execLoadElem()

	case bytecode.NewRefCell:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		addr := m.Heap.Alloc(heap.NewRefCell(v))
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil
	case bytecode.LoadRefCell:
		return m.execLoadRefCell()
	case bytecode.StoreRefCell:
		return m.execStoreRefCell()

	case bytecode.MakeClosure:
		return m.execMakeClosure(operand)
	case bytecode.LoadCaptured:
		return m.execLoadCaptured(f, le16(operand))
	case bytecode.StoreCaptured:
		return m.execStoreCaptured(f, le16(operand))
	case bytecode.SetClosureCapture:
		return m.execSetClosureCapture(le16(operand))
	case bytecode.CloseVar:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		m.push(v)
		return StatusRunning, value.Null, true, nil

	case bytecode.LoadGlobal:
		return m.execLoadGlobal(le32(operand))
	case bytecode.StoreGlobal:
		return m.execStoreGlobal(le32(operand))
	case bytecode.LoadModule:
		return m.execLoadGlobal(le32(operand))

	case bytecode.InstanceOf:
		return m.execInstanceOf()
	case bytecode.Cast:
		return m.execCast()

	case bytecode.Throw:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		st, rerr2 := m.raise(v)
		return st, value.Null, false, rerr2
	case bytecode.Try:
		m.execTry(f, operand)
		return StatusRunning, value.Null, true, nil
	case bytecode.EndTry:
		if len(m.handlers) > f.HandlerBase {
			m.handlers = m.handlers[:len(m.handlers)-1]
		}
		return StatusRunning, value.Null, true, nil
	case bytecode.Rethrow:
		if !m.hasException {
			return 0, value.Null, false, rerr.New(rerr.KindInternal, "RETHROW with no pending exception")
		}
		st, rerr2 := m.raise(m.pendingException)
		return st, value.Null, false, rerr2
	case bytecode.Trap:
		return 0, value.Null, false, rerr.New(rerr.KindPanic, "TRAP executed at offset %d", f.PC)

	case bytecode.NativeCall, bytecode.ModuleNativeCall:
		return m.execNativeCall(operand)

	case bytecode.Spawn, bytecode.SpawnClosure:
		return m.execSpawn(op, operand)
	case bytecode.Await:
		return m.execAwait()
	case bytecode.Yield:
		m.BlockReason = BlockNone
		return StatusSuspended, value.Null, false, nil
	case bytecode.Sleep:
		return m.execSleep()
	case bytecode.NewMutex:
		addr := m.Heap.Alloc(heap.NewMutex())
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil
	case bytecode.MutexLock:
		return m.execMutexLock()
	case bytecode.MutexUnlock:
		return m.execMutexUnlock()
	case bytecode.NewSemaphore:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		addr := m.Heap.Alloc(heap.NewSemaphore(int(valueAsFloat(v))))
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil
	case bytecode.SemAcquire:
		return m.execSemAcquire()
	case bytecode.SemRelease:
		return m.execSemRelease()
	case bytecode.NewChannel:
		v, err := m.pop()
		if err != nil {
			return 0, value.Null, false, err
		}
		addr := m.Heap.Alloc(heap.NewChannel(int(valueAsFloat(v))))
		m.push(value.FromPtr(addr))
		return StatusRunning, value.Null, true, nil
	case bytecode.ChannelSend:
		return m.execChannelSend()
	case bytecode.ChannelRecv:
		return m.execChannelRecv()
	case bytecode.WaitAll:
		return m.execWaitAll()
	case bytecode.TaskCancel:
		return m.execTaskCancel()

	case bytecode.JsonGet, bytecode.JsonSet, bytecode.JsonDelete, bytecode.JsonIndex,
		bytecode.JsonIndexSet, bytecode.JsonPush, bytecode.JsonPop, bytecode.JsonNewObject,
		bytecode.JsonNewArray, bytecode.JsonKeys, bytecode.JsonLength:
		return m.execJSON(op, operand)

	default:
		return 0, value.Null, false, rerr.New(rerr.KindInternal, "unimplemented opcode %s", op)
	}
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func jumpTarget(pc int, operand []byte) int {
	off := int32(le32(operand))
	return pc + 1 + len(operand) + int(off)
}

func truthy(v value.Value) bool {
	if v.IsFloat() {
		return v.Float() != 0 && !math.IsNaN(v.Float())
	}
	switch v.Tag() {
	case value.TagNull:
		return false
	case value.TagBool:
		return v.Bool()
	case value.TagI32:
		return value.I32(v) != 0
	case value.TagU32:
		return value.U32(v) != 0
	case value.TagU64:
		return value.U64(v) != 0
	default:
		return true
	}
}

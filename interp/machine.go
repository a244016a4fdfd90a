// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package interp implements the engine's execution loop (spec §4.2): call
// frames drawn from a single per-task Value buffer, the call/return
// protocol, exception unwinding over the Try/EndTry handler stack, and the
// native-call bridge. It generalizes the teacher VM's fetch-decode-execute
// Step loop (lang/vm/vm.go) from a fixed-width register ISA to the
// variable-width stack-oriented ISA of package bytecode.
package interp

import (
	"fmt"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

func rerrStackOverflow(fnName string) error {
	return rerr.New(rerr.KindStackOverflow, "call stack exceeded %d frames calling %s", maxCallDepth, fnName)
}

// BlockReason mirrors the Blocked task-state reasons of spec §3.6.
type BlockReason uint8

const (
	BlockNone BlockReason = iota
	BlockAwaitingTask
	BlockAwaitingMutex
	BlockAwaitingSemaphore
	BlockAwaitingChannelSend
	BlockAwaitingChannelRecv
	BlockSleeping
)

// StepStatus reports what happened after a batch of dispatch.
type StepStatus uint8

const (
	// StatusRunning means the task is still executing; call Run again.
	StatusRunning StepStatus = iota
	// StatusSuspended means the current instruction could not complete
	// without blocking; the scheduler must register the task in the
	// appropriate wait queue (BlockTarget) and retry later by calling Run
	// again once woken. The instruction did not advance PC, so retrying
	// re-attempts the identical operation.
	StatusSuspended
	// StatusReturned means the top-level (task-entry) function returned.
	StatusReturned
	// StatusThrown means an exception propagated past every frame.
	StatusThrown
)

// Host is the narrow interface the interpreter needs from whatever owns
// task lifecycle (the scheduler). It is kept minimal so package interp
// never imports package scheduler: creating and cancelling tasks, and
// knowing which task is running, are outside the interpreter's own authority.
type Host interface {
	// SpawnTask creates a new task running funcID with args and returns the
	// heap address of a fresh TaskHandle for it.
	SpawnTask(funcID uint32, args []value.Value) uint64
	// TaskID returns the id of the task this Machine is currently executing,
	// used to record mutex ownership and self-referential checks.
	TaskID() int64
	// CancelTask requests cancellation of the task identified by taskID
	// (spec §4.4: idempotent, visible at that task's next suspension
	// point). Cancellation flags live on the scheduler's Task, not on the
	// heap.TaskHandle the TASK_CANCEL opcode operates on, so this delegates
	// the same way SpawnTask delegates task creation.
	CancelTask(taskID int64)
}

// handlerEntry is one entry of the exception-handler stack pushed by Try
// and popped by EndTry or by unwinding.
type handlerEntry struct {
	frameIndex   int // index into m.frames this handler belongs to
	catchPC      int // -1 if absent
	finallyPC    int // -1 if absent
	stackDepth   int // operand-stack depth (m.sp) to restore before entering the handler
}

// Frame is a single call's activation record (spec §4.2). The operand stack
// and local slots are both carved out of Machine.stack; a frame records only
// offsets into that shared buffer.
type Frame struct {
	Func        *heap.Function
	PC          int
	LocalsBase  int // first local slot index in Machine.stack
	StackBase   int // first operand-stack slot index (== LocalsBase+LocalCount)
	HandlerBase int // length of Machine.handlers at frame entry
	Closure     *heap.Closure // non-nil when Func's body is being run as a closure invocation
	ClosureAddr uint64        // Closure's heap address, 0 if Closure is nil (spec §4.5 root set R1)
}

// Machine is one task's execution context: its operand stack + locals
// buffer, frame stack, exception-handler stack, and pending-exception slot
// (spec §3.6, §4.2).
type Machine struct {
	stack []value.Value
	sp    int

	frames   []Frame
	handlers []handlerEntry

	pendingException value.Value
	hasException     bool

	Heap    *heap.Heap
	Natives *NativeRegistry
	Host    Host
	Consts  *bytecode.ConstantPool

	builtinClassIDs heap.BuiltinClassIDs
	globals         []value.Value

	// BlockReason/BlockTarget are set by the last Step call that returned
	// StatusSuspended, describing what the task is waiting on.
	BlockReason BlockReason
	BlockTarget uint64
	BlockN      int // permits requested (Semaphore) or sleep deadline (Sleeping), per reason

	// jit/jitThreshold drive spec §4.6's tiering: nil jit means RecordCall
	// is never even consulted, so an engine with no Tiering installed pays
	// nothing beyond the Status() check already needed for the native
	// fast path.
	jit          JitHook
	jitThreshold uint32
}

// NewMachine creates a Machine ready to run entryFn with args as its initial
// arguments. classIDs identifies the builtin Buffer/Map/Set/Date classes
// registered once at process start (heap.RegisterBuiltinClasses), so
// natives that allocate a Buffer (e.g. crypto hash outputs) know which
// class id to stamp on it.
func NewMachine(h *heap.Heap, natives *NativeRegistry, host Host, classIDs heap.BuiltinClassIDs) *Machine {
	return &Machine{
		stack:            make([]value.Value, 0, 256),
		Heap:             h,
		Natives:          natives,
		Host:             host,
		builtinClassIDs:  classIDs,
		pendingException: value.Null,
	}
}

// Reset discards all execution state and begins a fresh call to fn with args.
func (m *Machine) Reset(fn *heap.Function, args []value.Value) error {
	m.stack = m.stack[:0]
	m.sp = 0
	m.frames = m.frames[:0]
	m.handlers = m.handlers[:0]
	m.hasException = false
	m.pendingException = value.Null
	return m.pushCall(fn, args)
}

// Depth returns the current call-frame depth.
func (m *Machine) Depth() int { return len(m.frames) }

// SetConstants binds the constant pool Const*/LoadConst opcodes resolve
// against. Must be called before Reset for any code that references
// constants.
func (m *Machine) SetConstants(c *bytecode.ConstantPool) { m.Consts = c }

// PendingException returns the exception an uncaught Throw left behind
// once Run reports StatusThrown with a nil error. The scheduler reads this
// to populate a terminated task's TaskHandle error slot (spec §3.6: the
// task "terminates in state Completed with an error result").
func (m *Machine) PendingException() value.Value { return m.pendingException }

// Roots returns every heap address directly reachable from this machine's
// live state: the operand stack and locals of every frame on the call
// stack, the pending-exception slot, the per-context global variable
// table, and the captured-closure object of every in-flight frame (spec
// §4.5 root set R1/R2). The result slot (spec R1) needs no separate entry
// here: a quantum's return value only ever lives in a Go-local between Run
// returning and the scheduler storing it on the task's TaskHandle, a window
// with no intervening safepoint. Safe to call only while this task is
// parked at a safepoint, since nothing else may be mutating the stack
// concurrently.
func (m *Machine) Roots() []uint64 {
	var out []uint64
	addPtr := func(v value.Value) {
		if v.IsFloat() || v.Tag() != value.TagPtr {
			return
		}
		if addr := value.Ptr(v); addr != 0 {
			out = append(out, addr)
		}
	}
	for i := 0; i < m.sp; i++ {
		addPtr(m.stack[i])
	}
	addPtr(m.pendingException)
	for _, g := range m.globals {
		addPtr(g)
	}
	for _, f := range m.frames {
		if f.ClosureAddr != 0 {
			out = append(out, f.ClosureAddr)
		}
	}
	return out
}

// HandlerRecord is the snapshot-visible shape of a handlerEntry: the same
// four ints, exported so package snapshot can serialize the
// exception-handler stack without this package exposing handlerEntry
// itself (spec §6.2's per-task "exception-handler stack" field).
type HandlerRecord struct {
	FrameIndex int
	CatchPC    int
	FinallyPC  int
	StackDepth int
}

// Frames returns a copy of the machine's call-frame stack, snapshot-only
// (spec §6.2 per-task "frame stack"); nothing about stepping reads this
// slice back.
func (m *Machine) Frames() []Frame {
	out := make([]Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

// StackSlots returns the live portion of the combined operand-stack/locals
// buffer (spec §6.2 per-task "operand stack"); slots above sp are always
// value.Null and carry no state worth persisting.
func (m *Machine) StackSlots() []value.Value {
	out := make([]value.Value, m.sp)
	copy(out, m.stack[:m.sp])
	return out
}

// Handlers returns a copy of the exception-handler stack.
func (m *Machine) Handlers() []HandlerRecord {
	out := make([]HandlerRecord, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = HandlerRecord{FrameIndex: h.frameIndex, CatchPC: h.catchPC, FinallyPC: h.finallyPC, StackDepth: h.stackDepth}
	}
	return out
}

// Globals returns a copy of the per-context global variable table (spec
// §4.5 root set R2).
func (m *Machine) Globals() []value.Value {
	out := make([]value.Value, len(m.globals))
	copy(out, m.globals)
	return out
}

// RestoreState replaces the machine's entire execution state with
// previously captured values, used only by snapshot restore (spec §6.2):
// the caller is responsible for having rebuilt stack/frames/handlers
// against the same already-loaded module so Frame.Func pointers and
// constant-pool indices resolve identically to how they did at capture
// time.
func (m *Machine) RestoreState(stack []value.Value, frames []Frame, handlers []HandlerRecord, pending value.Value, globals []value.Value) {
	m.stack = make([]value.Value, len(stack))
	copy(m.stack, stack)
	m.sp = len(stack)
	m.frames = make([]Frame, len(frames))
	copy(m.frames, frames)
	m.handlers = make([]handlerEntry, len(handlers))
	for i, h := range handlers {
		m.handlers[i] = handlerEntry{frameIndex: h.FrameIndex, catchPC: h.CatchPC, finallyPC: h.FinallyPC, stackDepth: h.StackDepth}
	}
	m.pendingException = pending
	m.hasException = pending != value.Null
	m.globals = make([]value.Value, len(globals))
	copy(m.globals, globals)
}

func (m *Machine) globalAt(idx uint32) value.Value {
	if int(idx) >= len(m.globals) {
		return value.Null
	}
	return m.globals[idx]
}

func (m *Machine) setGlobal(idx uint32, v value.Value) {
	for int(idx) >= len(m.globals) {
		m.globals = append(m.globals, value.Null)
	}
	m.globals[idx] = v
}

func (m *Machine) ensureCap(n int) {
	for n > len(m.stack) {
		m.stack = append(m.stack, value.Null)
	}
}

func (m *Machine) push(v value.Value) {
	m.ensureCap(m.sp + 1)
	m.stack[m.sp] = v
	m.sp++
}

func (m *Machine) pop() (value.Value, error) {
	if m.sp <= m.currentFrame().StackBase {
		return value.Null, fmt.Errorf("interp: operand stack underflow")
	}
	m.sp--
	v := m.stack[m.sp]
	m.stack[m.sp] = value.Null
	return v, nil
}

func (m *Machine) peek() (value.Value, error) {
	if m.sp <= m.currentFrame().StackBase {
		return value.Null, fmt.Errorf("interp: operand stack underflow")
	}
	return m.stack[m.sp-1], nil
}

// peekAt returns the value `depth` slots below the top (0 is the top
// itself) without popping anything, for opcodes that must inspect more
// than one operand before deciding whether to suspend.
func (m *Machine) peekAt(depth int) (value.Value, error) {
	idx := m.sp - 1 - depth
	if idx < m.currentFrame().StackBase {
		return value.Null, fmt.Errorf("interp: operand stack underflow")
	}
	return m.stack[idx], nil
}

func (m *Machine) currentFrame() *Frame {
	return &m.frames[len(m.frames)-1]
}

// pushCall implements the Call protocol (spec §4.2): captures args from the
// top of the stack (already popped by the caller in the args slice form),
// allocates local_count-n extra slots, and transfers dispatch to the
// callee's entry.
func (m *Machine) pushCall(fn *heap.Function, args []value.Value) error {
	return m.pushCallClosure(fn, args, nil, 0)
}

func (m *Machine) pushCallClosure(fn *heap.Function, args []value.Value, closure *heap.Closure, closureAddr uint64) error {
	if len(m.frames) >= maxCallDepth {
		return rerrStackOverflow(fn.Name)
	}
	if m.jitThreshold > 0 {
		if _, hot := fn.RecordCall(m.jitThreshold); hot && m.jit != nil {
			m.jit.NotifyHot(fn)
		}
	}
	if closure == nil {
		if result, ok, err := m.tryNative(fn, args); err != nil {
			return err
		} else if ok {
			m.push(result)
			return nil
		}
	}
	if len(args) > fn.LocalCount {
		return fmt.Errorf("interp: %s called with %d args but only %d locals", fn.Name, len(args), fn.LocalCount)
	}
	localsBase := m.sp
	m.ensureCap(localsBase + fn.LocalCount)
	for i := 0; i < fn.LocalCount; i++ {
		if i < len(args) {
			m.stack[localsBase+i] = args[i]
		} else {
			m.stack[localsBase+i] = value.Null
		}
	}
	m.sp = localsBase + fn.LocalCount
	m.frames = append(m.frames, Frame{
		Func:        fn,
		PC:          0,
		LocalsBase:  localsBase,
		StackBase:   m.sp,
		HandlerBase: len(m.handlers),
		Closure:     closure,
		ClosureAddr: closureAddr,
	})
	return nil
}

// maxCallDepth bounds recursion depth; exceeding it raises a catchable
// StackOverflow (spec §7) instead of exhausting the Go goroutine stack.
const maxCallDepth = 2000

// popFrame discards the top frame's locals/operand-stack region and any
// handlers it registered, returning to the caller's frame at its StackBase.
func (m *Machine) popFrame() {
	f := m.frames[len(m.frames)-1]
	m.frames = m.frames[:len(m.frames)-1]
	m.handlers = m.handlers[:f.HandlerBase]
	m.sp = f.LocalsBase
}

// fetchOp returns the current instruction's opcode and frame.
func (m *Machine) fetchOp() (bytecode.Op, *Frame, error) {
	f := m.currentFrame()
	if f.PC >= len(f.Func.Code) {
		return 0, f, fmt.Errorf("interp: PC %d past end of %s (%d bytes)", f.PC, f.Func.Name, len(f.Func.Code))
	}
	return bytecode.Op(f.Func.Code[f.PC]), f, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

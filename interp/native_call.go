// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build amd64

package interp

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/value"
)

// NativeContext is the fifth argument of the JIT native ABI (spec §4.6):
// "ctx_ptr exposing GC safepoint poll / exception-raise / native-call
// dispatch / deopt-entry helpers". Package jit's conservative eligible
// subset never emits code that dereferences ctx (no allocation, no call),
// so today it is carried
// purely to keep the calling convention stable for a richer eligible
// subset later; a future codegen pass that does emit safepoint polls or
// deopt traps reads fields added here.
type NativeContext struct {
	fn *heap.Function
}

// callNative is implemented in native_call_amd64.s: a bare ABI0 trampoline
// from Go's stack-based calling convention onto the System V AMD64
// register convention the JIT's generated code expects, per the ABI fixed
// by spec §4.6: fn(args_ptr, arg_count, locals_ptr, local_count, ctx_ptr)
// -> Value. Every argument (and the bare uint64 Value result) is passed as
// a full 8-byte stack slot so the assembly's fixed FP offsets never depend
// on Go's field-packing rules.
func callNative(entry uintptr, argsPtr uintptr, argCount uint64, localsPtr uintptr, localCount uint64, ctx uintptr) uint64

// invokeNative calls a JIT-compiled function's installed native entry
// point directly, bypassing the interpreted call/return protocol entirely.
// args are copied into a locals buffer sized to fn.LocalCount (mirroring
// pushCallClosure's own locals layout) so the compiled code can address
// parameters and locals uniformly.
//
// args and locals are converted to uintptr and handed to a NOSPLIT leaf
// assembly function that performs a single CALL and returns: the calling
// goroutine's stack cannot grow and no Go allocation happens between the
// conversion and the call returning, so there is no window in which the Go
// runtime could move the backing arrays out from under the raw pointers
// (the same invariant the standard library's own syscall.Syscall relies
// on for passing pointers as uintptr). runtime.KeepAlive pins both slices
// against the compiler proving them dead before the call completes.
func invokeNative(fn *heap.Function, entry uintptr, args []value.Value) (value.Value, error) {
	if fn.LocalCount < len(args) {
		return value.Null, fmt.Errorf("interp: native entry for %s called with %d args but only %d locals", fn.Name, len(args), fn.LocalCount)
	}
	locals := make([]value.Value, fn.LocalCount)
	copy(locals, args)
	ctx := &NativeContext{fn: fn}

	var argsPtr, localsPtr uintptr
	if len(args) > 0 {
		argsPtr = uintptr(unsafe.Pointer(&args[0]))
	}
	if len(locals) > 0 {
		localsPtr = uintptr(unsafe.Pointer(&locals[0]))
	}

	ret := callNative(entry, argsPtr, uint64(len(args)), localsPtr, uint64(len(locals)), uintptr(unsafe.Pointer(ctx)))

	runtime.KeepAlive(args)
	runtime.KeepAlive(locals)
	runtime.KeepAlive(ctx)

	return value.Value(ret), nil
}

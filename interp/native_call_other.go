// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build !amd64

package interp

import (
	"fmt"

	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/value"
)

// NativeContext mirrors native_call.go's amd64 definition so code outside
// this file can reference the type regardless of target architecture.
type NativeContext struct {
	fn *heap.Function
}

// invokeNative never succeeds outside amd64: package jit's codegen only
// ever installs a native entry point on an amd64 build (its Ineligible
// fallback reports no native code on every other architecture), so this is
// unreachable in practice rather than a real code path exercised at
// runtime.
func invokeNative(fn *heap.Function, entry uintptr, args []value.Value) (value.Value, error) {
	return value.Null, fmt.Errorf("interp: native entry for %s unsupported on this architecture", fn.Name)
}

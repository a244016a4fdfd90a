// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build !amd64

package jit

import "fmt"

// codegenFunc has no backend on non-amd64 targets: Tiering's Eligible
// check still runs (so a cross-compiled build can be exercised and
// tested), but native compilation always reports ineligible here rather
// than attempting half a backend.
func codegenFunc(fn *Func) ([]byte, map[BlockID]int, error) {
	return nil, nil, fmt.Errorf("jit: native code generation is not implemented on this architecture")
}

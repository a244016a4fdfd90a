// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

// BuildDeoptMap derives the native-pc -> bytecode-pc table installed
// alongside compiled code (heap.Function.InstallNative's deoptMap,
// consulted by DeoptBytecodePC when a deopt trap fires). Granularity is
// per-block rather than per-instruction: each entry maps the native offset
// where a block's code starts to that block's first bytecode offset.
// build.go's resolveEntryStack only requires a block's predecessors to
// agree on the operand-stack depth, not that it be empty, so the map does
// not record any operand-stack contents live at a block entry.
func BuildDeoptMap(fn *Func, cfg *CFG, blockNativeOffsets map[BlockID]int) map[int]int {
	m := make(map[int]int, len(fn.Blocks))
	for i, blk := range fn.Blocks {
		if i >= len(cfg.Blocks) {
			break
		}
		nativeOff, ok := blockNativeOffsets[blk.ID]
		if !ok {
			continue
		}
		m[nativeOff] = cfg.Blocks[i].Start
	}
	return m
}

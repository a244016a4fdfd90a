// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"fmt"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
)

// LoadedModule is a bytecode.Module materialized into a Heap's function and
// class tables: the functions/classes it defines now have stable ids, and
// method slots reference the owning Heap's FunctionTable rather than the
// module's own local indices.
type LoadedModule struct {
	Module    *bytecode.Module
	FuncIDs   []uint32 // module-local function index -> heap function id
	ClassIDs  []uint32 // module-local class index -> heap class id
	Exports   map[string]bytecode.Export
}

// Load decodes a module's functions and classes into h's tables, resolving
// class parent/method references, and returns the id mapping a caller needs
// to invoke an export. Functions are defined first so that class method
// references resolve; a class's ParentID must name a class that precedes
// it in the module, and a forward parent reference is rejected.
func Load(h *heap.Heap, m *bytecode.Module) (*LoadedModule, error) {
	lm := &LoadedModule{Module: m, Exports: make(map[string]bytecode.Export, len(m.Exports))}

	lm.FuncIDs = make([]uint32, len(m.Functions))
	for i, fn := range m.Functions {
		hf := heap.NewFunction(fn.Name, fn.ParamCount, fn.LocalCount, fn.Code)
		lm.FuncIDs[i] = h.Functions().Define(hf)
	}

	lm.ClassIDs = make([]uint32, len(m.Classes))
	for i, cd := range m.Classes {
		var parent *heap.Class
		if cd.ParentID != nil {
			if int(*cd.ParentID) >= len(lm.ClassIDs) || *cd.ParentID >= uint32(i) {
				return nil, fmt.Errorf("interp: class %q has unresolved forward parent reference %d", cd.Name, *cd.ParentID)
			}
			parent, _ = h.Classes().Get(lm.ClassIDs[*cd.ParentID])
		}
		methodSlots := make(map[int]uint32, len(cd.Methods))
		for slot, meth := range cd.Methods {
			if int(meth.FuncIndex) >= len(lm.FuncIDs) {
				return nil, fmt.Errorf("interp: class %q method %q references unknown function %d", cd.Name, meth.Name, meth.FuncIndex)
			}
			methodSlots[slot] = lm.FuncIDs[meth.FuncIndex]
		}
		c := heap.NewClass(0, cd.Name, parent, cd.FieldCount, nil, 0, methodSlots)
		classID := h.Classes().Define(c)
		lm.ClassIDs[i] = classID
		for _, meth := range cd.Methods {
			if fn, ok := h.Functions().Get(lm.FuncIDs[meth.FuncIndex]); ok {
				id := classID
				fn.OwnerClassID = &id
			}
		}
	}

	for _, e := range m.Exports {
		lm.Exports[e.Name] = e
	}
	return lm, nil
}

// ResolveFunc looks up an exported function by name and returns its heap id.
func (lm *LoadedModule) ResolveFunc(name string) (uint32, bool) {
	e, ok := lm.Exports[name]
	if !ok || e.Kind != "function" {
		return 0, false
	}
	if int(e.Index) >= len(lm.FuncIDs) {
		return 0, false
	}
	return lm.FuncIDs[e.Index], true
}

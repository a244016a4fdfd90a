// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import (
	"sync"

	"github.com/rizqme/raya/value"
)

// Class is a process-lifetime immutable record (spec §3.3): once defined, a
// class's id, name, parent, field count, constructor, and vtable never
// change. Only its static field slots are mutable at runtime.
type Class struct {
	ID                uint32
	Name              string
	ParentID          *uint32
	FieldCount        int
	ConstructorFuncID *uint32

	// Vtable is the method-slot -> function-id table. Override resolution
	// happens once, at definition time (NewClass), by copying the parent's
	// vtable and substituting overridden slots; there is no per-call lookup
	// walk up the parent chain.
	Vtable []uint32

	staticsMu sync.Mutex
	statics   []value.Value
}

// NewClass builds a Class, resolving method overrides against parent (nil
// for a root class). methodSlots maps a vtable slot to the function id that
// should occupy it; slots not present in methodSlots retain the parent's
// entry (or remain 0 if parent has none).
func NewClass(id uint32, name string, parent *Class, fieldCount int, ctor *uint32, staticCount int, methodSlots map[int]uint32) *Class {
	var vtable []uint32
	var parentID *uint32
	if parent != nil {
		vtable = append(vtable, parent.Vtable...)
		pid := parent.ID
		parentID = &pid
	}

	maxSlot := len(vtable) - 1
	for slot := range methodSlots {
		if slot > maxSlot {
			maxSlot = slot
		}
	}
	if maxSlot+1 > len(vtable) {
		grown := make([]uint32, maxSlot+1)
		copy(grown, vtable)
		vtable = grown
	}
	for slot, fid := range methodSlots {
		vtable[slot] = fid
	}

	statics := make([]value.Value, staticCount)
	for i := range statics {
		statics[i] = value.Null
	}

	return &Class{
		ID:                id,
		Name:              name,
		ParentID:          parentID,
		FieldCount:        fieldCount,
		ConstructorFuncID: ctor,
		Vtable:            vtable,
		statics:           statics,
	}
}

// Method resolves a vtable slot to a function id.
func (c *Class) Method(slot int) (uint32, bool) {
	if slot < 0 || slot >= len(c.Vtable) {
		return 0, false
	}
	return c.Vtable[slot], true
}

// LoadStatic reads a static field slot.
func (c *Class) LoadStatic(i int) (value.Value, bool) {
	c.staticsMu.Lock()
	defer c.staticsMu.Unlock()
	if i < 0 || i >= len(c.statics) {
		return value.Null, false
	}
	return c.statics[i], true
}

// StoreStatic writes a static field slot.
func (c *Class) StoreStatic(i int, v value.Value) bool {
	c.staticsMu.Lock()
	defer c.staticsMu.Unlock()
	if i < 0 || i >= len(c.statics) {
		return false
	}
	c.statics[i] = v
	return true
}

// TraceStatics reports every Value held in this class's static field slots
// (spec §4.5 root set R3: "the static field slots of every class").
func (c *Class) TraceStatics(visit func(value.Value)) {
	c.staticsMu.Lock()
	defer c.staticsMu.Unlock()
	for _, v := range c.statics {
		visit(v)
	}
}

// ClassTable is the process-wide registry of defined classes, indexed by
// class id.
type ClassTable struct {
	mu      sync.RWMutex
	classes []*Class
}

// NewClassTable creates an empty ClassTable.
func NewClassTable() *ClassTable {
	return &ClassTable{}
}

// Define assigns the next class id to c and registers it, returning the
// assigned id. c.ID is not consulted; the table itself is authoritative over
// id assignment.
func (t *ClassTable) Define(c *Class) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uint32(len(t.classes))
	c.ID = id
	t.classes = append(t.classes, c)
	return id
}

// Get resolves a class id.
func (t *ClassTable) Get(id uint32) (*Class, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.classes) {
		return nil, false
	}
	return t.classes[id], true
}

// Len reports the number of defined classes.
func (t *ClassTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.classes)
}

// Each calls fn for every currently defined class, in id order. Classes are
// never removed once defined, so it is safe for fn to retain the *Class it
// is given past the call.
func (t *ClassTable) Each(fn func(c *Class)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.classes {
		fn(c)
	}
}

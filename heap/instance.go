// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import "github.com/rizqme/raya/value"

// Instance is a class-instance object: a fixed field-slot array whose length
// equals the owning class's field count (spec §3.2, kind Object).
type Instance struct {
	header ObjectHeader
	fields []value.Value
}

// NewInstance allocates an Instance for classID with fieldCount slots,
// all initialized to null.
func NewInstance(classID uint32, fieldCount int) *Instance {
	fields := make([]value.Value, fieldCount)
	for i := range fields {
		fields[i] = value.Null
	}
	return &Instance{header: ObjectHeader{Kind: KindObject, ClassID: classID}, fields: fields}
}

func (o *Instance) Header() *ObjectHeader { return &o.header }

func (o *Instance) Trace(visit func(value.Value)) {
	for _, v := range o.fields {
		visit(v)
	}
}

// FieldCount returns the number of field slots.
func (o *Instance) FieldCount() int { return len(o.fields) }

// Field reads field i, reporting false if i is out of bounds.
func (o *Instance) Field(i int) (value.Value, bool) {
	if i < 0 || i >= len(o.fields) {
		return value.Null, false
	}
	return o.fields[i], true
}

// SetField writes field i, reporting false if i is out of bounds.
func (o *Instance) SetField(i int, v value.Value) bool {
	if i < 0 || i >= len(o.fields) {
		return false
	}
	o.fields[i] = v
	return true
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"strings"

	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

// String natives back the Sconcat/ToString-adjacent standard-library
// surface that isn't expressible as a single opcode: case conversion,
// trimming, indexOf, slice and split. There is no join native.
func registerStringNatives(r *NativeRegistry) {
	r.Register(nativeID(NativeCategoryString, 0), nativeStrUpper)
	r.Register(nativeID(NativeCategoryString, 1), nativeStrLower)
	r.Register(nativeID(NativeCategoryString, 2), nativeStrTrim)
	r.Register(nativeID(NativeCategoryString, 3), nativeStrIndexOf)
	r.Register(nativeID(NativeCategoryString, 4), nativeStrSlice)
	r.Register(nativeID(NativeCategoryString, 5), nativeStrSplit)
}

func argString(m *Machine, args []value.Value, i int) (string, error) {
	if i >= len(args) {
		return "", rerr.New(rerr.KindTypeError, "native: missing string argument %d", i)
	}
	s, ok := mustString(m.Heap, args[i])
	if !ok {
		return "", rerr.New(rerr.KindTypeError, "native: argument %d is not a string", i)
	}
	return s, nil
}

func pushString(m *Machine, s string) value.Value {
	addr, _ := m.Heap.Strings().Intern(m.Heap, s)
	return value.FromPtr(addr)
}

func nativeStrUpper(m *Machine, args []value.Value) (value.Value, error) {
	s, err := argString(m, args, 0)
	if err != nil {
		return value.Null, err
	}
	return pushString(m, strings.ToUpper(s)), nil
}

func nativeStrLower(m *Machine, args []value.Value) (value.Value, error) {
	s, err := argString(m, args, 0)
	if err != nil {
		return value.Null, err
	}
	return pushString(m, strings.ToLower(s)), nil
}

func nativeStrTrim(m *Machine, args []value.Value) (value.Value, error) {
	s, err := argString(m, args, 0)
	if err != nil {
		return value.Null, err
	}
	return pushString(m, strings.TrimSpace(s)), nil
}

func nativeStrIndexOf(m *Machine, args []value.Value) (value.Value, error) {
	s, err := argString(m, args, 0)
	if err != nil {
		return value.Null, err
	}
	sub, err := argString(m, args, 1)
	if err != nil {
		return value.Null, err
	}
	return value.FromI32(int32(strings.Index(s, sub))), nil
}

func nativeStrSlice(m *Machine, args []value.Value) (value.Value, error) {
	s, err := argString(m, args, 0)
	if err != nil {
		return value.Null, err
	}
	if len(args) < 3 {
		return value.Null, rerr.New(rerr.KindTypeError, "native: stringSlice expects (s, start, end)")
	}
	start := int(value.I32(args[1]))
	end := int(value.I32(args[2]))
	if start < 0 || end > len(s) || start > end {
		return value.Null, rerr.New(rerr.KindRangeError, "native: stringSlice bounds [%d,%d) out of range for length %d", start, end, len(s))
	}
	return pushString(m, s[start:end]), nil
}

func nativeStrSplit(m *Machine, args []value.Value) (value.Value, error) {
	s, err := argString(m, args, 0)
	if err != nil {
		return value.Null, err
	}
	sep, err := argString(m, args, 1)
	if err != nil {
		return value.Null, err
	}
	parts := strings.Split(s, sep)
	arr := heapArrayOfStrings(m, parts)
	return value.FromPtr(arr), nil
}

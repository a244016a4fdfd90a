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

	"github.com/rizqme/raya/rerr"
	"github.com/rizqme/raya/value"
)

// Math natives cover the transcendental operations the Fadd/Fsub/... opcode
// family deliberately omits (spec §4.3 only specializes the four basic
// operators and pow/mod at the bytecode level).
func registerMathNatives(r *NativeRegistry) {
	r.Register(nativeID(NativeCategoryMath, 0), wrapUnary(math.Sqrt))
	r.Register(nativeID(NativeCategoryMath, 1), wrapUnary(math.Abs))
	r.Register(nativeID(NativeCategoryMath, 2), wrapUnary(math.Floor))
	r.Register(nativeID(NativeCategoryMath, 3), wrapUnary(math.Ceil))
	r.Register(nativeID(NativeCategoryMath, 4), wrapUnary(math.Round))
	r.Register(nativeID(NativeCategoryMath, 5), wrapUnary(math.Log))
	r.Register(nativeID(NativeCategoryMath, 6), wrapUnary(math.Log2))
	r.Register(nativeID(NativeCategoryMath, 7), wrapUnary(math.Sin))
	r.Register(nativeID(NativeCategoryMath, 8), wrapUnary(math.Cos))
	r.Register(nativeID(NativeCategoryMath, 9), nativeMathMax)
	r.Register(nativeID(NativeCategoryMath, 10), nativeMathMin)
}

func argFloat(args []value.Value, i int) (float64, error) {
	if i >= len(args) {
		return 0, rerr.New(rerr.KindTypeError, "native: missing numeric argument %d", i)
	}
	v := args[i]
	if v.IsFloat() {
		return v.Float(), nil
	}
	switch v.Tag() {
	case value.TagI32:
		return float64(value.I32(v)), nil
	case value.TagU32:
		return float64(value.U32(v)), nil
	case value.TagU64:
		return float64(value.U64(v)), nil
	}
	return 0, rerr.New(rerr.KindTypeError, "native: argument %d is not a number", i)
}

func wrapUnary(fn func(float64) float64) NativeFunc {
	return func(m *Machine, args []value.Value) (value.Value, error) {
		x, err := argFloat(args, 0)
		if err != nil {
			return value.Null, err
		}
		return value.FromFloat(fn(x)), nil
	}
}

func nativeMathMax(m *Machine, args []value.Value) (value.Value, error) {
	a, err := argFloat(args, 0)
	if err != nil {
		return value.Null, err
	}
	b, err := argFloat(args, 1)
	if err != nil {
		return value.Null, err
	}
	return value.FromFloat(math.Max(a, b)), nil
}

func nativeMathMin(m *Machine, args []value.Value) (value.Value, error) {
	a, err := argFloat(args, 0)
	if err != nil {
		return value.Null, err
	}
	b, err := argFloat(args, 1)
	if err != nil {
		return value.Null, err
	}
	return value.FromFloat(math.Min(a, b)), nil
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import (
	"github.com/holiman/uint256"

	"github.com/rizqme/raya/value"
)

// BigInt boxes a u64/u128/u256 integer that does not fit the 48-bit PTR
// payload directly (spec §3.1: "bit patterns wider than 48 are stored as
// PTR to a boxed integer"). github.com/holiman/uint256 is the teacher's own
// fixed-width big-integer type, reused here instead of math/big: it is
// already the dependency the corpus reaches for when a value needs to carry
// more than 64 bits without heap-allocating a slice per operation.
type BigInt struct {
	header ObjectHeader
	val    *uint256.Int
}

// NewBigInt boxes v.
func NewBigInt(v *uint256.Int) *BigInt {
	return &BigInt{header: ObjectHeader{Kind: KindBigInt}, val: v}
}

// FromUint64 boxes a plain u64 that is too wide for a truncated Value (i.e.
// >= 1<<48).
func FromUint64(u uint64) *BigInt {
	return NewBigInt(uint256.NewInt(u))
}

func (b *BigInt) Header() *ObjectHeader         { return &b.header }
func (b *BigInt) Trace(visit func(value.Value)) {}

// Uint256 returns the boxed integer.
func (b *BigInt) Uint256() *uint256.Int { return b.val }

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package jit

import (
	"testing"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
)

func TestEligibleAcceptsIntegerArithmetic(t *testing.T) {
	fn := buildAddOne(t)
	if err := Eligible(fn); err != nil {
		t.Fatalf("expected addOne to be eligible: %v", err)
	}
}

func TestEligibleRejectsCall(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit32_16(bytecode.Call, 0, 0)
	a.Emit0(bytecode.ReturnVoid)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	fn := heap.NewFunction("callsOut", 0, 0, code)
	if err := Eligible(fn); err == nil {
		t.Fatal("expected a function containing Call to be ineligible")
	}
}

func TestEligibleRejectsExceptionHandlers(t *testing.T) {
	fn := buildAddOne(t)
	fn.Handlers = []heap.ExceptionHandler{{StartPC: 0, EndPC: 1, CatchOffset: 0, FinallyOffset: -1}}
	if err := Eligible(fn); err == nil {
		t.Fatal("expected a function with exception handlers to be ineligible")
	}
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package rerr implements the engine's error taxonomy (spec §7): static
// errors surfaced at load time, catchable runtime errors that flow through
// the interpreter's exception-handler stack, and aborting internal errors
// that represent engine invariant violations.
package rerr

import "fmt"

// Kind classifies an error along the taxonomy in spec §7.
type Kind int

const (
	// KindParse through KindVerify are static: returned by the loader to its
	// caller, never thrown as a catchable exception.
	KindParse Kind = iota
	KindBind
	KindType
	KindCompile
	KindVerify

	// KindRuntime errors are catchable: they flow through Try/catch.
	KindTypeError
	KindReferenceError
	KindRangeError
	KindOutOfMemory
	KindStackOverflow
	KindCancelled
	KindTimeout

	// KindInternal errors are not catchable; they abort the VM.
	KindInternal
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindBind:
		return "BindError"
	case KindType:
		return "TypeError"
	case KindCompile:
		return "CompileError"
	case KindVerify:
		return "VerifyError"
	case KindTypeError:
		return "TypeError"
	case KindReferenceError:
		return "ReferenceError"
	case KindRangeError:
		return "RangeError"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindStackOverflow:
		return "StackOverflow"
	case KindCancelled:
		return "Cancelled"
	case KindTimeout:
		return "Timeout"
	case KindInternal:
		return "InternalError"
	case KindPanic:
		return "Panic"
	default:
		return "UnknownError"
	}
}

// Static reports whether errors of this kind are surfaced at module-load
// time rather than thrown during execution.
func (k Kind) Static() bool {
	return k <= KindVerify
}

// Catchable reports whether a Try/catch handler may intercept errors of
// this kind. Internal errors and panics are never catchable.
func (k Kind) Catchable() bool {
	return k >= KindTypeError && k <= KindTimeout
}

// Error is a concrete engine error carrying a Kind and an optional boxed
// payload (the Value thrown, for catchable runtime errors).
type Error struct {
	Kind    Kind
	Message string
	Offset  int         // bytecode offset, for static/verify errors
	Payload interface{} // the thrown Value, for catchable runtime errors
}

func (e *Error) Error() string {
	if e.Offset != 0 {
		return fmt.Sprintf("%s at offset %d: %s", e.Kind, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Thrown wraps a user-raised Value as a catchable runtime error.
func Thrown(payload interface{}) *Error {
	return &Error{Kind: KindTypeError, Message: "uncaught exception", Payload: payload}
}

// AtOffset annotates a static error with the bytecode offset it was
// detected at.
func (e *Error) AtOffset(off int) *Error {
	e.Offset = off
	return e
}

// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build linux || darwin

package codemem

import (
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

func unsafePointer(m mmap.MMap) unsafe.Pointer {
	return unsafe.Pointer(&m[0])
}

// reprotectExec flips a freshly-written RW mapping to RX. mmap-go has no
// standalone mprotect call of its own, so this drops to x/sys/unix
// directly on the same backing pages.
func reprotectExec(m mmap.MMap) error {
	return unix.Mprotect(m, unix.PROT_READ|unix.PROT_EXEC)
}

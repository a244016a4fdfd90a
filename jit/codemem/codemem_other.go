// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build !linux && !darwin

package codemem

import (
	"fmt"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

func unsafePointer(m mmap.MMap) unsafe.Pointer {
	return unsafe.Pointer(&m[0])
}

func reprotectExec(m mmap.MMap) error {
	return fmt.Errorf("codemem: executable remapping is not implemented on this platform")
}

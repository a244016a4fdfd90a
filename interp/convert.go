// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"strconv"

	"github.com/rizqme/raya/value"
)

// formatFloat renders a number the way ToString/console output does:
// integral floats print without a trailing ".0", matching typical dynamic-
// language number-to-string coercion.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func valueAsFloat(v value.Value) float64 {
	if v.IsFloat() {
		return v.Float()
	}
	switch v.Tag() {
	case value.TagI32:
		return float64(value.I32(v))
	case value.TagU32:
		return float64(value.U32(v))
	case value.TagU64:
		return float64(value.U64(v))
	}
	return 0
}

// toDisplayString converts v to its ToString representation (spec §4.3),
// interning the result.
func (m *Machine) toDisplayString(v value.Value) string {
	return displayString(m, v)
}

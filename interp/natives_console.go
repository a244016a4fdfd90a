// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package interp

import (
	"github.com/rizqme/raya/rlog"
	"github.com/rizqme/raya/value"
)

var consoleLog = rlog.Root().With("console")

// registerConsoleNatives wires console.log/console.error to the engine's
// own leveled logger rather than writing straight to stdout, so guest-code
// output interleaves predictably with the host's diagnostic log.
func registerConsoleNatives(r *NativeRegistry) {
	r.Register(nativeID(NativeCategoryIO, 0), nativeConsoleLog)
	r.Register(nativeID(NativeCategoryIO, 1), nativeConsoleError)
}

func displayString(m *Machine, v value.Value) string {
	if v.IsFloat() {
		return formatFloat(v.Float())
	}
	switch v.Tag() {
	case value.TagNull:
		return "null"
	case value.TagBool:
		return formatBool(v.Bool())
	case value.TagI32, value.TagU32, value.TagU64:
		return formatFloat(valueAsFloat(v))
	case value.TagPtr:
		if s, ok := mustString(m.Heap, v); ok {
			return s
		}
		return "[object]"
	default:
		return "?"
	}
}

func nativeConsoleLog(m *Machine, args []value.Value) (value.Value, error) {
	parts := make([]interface{}, 0, len(args))
	for _, a := range args {
		parts = append(parts, displayString(m, a))
	}
	consoleLog.Info(joinInterfaces(parts))
	return value.Null, nil
}

func nativeConsoleError(m *Machine, args []value.Value) (value.Value, error) {
	parts := make([]interface{}, 0, len(args))
	for _, a := range args {
		parts = append(parts, displayString(m, a))
	}
	consoleLog.Error(joinInterfaces(parts))
	return value.Null, nil
}

func joinInterfaces(parts []interface{}) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p.(string)
	}
	return out
}

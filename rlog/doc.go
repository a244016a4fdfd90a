// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package rlog is the engine's structured, leveled logger: leveled
// key-value records, TTY-aware ANSI coloring via isatty+colorable, and a
// captured call frame on Error/Crit records so GC pauses, JIT deopts, and
// scheduler faults are traceable without a debugger attached.
package rlog

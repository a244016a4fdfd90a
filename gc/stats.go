// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gc

import (
	"fmt"

	"github.com/fjl/memsize"
)

// FootprintReport is a reflective, best-effort breakdown of the Go-side
// memory actually backing the heap's live objects, distinct from the
// approximate allocated_bytes counter the collection trigger watches.
// Deliberately never called from the allocate/mark/sweep hot path: a
// memsize.Scan walks the live object graph with reflection, which is far
// too slow to run on every allocation or even every cycle. It exists for a
// host program's on-demand diagnostics surface (e.g. an admin endpoint
// asking "how big is the heap really").
type FootprintReport struct {
	TotalBytes uintptr
}

// String renders a human-readable summary.
func (r FootprintReport) String() string {
	return fmt.Sprintf("heap footprint: %d bytes (reflective scan)", r.TotalBytes)
}

// Footprint reflectively scans h's live object set and reports its actual
// Go-side memory footprint. Call sparingly; see FootprintReport's comment.
func (c *Collector) Footprint() FootprintReport {
	report := memsize.Scan(c.heap)
	return FootprintReport{TotalBytes: report.Total}
}

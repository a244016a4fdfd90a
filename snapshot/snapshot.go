// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snapshot

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/rconfig"
	"github.com/rizqme/raya/rlog"
	"github.com/rizqme/raya/scheduler"
	"github.com/rizqme/raya/value"
)

// Capture stops the world (spec §4.4's PauseSnapshot reason) and serializes
// sched's entire state into a single byte stream: every live heap object,
// every class's mutable static fields ("class table deltas since
// module-load" — a class's own definition is immutable once loaded, per
// heap.Class's doc comment, so static fields are the only thing that can
// have drifted), and every task's Machine. The payload is snappy-compressed
// before the header is attached, since a long-running program's heap
// object table is typically full of repeated small shapes (short strings,
// sparse arrays) that compress well.
func Capture(sched *scheduler.Scheduler) ([]byte, error) {
	var payload bytes.Buffer
	var captureErr error

	sched.Coordinator().Pause(scheduler.PauseSnapshot, func(_ []scheduler.RootSet) {
		type liveObject struct {
			addr uint64
			obj  heap.Object
		}
		var objects []liveObject
		sched.Heap.ForEach(func(addr uint64, o heap.Object) {
			objects = append(objects, liveObject{addr, o})
		})
		writeU32(&payload, uint32(len(objects)))
		for _, o := range objects {
			if err := encodeObject(&payload, o.addr, o.obj); err != nil {
				captureErr = err
				return
			}
		}

		classes := sched.Heap.Classes()
		writeU32(&payload, uint32(classes.Len()))
		classes.Each(func(c *heap.Class) {
			var statics []value.Value
			c.TraceStatics(func(v value.Value) { statics = append(statics, v) })
			writeU32(&payload, c.ID)
			writeU32(&payload, uint32(len(statics)))
			for _, v := range statics {
				writeU64(&payload, uint64(v))
			}
		})

		tasks := sched.Tasks()
		writeU32(&payload, uint32(len(tasks)))
		for _, t := range tasks {
			if captureErr != nil {
				return
			}
			if err := encodeTask(&payload, t, sched.Heap.Functions()); err != nil {
				captureErr = err
				return
			}
		}
	})
	if captureErr != nil {
		return nil, captureErr
	}
	return encodeHeader(payload.Bytes(), true), nil
}

// Restore decodes data (as produced by Capture) against h, which must
// already hold the same module's classes and functions defined in the same
// order the capturing process had loaded them in — a restored Frame's
// function-table index and a restored Instance's class id are only
// meaningful against that identical definition order. consts is that
// module's constant pool, handed to every restored task's Machine via
// SetConstants. The returned Scheduler's workers are not started; the
// caller calls Start once ready to resume execution.
func Restore(data []byte, h *heap.Heap, natives *interp.NativeRegistry, classIDs heap.BuiltinClassIDs, cfg *rconfig.Config, log *rlog.Logger, consts *bytecode.ConstantPool) (*scheduler.Scheduler, error) {
	payload, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	r := &byteReader{data: payload}

	nObjects, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nObjects; i++ {
		if err := decodeObject(r, h); err != nil {
			return nil, err
		}
	}

	nClasses, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nClasses; i++ {
		classID, err := r.u32()
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		c, ok := h.Classes().Get(classID)
		if !ok {
			return nil, fmt.Errorf("snapshot: class id %d not defined in the loaded module", classID)
		}
		for j := uint32(0); j < n; j++ {
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			c.StoreStatic(int(j), value.Value(v))
		}
	}

	sched := scheduler.New(h, natives, classIDs, cfg, log)

	nTasks, err := r.u32()
	if err != nil {
		return nil, err
	}
	type restored struct {
		task *scheduler.Task
		rec  scheduler.TaskSnapshot
	}
	batch := make([]restored, 0, nTasks)
	for i := uint32(0); i < nTasks; i++ {
		t, rec, err := decodeTask(r, sched, h.Functions(), h, consts)
		if err != nil {
			return nil, err
		}
		batch = append(batch, restored{t, rec})
	}

	// Committing strictly in ascending QueuePos order (rather than stream
	// order, which only reflects Tasks()' sorted-by-ID enumeration at
	// capture time) reproduces each primitive's FIFO wait queue exactly:
	// waitSet.register always appends, so two tasks blocked on the same
	// resource land back in the order they originally queued in as long as
	// the lower QueuePos is committed first. Tasks not currently blocked
	// carry QueuePos -1 and sort before everything else, where their
	// relative order has no observable effect.
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].rec.QueuePos < batch[j].rec.QueuePos })
	for _, item := range batch {
		sched.CommitRestoredTask(item.task, item.rec)
	}
	return sched, nil
}

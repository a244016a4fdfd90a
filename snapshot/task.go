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

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/scheduler"
)

// encodeTask writes one task's scheduler-level record (spec §6.2: "id,
// parent, state, ...") followed immediately by its Machine's own state
// (encodeMachine), so decodeTask can reconstruct both halves of a task in
// one pass without a second table to cross-reference. QueuePos travels
// alongside the rest of the record so Restore can re-register a blocked
// task at the same position in its primitive's wait queue, independent of
// whatever order Scheduler.Tasks() happened to enumerate tasks in.
func encodeTask(buf *bytes.Buffer, t *scheduler.Task, funcs *heap.FunctionTable) error {
	rec := t.Snapshot()
	writeI64(buf, rec.ID)
	writeI64(buf, rec.ParentID)
	writeU64(buf, rec.HandleAddr)
	writeU32(buf, uint32(rec.State))
	writeU32(buf, uint32(rec.Block.Kind))
	writeU64(buf, rec.Block.Target)
	writeU32(buf, uint32(rec.Block.N))
	writeI64(buf, rec.Deadline)
	writeBool(buf, rec.Cancelled)
	writeBool(buf, rec.CancelDelivered)
	writeBool(buf, rec.OOM)
	writeBool(buf, rec.OOMDelivered)
	writeU32(buf, uint32(int32(rec.QueuePos)))

	return encodeMachine(buf, t.Machine, funcs)
}

// decodeTask reads one task's scheduler-level record plus its Machine
// state, building (but not yet committing into sched's bookkeeping) its
// Task. Restore runs every task in the stream through this before
// committing any of them, so blocked tasks can be committed in true
// wait-queue order rather than stream order.
func decodeTask(r *byteReader, sched *scheduler.Scheduler, funcs *heap.FunctionTable, h *heap.Heap, consts *bytecode.ConstantPool) (*scheduler.Task, scheduler.TaskSnapshot, error) {
	id, err := r.i64()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	parentID, err := r.i64()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	handleAddr, err := r.u64()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	state, err := r.u32()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	blockKind, err := r.u32()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	blockTarget, err := r.u64()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	blockN, err := r.u32()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	deadline, err := r.i64()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	cancelled, err := r.bool()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	cancelDelivered, err := r.bool()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	oom, err := r.bool()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	oomDelivered, err := r.bool()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	queuePosRaw, err := r.u32()
	if err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	queuePos := int(int32(queuePosRaw))

	rec := scheduler.TaskSnapshot{
		ID:              id,
		ParentID:        parentID,
		HandleAddr:      handleAddr,
		State:           scheduler.State(state),
		Block:           scheduler.BlockReason{Kind: scheduler.BlockKind(blockKind), Target: blockTarget, N: int(blockN)},
		Deadline:        deadline,
		Cancelled:       cancelled,
		CancelDelivered: cancelDelivered,
		OOM:             oom,
		OOMDelivered:    oomDelivered,
		QueuePos:        queuePos,
	}
	t := sched.BuildRestoredTask(rec)
	t.Machine.SetConstants(consts)
	if err := decodeMachine(r, t.Machine, funcs, h); err != nil {
		return nil, scheduler.TaskSnapshot{}, err
	}
	return t, rec, nil
}

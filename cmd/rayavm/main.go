// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command rayavm loads a .rbin module, verifies its functions, spawns its
// entry export as a root task, and runs the scheduler until the task
// completes.
//
// Usage:
//
//	rayavm [flags] <module.rbin>
//
// Flags:
//
//	-config <path>    TOML config overlay (default: built-in defaults)
//	-entry <name>     Exported function to spawn as the root task (default "main")
//	-disasm           Disassemble every function instead of running
//	-save <path>      Capture a snapshot after the root task completes
//	-restore <path>   Resume from a snapshot instead of spawning the entry export
//	-verbose          Raise the logger to debug level
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rizqme/raya/bytecode"
	"github.com/rizqme/raya/gc"
	"github.com/rizqme/raya/heap"
	"github.com/rizqme/raya/interp"
	"github.com/rizqme/raya/jit"
	"github.com/rizqme/raya/jit/codemem"
	"github.com/rizqme/raya/rconfig"
	"github.com/rizqme/raya/rlog"
	"github.com/rizqme/raya/scheduler"
	"github.com/rizqme/raya/snapshot"
	"github.com/rizqme/raya/value"
)

func main() {
	var (
		configPath  = flag.String("config", "", "TOML config overlay")
		entry       = flag.String("entry", "main", "exported function to spawn as the root task")
		disasm      = flag.Bool("disasm", false, "disassemble every function instead of running")
		savePath    = flag.String("save", "", "capture a snapshot after the root task completes")
		restorePath = flag.String("restore", "", "resume from a snapshot instead of spawning the entry export")
		verbose     = flag.Bool("verbose", false, "raise the logger to debug level")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: rayavm [flags] <module.rbin>")
		os.Exit(1)
	}

	log := rlog.Root()
	if *verbose {
		log.SetLevel(rlog.LevelDebug)
	}

	cfg, err := rconfig.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fatalf("read module: %v", err)
	}
	mod, err := bytecode.Decode(data)
	if err != nil {
		fatalf("decode module: %v", err)
	}

	for _, fn := range mod.Functions {
		if errs := bytecode.Verify(fn.Code, mod.Constants.Size(), fn.LocalCount); len(errs) > 0 {
			for _, ve := range errs {
				fmt.Fprintf(os.Stderr, "verify %s: %v\n", fn.Name, ve)
			}
			os.Exit(1)
		}
	}

	if *disasm {
		for _, fn := range mod.Functions {
			fmt.Printf("function %s(params=%d locals=%d):\n%s\n", fn.Name, fn.ParamCount, fn.LocalCount, bytecode.Disassemble(fn.Code))
		}
		return
	}

	h := heap.New()
	classIDs := heap.RegisterBuiltinClasses(h.Classes())
	lm, err := interp.Load(h, mod)
	if err != nil {
		fatalf("load module into heap: %v", err)
	}
	natives := interp.NewNativeRegistry()

	var sched *scheduler.Scheduler
	if *restorePath != "" {
		snapData, err := os.ReadFile(*restorePath)
		if err != nil {
			fatalf("read snapshot: %v", err)
		}
		sched, err = snapshot.Restore(snapData, h, natives, classIDs, cfg, log.With("scheduler"), mod.Constants)
		if err != nil {
			fatalf("restore snapshot: %v", err)
		}
	} else {
		sched = scheduler.New(h, natives, classIDs, cfg, log.With("scheduler"))
	}

	collector := gc.New(h, sched, cfg, log.With("gc"))
	sched.SetGCHook(collector)

	// GC hooks apply per-quantum regardless of when a task was created, so
	// this covers restored tasks too. The JIT hook is copied onto a Task's
	// Machine at task-creation time (newTask/RestoreTask); a -restore run's
	// tasks are already materialized by the time SetJitHook runs here, so
	// they resume purely interpreted and only re-tier if they spawn a new
	// child task afterward.
	alloc := codemem.NewAllocator()
	tiering := jit.NewTiering(sched.Coordinator(), alloc, cfg.JITCompileWorkers, log.With("jit"))
	sched.SetJitHook(tiering, uint32(cfg.JITThreshold))

	var handle *heap.TaskHandle
	if *restorePath == "" {
		funcID, ok := lm.ResolveFunc(*entry)
		if !ok {
			fatalf("no exported function %q in module", *entry)
		}
		fn, _ := h.Functions().Get(funcID)
		addr := sched.Spawn(fn, nil)
		obj, _ := h.Get(addr)
		handle = obj.(*heap.TaskHandle)
		task := sched.Task(handle.TaskID)
		task.Machine.SetConstants(mod.Constants)
	}

	sched.Start()
	sched.Wait()

	if handle != nil {
		result, errVal := handle.Result()
		if !errVal.IsNull() {
			fmt.Fprintf(os.Stderr, "uncaught exception: %s\n", describeException(h, errVal))
			sched.Stop()
			os.Exit(1)
		}
		fmt.Println(describeResult(h, result))
	}

	if *savePath != "" {
		snapData, err := snapshot.Capture(sched)
		if err != nil {
			fatalf("capture snapshot: %v", err)
		}
		if err := os.WriteFile(*savePath, snapData, 0o644); err != nil {
			fatalf("write snapshot: %v", err)
		}
	}

	sched.Stop()
}

// describeResult renders a root task's return Value for the terminal: an
// interned string is printed bare, everything else falls back to its
// NaN-boxed bit pattern, since there is no REPL-style pretty-printer in
// scope here.
func describeResult(h *heap.Heap, v value.Value) string {
	if v.Tag() == value.TagPtr {
		if obj, ok := h.Get(value.Ptr(v)); ok {
			if s, ok := obj.(*heap.String); ok {
				return s.Bytes()
			}
		}
	}
	if v.IsFloat() {
		return fmt.Sprintf("%v", v.Float())
	}
	return fmt.Sprintf("%#x", uint64(v))
}

func describeException(h *heap.Heap, errVal value.Value) string {
	return describeResult(h, errVal)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "rayavm: "+format+"\n", args...)
	os.Exit(1)
}

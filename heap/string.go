// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import (
	"hash/fnv"
	"sync"

	"github.com/holiman/bloomfilter/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/rizqme/raya/value"
)

// String is an immutable UTF-8 byte sequence (spec §3.2, invariant I2). The
// hash is computed lazily and cached, since many strings (identifiers,
// property names) are hashed repeatedly but never compared byte-for-byte
// more than once.
type String struct {
	header ObjectHeader
	data   string
	hash   uint64
	hashed bool
}

func newString(s string) *String {
	return &String{header: ObjectHeader{Kind: KindString}, data: s}
}

// RestoreString reconstructs a String object for snapshot restore (spec
// §6.2). The caller installs it at its original heap address via
// Heap.LoadAt rather than through StringTable.Intern, which would hand
// back a freshly allocated address instead of the one the snapshot
// recorded.
func RestoreString(s string) *String { return newString(s) }

func (s *String) Header() *ObjectHeader            { return &s.header }
func (s *String) Trace(visit func(value.Value))    {}
func (s *String) Bytes() string                     { return s.data }
func (s *String) Len() int                          { return len(s.data) }

// Hash returns the cached FNV-1a hash of the string's bytes.
func (s *String) Hash() uint64 {
	if !s.hashed {
		s.hash = fnvSum64(s.data)
		s.hashed = true
	}
	return s.hash
}

func fnvSum64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// internEntry is what the LRU cache stores per hash bucket.
type internEntry struct {
	addr uint64
	str  *String
}

// StringTable is the engine's string interner: a bloom filter pre-check in
// front of a bounded LRU of resident strings. Interning lets the dynamic
// dispatch rules (spec §4.3) and property/map-key lookups compare strings by
// heap address before falling back to a byte comparison, and keeps hot
// identifiers (class names, method names, common literals) from being
// re-allocated on every lookup.
type StringTable struct {
	mu    sync.Mutex
	bloom *bloomfilter.Filter
	cache *lru.Cache
}

func newStringTable() *StringTable {
	// 1<<20 bits / 4 hash functions is sized for a few hundred thousand
	// distinct interned strings at a low false-positive rate; a
	// false-positive only costs an extra LRU probe, never a correctness bug.
	bf, err := bloomfilter.New(1<<20, 4)
	if err != nil {
		bf = nil
	}
	cache, err := lru.New(4096)
	if err != nil {
		cache = nil
	}
	return &StringTable{bloom: bf, cache: cache}
}

// bloomHash adapts a uint64 to the hash.Hash64 interface bloomfilter.Filter
// requires, without re-hashing: Sum64 just returns the value it wraps.
type bloomHash uint64

func (h bloomHash) Write(p []byte) (int, error) { return len(p), nil }
func (h bloomHash) Sum(b []byte) []byte         { return b }
func (h bloomHash) Reset()                      {}
func (h bloomHash) Size() int                   { return 8 }
func (h bloomHash) BlockSize() int              { return 8 }
func (h bloomHash) Sum64() uint64               { return uint64(h) }

// Intern returns the canonical heap address and *String for s, allocating a
// new heap string only the first time s is seen. Safe to call from multiple
// goroutines.
func (t *StringTable) Intern(h *Heap, s string) (uint64, *String) {
	sum := fnvSum64(s)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bloom != nil && t.cache != nil && t.bloom.Contains(bloomHash(sum)) {
		if v, ok := t.cache.Get(sum); ok {
			entry := v.(internEntry)
			if entry.str.data == s {
				return entry.addr, entry.str
			}
			// Hash collision between two distinct strings: fall through and
			// allocate s separately rather than returning the wrong string.
		}
	}

	str := newString(s)
	addr := h.Alloc(str)
	if t.bloom != nil {
		t.bloom.Add(bloomHash(sum))
	}
	if t.cache != nil {
		t.cache.Add(sum, internEntry{addr: addr, str: str})
	}
	return addr, str
}

// Roots returns the heap address of every string currently resident in the
// intern cache (spec §4.5 root set R1: "string interning tables (strong)").
// A string evicted from the bounded LRU is no longer kept alive by this
// table alone; if nothing else references it, the next collection reclaims
// it.
func (t *StringTable) Roots() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache == nil {
		return nil
	}
	keys := t.cache.Keys()
	out := make([]uint64, 0, len(keys))
	for _, k := range keys {
		if v, ok := t.cache.Peek(k); ok {
			out = append(out, v.(internEntry).addr)
		}
	}
	return out
}

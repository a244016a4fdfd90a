// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package heap

import (
	"regexp"
	"strings"

	"github.com/rizqme/raya/value"
)

// RegExp is a compiled regular expression plus its original source and flag
// string (spec §3.2). The verifier's own stdlib RE2 engine is used rather
// than a third-party backtracking engine: the teacher corpus's only
// alternative regex package (dlclark/regexp2) was dropped (see DESIGN.md)
// because nothing in the engine needs backreferences or lookaround, and
// stdlib regexp already gives linear-time matching guarantees a language
// runtime wants for untrusted user patterns.
type RegExp struct {
	header ObjectHeader
	Source string
	Flags  string
	re     *regexp.Regexp
}

// CompileRegExp compiles source with the given flag string ("i" for
// case-insensitive, "m" for multiline, "s" for dot-matches-newline).
func CompileRegExp(source, flags string) (*RegExp, error) {
	pattern := source
	var inline string
	if strings.Contains(flags, "i") {
		inline += "i"
	}
	if strings.Contains(flags, "m") {
		inline += "m"
	}
	if strings.Contains(flags, "s") {
		inline += "s"
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegExp{header: ObjectHeader{Kind: KindRegExp}, Source: source, Flags: flags, re: re}, nil
}

func (r *RegExp) Header() *ObjectHeader         { return &r.header }
func (r *RegExp) Trace(visit func(value.Value)) {}

// MatchString reports whether s contains a match.
func (r *RegExp) MatchString(s string) bool { return r.re.MatchString(s) }

// FindStringIndex returns the leftmost match's byte range, or nil.
func (r *RegExp) FindStringIndex(s string) []int { return r.re.FindStringIndex(s) }

// FindAllStringIndex returns every non-overlapping match's byte range.
func (r *RegExp) FindAllStringIndex(s string) [][]int { return r.re.FindAllStringIndex(s, -1) }

// ReplaceAllString substitutes every match of r in s with repl.
func (r *RegExp) ReplaceAllString(s, repl string) string { return r.re.ReplaceAllString(s, repl) }

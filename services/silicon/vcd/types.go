// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcd parses value-change-dump waveform traces produced by the
// verification toolchain into an in-memory timeline.
//
// The reader handles structure only: signal declarations, bit widths, and
// chronological value-change records. Unknown ('x') and high-impedance
// ('z') bit states are preserved as symbolic characters and never coerced
// to numeric defaults; downstream diagnosis depends on that distinction.
//
// Thread Safety:
//
//	A Timeline is immutable after Read returns and safe for concurrent
//	reads.
package vcd

import (
	"errors"
	"sort"
	"strings"
)

// ErrTraceFormat indicates a structurally invalid trace artifact.
//
// This is a hard failure: it points at a harness or environment defect,
// not at a bad design candidate, and callers must not retry through
// regeneration. All format errors returned by this package wrap this
// sentinel.
var ErrTraceFormat = errors.New("trace format error")

// Signal is one declared signal in the trace header.
type Signal struct {
	// Code is the short identifier used by value-change records.
	Code string

	// Name is the hierarchical human-readable name (scopes joined by '.').
	Name string

	// Width is the declared bit width. Scalars have width 1.
	Width int

	// Type is the declared variable type (wire, reg, real, ...).
	Type string
}

// Change is a single value-change event.
//
// Value holds the resolved bit string ("0", "1", "1010", "x", "1xz0")
// normalized to the signal's declared width, or a decimal string for
// real-valued signals.
type Change struct {
	Time  uint64
	Code  string
	Value string
}

// Timeline is the flat, chronologically sorted projection of all value
// changes in a trace, together with the declaration-ordered signal table.
type Timeline struct {
	// Signals in declaration order.
	Signals []Signal

	// Changes in chronological order. Events for a given signal are
	// strictly non-decreasing in time.
	Changes []Change

	// EndTime is the last timestamp seen in the trace.
	EndTime uint64

	// Timescale is the raw $timescale declaration, if present.
	Timescale string

	byCode   map[string]int
	perSig   map[string][]int // indices into Changes, per signal code
	timesAsc []uint64
}

// Lookup returns the declared signal for an identifier code.
func (t *Timeline) Lookup(code string) (Signal, bool) {
	i, ok := t.byCode[code]
	if !ok {
		return Signal{}, false
	}
	return t.Signals[i], true
}

// Times returns the distinct timestamps present in the trace, ascending.
//
// The slice is shared; callers must not modify it.
func (t *Timeline) Times() []uint64 {
	return t.timesAsc
}

// ValueAt resolves a signal's value at a timestamp using last-known-value
// semantics. Before a signal's first recorded change its value is all-'x'
// at the declared width.
//
// Inputs:
//
//	code - The signal identifier code.
//	at - The timestamp to sample.
//
// Outputs:
//
//	string - The resolved value.
//	bool - False if the code is not declared in this trace.
func (t *Timeline) ValueAt(code string, at uint64) (string, bool) {
	sigIdx, ok := t.byCode[code]
	if !ok {
		return "", false
	}
	idxs := t.perSig[code]
	// Binary search for the last change at or before `at`.
	n := sort.Search(len(idxs), func(i int) bool {
		return t.Changes[idxs[i]].Time > at
	})
	if n == 0 {
		return strings.Repeat("x", t.Signals[sigIdx].Width), true
	}
	return t.Changes[idxs[n-1]].Value, true
}

// ChangesFor returns the ordered changes recorded for one signal.
func (t *Timeline) ChangesFor(code string) []Change {
	idxs := t.perSig[code]
	out := make([]Change, len(idxs))
	for i, ci := range idxs {
		out[i] = t.Changes[ci]
	}
	return out
}

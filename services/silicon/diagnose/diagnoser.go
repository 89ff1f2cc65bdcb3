// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnose derives actionable failure evidence from a parsed
// waveform timeline and a failing build outcome.
//
// The diagnoser is a pure transformer: it never touches the filesystem
// and never fails on merely surprising input. Only a structurally
// invalid trace is a hard error, and that is raised by the vcd reader
// before this package runs.
package diagnose

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/vcd"
)

// Config controls failing-cycle selection and window extraction.
type Config struct {
	// CheckPatterns are case-insensitive substrings identifying the
	// harness check signal(s) by declared name. The exact convention is
	// agreed with the verification harness.
	CheckPatterns []string

	// FailingValue is the value a check signal transitions to on
	// failure, compared after leading-zero normalization.
	FailingValue string

	// MaxFailingCycles bounds how many failing cycles are reported (K).
	// Earliest failures are the most actionable; later ones are often
	// cascading consequences.
	MaxFailingCycles int

	// WindowRadius is the number of distinct timestamps kept on each
	// side of a failing cycle in the timing table (N).
	WindowRadius int
}

// DefaultConfig returns the cocotb harness convention.
func DefaultConfig() Config {
	return Config{
		CheckPatterns:    []string{"fail", "assert"},
		FailingValue:     "1",
		MaxFailingCycles: 3,
		WindowRadius:     5,
	}
}

// Diagnosis is the extracted evidence for a failing attempt.
//
// Invariant: FailingCycles is a subset of the timestamps present in the
// source timeline. When no trace artifact existed, only ErrorLog is set.
type Diagnosis struct {
	// FailingCycles are the timestamps of failing-check transitions,
	// first-failure-first.
	FailingCycles []uint64

	// Tables holds one timing table per failing cycle, same order.
	Tables []TimingTable

	// ErrorLog is the toolchain's captured output, verbatim.
	ErrorLog string
}

// TimingTable is a bounded per-cycle grid of signal values around one
// failing cycle, reconstructing a timing diagram from the flat event
// stream.
type TimingTable struct {
	// FailingCycle is the timestamp this window is centered on.
	FailingCycle uint64

	// Times are the distinct timestamps in the window, ascending.
	Times []uint64

	// Signals are the signal names, declaration order.
	Signals []string

	// Values[i][j] is Signals[i]'s resolved value at Times[j].
	Values [][]string
}

// Diagnoser extracts a Diagnosis from a timeline and build outcome.
//
// Thread Safety: Safe for concurrent use; Diagnose is pure.
type Diagnoser struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Diagnoser. Zero-value config fields fall back to
// DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Diagnoser {
	def := DefaultConfig()
	if len(cfg.CheckPatterns) == 0 {
		cfg.CheckPatterns = def.CheckPatterns
	}
	if cfg.FailingValue == "" {
		cfg.FailingValue = def.FailingValue
	}
	if cfg.MaxFailingCycles <= 0 {
		cfg.MaxFailingCycles = def.MaxFailingCycles
	}
	if cfg.WindowRadius <= 0 {
		cfg.WindowRadius = def.WindowRadius
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnoser{cfg: cfg, logger: logger.With(slog.String("component", "diagnoser"))}
}

// Diagnose derives the evidence for one failing attempt.
//
// Description:
//
//	When the outcome carries no trace artifact the diagnosis degrades to
//	the raw error log with an empty cycle list. Otherwise failing cycles
//	are the timestamps where a check signal transitions to its failing
//	value, ties broken by signal-declaration order, bounded to the first
//	K, each with a symmetric timing window of N timestamps either side.
//	A harness mismatch (no check signal in the trace) also degrades to
//	log-only; this method never fails.
//
// Inputs:
//
//	timeline - Parsed trace, or nil when the outcome has no trace path.
//	outcome - The failing build outcome.
//
// Outputs:
//
//	*Diagnosis - The extracted evidence. Never nil.
func (d *Diagnoser) Diagnose(timeline *vcd.Timeline, outcome *toolchain.BuildOutcome) *Diagnosis {
	diag := &Diagnosis{}
	if outcome != nil {
		diag.ErrorLog = outcome.Log
	}
	if timeline == nil || outcome == nil || outcome.TracePath == "" {
		return diag
	}

	checks := d.checkSignals(timeline)
	if len(checks) == 0 {
		d.logger.Warn("No check signal matched the configured patterns; degrading to log-only diagnosis",
			"patterns", strings.Join(d.cfg.CheckPatterns, ","))
		return diag
	}

	cycles := d.failingCycles(timeline, checks)
	if len(cycles) == 0 {
		return diag
	}
	if len(cycles) > d.cfg.MaxFailingCycles {
		cycles = cycles[:d.cfg.MaxFailingCycles]
	}
	diag.FailingCycles = cycles

	for _, c := range cycles {
		diag.Tables = append(diag.Tables, d.window(timeline, c))
	}

	d.logger.Debug("Diagnosis extracted",
		"failing_cycles", len(diag.FailingCycles),
		"first_failure", diag.FailingCycles[0],
	)
	return diag
}

// checkSignals returns the declaration indices of signals matching the
// configured check patterns, declaration order.
func (d *Diagnoser) checkSignals(tl *vcd.Timeline) []int {
	var idxs []int
	for i, sig := range tl.Signals {
		name := strings.ToLower(sig.Name)
		for _, pat := range d.cfg.CheckPatterns {
			if strings.Contains(name, strings.ToLower(pat)) {
				idxs = append(idxs, i)
				break
			}
		}
	}
	return idxs
}

// failingCycles collects the timestamps where any check signal
// transitions to the failing value, ascending and deduplicated.
// Scanning per check signal in declaration order gives the required
// tie-break for simultaneous transitions.
func (d *Diagnoser) failingCycles(tl *vcd.Timeline, checks []int) []uint64 {
	failing := d.cfg.FailingValue
	seen := make(map[uint64]bool)
	var cycles []uint64
	for _, ci := range checks {
		sig := tl.Signals[ci]
		prev := ""
		for _, ch := range tl.ChangesFor(sig.Code) {
			val := normalize(ch.Value)
			if val == normalize(failing) && prev != val && !seen[ch.Time] {
				seen[ch.Time] = true
				cycles = append(cycles, ch.Time)
			}
			prev = val
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i] < cycles[j] })
	return cycles
}

// window builds the timing table around one failing cycle.
func (d *Diagnoser) window(tl *vcd.Timeline, cycle uint64) TimingTable {
	times := tl.Times()
	center := sort.Search(len(times), func(i int) bool { return times[i] >= cycle })
	lo := center - d.cfg.WindowRadius
	if lo < 0 {
		lo = 0
	}
	hi := center + d.cfg.WindowRadius + 1
	if hi > len(times) {
		hi = len(times)
	}

	table := TimingTable{
		FailingCycle: cycle,
		Times:        append([]uint64(nil), times[lo:hi]...),
	}
	for _, sig := range tl.Signals {
		row := make([]string, 0, hi-lo)
		for _, t := range table.Times {
			v, _ := tl.ValueAt(sig.Code, t)
			row = append(row, v)
		}
		table.Signals = append(table.Signals, sig.Name)
		table.Values = append(table.Values, row)
	}
	return table
}

// normalize strips leading zero bits so "001" and "1" compare equal;
// symbolic x/z values are left untouched.
func normalize(v string) string {
	trimmed := strings.TrimLeft(v, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

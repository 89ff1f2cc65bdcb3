// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback renders a failure diagnosis into the correction
// prompt for the next generation attempt.
package feedback

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/diagnose"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
)

// TruncationMarker is inserted where an over-budget error log was cut.
const TruncationMarker = "[... error log truncated ...]"

// Config bounds the composed feedback size.
type Config struct {
	// MaxLogBytes caps the error-log excerpt. The tail is kept: the
	// toolchain prints the decisive assertion message last.
	MaxLogBytes int
}

// DefaultConfig mirrors the downstream generative service's input
// comfort zone.
func DefaultConfig() Config {
	return Config{MaxLogBytes: 4096}
}

// Composer renders correction prompts.
//
// Compose is a pure function of its inputs: identical inputs always
// yield byte-identical output. Reproducibility of the regeneration
// request is part of the contract.
type Composer struct {
	cfg Config
}

// New creates a Composer. A non-positive MaxLogBytes falls back to the
// default budget.
func New(cfg Config) *Composer {
	if cfg.MaxLogBytes <= 0 {
		cfg.MaxLogBytes = DefaultConfig().MaxLogBytes
	}
	return &Composer{cfg: cfg}
}

// Compose renders the correction prompt for a failing attempt.
//
// Description:
//
//	Emits the original specification, the previous candidate sources,
//	the (possibly truncated) error log, and one aligned per-cycle grid
//	per failing cycle, ascending, closing with the fix instruction.
//
// Inputs:
//
//	diag - The attempt's diagnosis. Must not be nil.
//	spec - The original specification text.
//	prev - The previous candidate sources.
//
// Outputs:
//
//	string - The feedback text, deterministic for identical inputs.
func (c *Composer) Compose(diag *diagnose.Diagnosis, spec string, prev toolchain.SourceSet) string {
	var b strings.Builder

	b.WriteString("### Original Specification\n")
	b.WriteString(strings.TrimSpace(spec))
	b.WriteString("\n\n")

	if prev.Design != "" {
		b.WriteString("### Previous Verilog Candidate\n")
		b.WriteString(strings.TrimSpace(prev.Design))
		b.WriteString("\n\n")
	}
	if prev.Testbench != "" {
		b.WriteString("### Previous Testbench\n")
		b.WriteString(strings.TrimSpace(prev.Testbench))
		b.WriteString("\n\n")
	}

	b.WriteString("### Simulation Errors\n")
	b.WriteString(c.truncate(diag.ErrorLog))
	b.WriteString("\n\n")

	for _, table := range diag.Tables {
		b.WriteString(fmt.Sprintf("### Waveform Around Failing Cycle %d\n", table.FailingCycle))
		writeGrid(&b, table)
		b.WriteString("\n")
	}

	b.WriteString("Analyze the timing diagram. Did a signal change on the wrong clock edge? " +
		"Fix the Verilog code and return the complete corrected sources.\n")
	return b.String()
}

// truncate keeps the tail of the log within the byte budget, cutting at
// a line boundary where possible.
func (c *Composer) truncate(log string) string {
	log = strings.TrimSpace(log)
	if log == "" {
		return "[no output captured]"
	}
	if len(log) <= c.cfg.MaxLogBytes {
		return log
	}
	cut := log[len(log)-c.cfg.MaxLogBytes:]
	if nl := strings.IndexByte(cut, '\n'); nl >= 0 && nl < len(cut)-1 {
		cut = cut[nl+1:]
	}
	return TruncationMarker + "\n" + cut
}

// writeGrid renders a timing table as an aligned per-cycle grid:
// one column per timestamp, one row per signal, declaration order.
func writeGrid(b *strings.Builder, table diagnose.TimingTable) {
	nameWidth := len("time")
	for _, name := range table.Signals {
		if len(name) > nameWidth {
			nameWidth = len(name)
		}
	}

	colWidths := make([]int, len(table.Times))
	for j, ts := range table.Times {
		colWidths[j] = len(fmt.Sprintf("%d", ts))
		for i := range table.Signals {
			if len(table.Values[i][j]) > colWidths[j] {
				colWidths[j] = len(table.Values[i][j])
			}
		}
	}

	fmt.Fprintf(b, "%-*s", nameWidth, "time")
	for j, ts := range table.Times {
		marker := " "
		if ts == table.FailingCycle {
			marker = "*"
		}
		fmt.Fprintf(b, " |%s%*d", marker, colWidths[j], ts)
	}
	b.WriteString("\n")

	for i, name := range table.Signals {
		fmt.Fprintf(b, "%-*s", nameWidth, name)
		for j := range table.Times {
			fmt.Fprintf(b, " | %*s", colWidths[j], table.Values[i][j])
		}
		b.WriteString("\n")
	}
}

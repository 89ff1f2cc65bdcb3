// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/diagnose"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
)

func sampleDiagnosis() *diagnose.Diagnosis {
	return &diagnose.Diagnosis{
		FailingCycles: []uint64{42},
		Tables: []diagnose.TimingTable{{
			FailingCycle: 42,
			Times:        []uint64{40, 41, 42, 43},
			Signals:      []string{"clk", "count[7:0]", "assert_failed"},
			Values: [][]string{
				{"0", "1", "0", "1"},
				{"00000001", "00000001", "0000001x", "0000001x"},
				{"0", "0", "1", "1"},
			},
		}},
		ErrorLog: "assertion failed: count mismatch",
	}
}

func TestCompose_IsPure(t *testing.T) {
	c := New(Config{})
	prev := toolchain.SourceSet{Design: "module my_module; endmodule"}

	first := c.Compose(sampleDiagnosis(), "8-bit counter", prev)
	second := c.Compose(sampleDiagnosis(), "8-bit counter", prev)
	assert.Equal(t, first, second, "identical inputs must yield byte-identical output")
}

func TestCompose_Sections(t *testing.T) {
	c := New(Config{})
	out := c.Compose(sampleDiagnosis(), "Build an 8-bit counter.",
		toolchain.SourceSet{Design: "module my_module; endmodule", Testbench: "import cocotb"})

	assert.Contains(t, out, "Build an 8-bit counter.")
	assert.Contains(t, out, "module my_module; endmodule")
	assert.Contains(t, out, "import cocotb")
	assert.Contains(t, out, "assertion failed: count mismatch")
	assert.Contains(t, out, "Waveform Around Failing Cycle 42")
	assert.Contains(t, out, "0000001x", "symbolic bits survive into the grid")

	// The failing column is marked.
	assert.Contains(t, out, "|*42")
}

func TestCompose_GridAlignment(t *testing.T) {
	c := New(Config{})
	out := c.Compose(sampleDiagnosis(), "spec", toolchain.SourceSet{Design: "d"})

	var gridLines []string
	inGrid := false
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "time") {
			inGrid = true
		}
		if inGrid {
			if line == "" {
				break
			}
			gridLines = append(gridLines, line)
		}
	}
	require.Len(t, gridLines, 4, "header plus one row per signal")
	for _, line := range gridLines[1:] {
		assert.Len(t, line, len(gridLines[0]), "rows align with the header")
	}
}

func TestCompose_TruncatesLongLogs(t *testing.T) {
	c := New(Config{MaxLogBytes: 64})
	diag := &diagnose.Diagnosis{
		ErrorLog: strings.Repeat("noise line\n", 100) + "decisive assertion message",
	}

	out := c.Compose(diag, "spec", toolchain.SourceSet{})
	assert.Contains(t, out, TruncationMarker)
	assert.Contains(t, out, "decisive assertion message", "the tail of the log is kept")
}

func TestCompose_EmptyLog(t *testing.T) {
	c := New(Config{})
	out := c.Compose(&diagnose.Diagnosis{}, "spec", toolchain.SourceSet{})
	assert.Contains(t, out, "[no output captured]")
}

func TestCompose_CyclesAscending(t *testing.T) {
	c := New(Config{})
	diag := &diagnose.Diagnosis{
		FailingCycles: []uint64{10, 20},
		Tables: []diagnose.TimingTable{
			{FailingCycle: 10, Times: []uint64{10}, Signals: []string{"s"}, Values: [][]string{{"1"}}},
			{FailingCycle: 20, Times: []uint64{20}, Signals: []string{"s"}, Values: [][]string{{"1"}}},
		},
		ErrorLog: "boom",
	}
	out := c.Compose(diag, "spec", toolchain.SourceSet{})
	first := strings.Index(out, "Failing Cycle 10")
	second := strings.Index(out, "Failing Cycle 20")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrace = `$date today $end
$version verilator $end
$timescale 1ps $end
$scope module TOP $end
$scope module my_module $end
$var wire 1 ! clk $end
$var wire 1 " rst $end
$var wire 8 # count [7:0] $end
$var wire 1 $ assert_failed $end
$upscope $end
$upscope $end
$enddefinitions $end
$dumpvars
0!
1"
bxxxxxxxx #
0$
$end
#5
1!
b00000001 #
#10
0!
0"
#15
1!
b00000010 #
1$
#20
0!
`

func TestRead_SampleTrace(t *testing.T) {
	tl, err := Read(strings.NewReader(sampleTrace))
	require.NoError(t, err)

	require.Len(t, tl.Signals, 4)
	assert.Equal(t, "TOP.my_module.clk", tl.Signals[0].Name)
	assert.Equal(t, "TOP.my_module.count[7:0]", tl.Signals[2].Name)
	assert.Equal(t, 8, tl.Signals[2].Width)
	assert.Equal(t, uint64(20), tl.EndTime)
	assert.Equal(t, "1ps", tl.Timescale)
	assert.Equal(t, []uint64{0, 5, 10, 15, 20}, tl.Times())
}

func TestRead_SymbolicStatesPreserved(t *testing.T) {
	tl, err := Read(strings.NewReader(sampleTrace))
	require.NoError(t, err)

	v, ok := tl.ValueAt("#", 0)
	require.True(t, ok)
	assert.Equal(t, "xxxxxxxx", v, "unknown bits must stay symbolic")

	v, ok = tl.ValueAt("#", 7)
	require.True(t, ok)
	assert.Equal(t, "00000001", v)
}

func TestRead_VectorLeftExtension(t *testing.T) {
	trace := `$var wire 4 ! bus $end
$enddefinitions $end
#0
b1 !
#1
bx0 !
#2
bz1 !
`
	tl, err := Read(strings.NewReader(trace))
	require.NoError(t, err)

	changes := tl.ChangesFor("!")
	require.Len(t, changes, 3)
	assert.Equal(t, "0001", changes[0].Value)
	assert.Equal(t, "xxx0", changes[1].Value)
	assert.Equal(t, "zzz1", changes[2].Value)
}

func TestRead_LastKnownValueSemantics(t *testing.T) {
	tl, err := Read(strings.NewReader(sampleTrace))
	require.NoError(t, err)

	// Before the first change of a signal, the value is all-x.
	v, ok := tl.ValueAt("$", 20)
	require.True(t, ok)
	assert.Equal(t, "1", v, "assert_failed last set at t=15")

	_, ok = tl.ValueAt("missing", 0)
	assert.False(t, ok)
}

func TestRead_PerSignalOrdering(t *testing.T) {
	tl, err := Read(strings.NewReader(sampleTrace))
	require.NoError(t, err)

	for _, sig := range tl.Signals {
		changes := tl.ChangesFor(sig.Code)
		for i := 1; i < len(changes); i++ {
			assert.GreaterOrEqual(t, changes[i].Time, changes[i-1].Time,
				"signal %s observed going backward in time", sig.Name)
		}
	}
}

func TestRead_FormatErrors(t *testing.T) {
	tests := []struct {
		name  string
		trace string
	}{
		{
			name:  "empty stream",
			trace: "",
		},
		{
			name:  "missing enddefinitions",
			trace: "$var wire 1 ! clk $end\n#0\n0!\n",
		},
		{
			name:  "no signals declared",
			trace: "$enddefinitions $end\n#0\n",
		},
		{
			name:  "truncated vector record",
			trace: "$var wire 4 ! bus $end\n$enddefinitions $end\n#0\nb1010",
		},
		{
			name:  "value wider than declaration",
			trace: "$var wire 2 ! bus $end\n$enddefinitions $end\n#0\nb1010 !\n",
		},
		{
			name:  "scalar change on vector signal",
			trace: "$var wire 8 ! bus $end\n$enddefinitions $end\n#0\n1!\n",
		},
		{
			name:  "undeclared identifier",
			trace: "$var wire 1 ! clk $end\n$enddefinitions $end\n#0\n1?\n",
		},
		{
			name:  "time going backward",
			trace: "$var wire 1 ! clk $end\n$enddefinitions $end\n#10\n1!\n#5\n0!\n",
		},
		{
			name:  "invalid bit in vector",
			trace: "$var wire 4 ! bus $end\n$enddefinitions $end\n#0\nb10q0 !\n",
		},
		{
			name:  "identifier redeclared with different width",
			trace: "$var wire 1 ! clk $end\n$var wire 8 ! clk2 $end\n$enddefinitions $end\n#0\n",
		},
		{
			name:  "unterminated comment",
			trace: "$var wire 1 ! clk $end\n$enddefinitions $end\n#0\n$comment never closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.trace))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTraceFormat)
		})
	}
}

func TestReadFile_MissingArtifact(t *testing.T) {
	_, err := ReadFile(t.TempDir() + "/does_not_exist.vcd")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTraceFormat)
}

func TestRead_AliasDeclaration(t *testing.T) {
	trace := `$var wire 1 ! clk $end
$var wire 1 ! clk_alias $end
$enddefinitions $end
#0
1!
`
	tl, err := Read(strings.NewReader(trace))
	require.NoError(t, err)
	require.Len(t, tl.Signals, 1, "alias keeps the first declaration")
	assert.Equal(t, "clk", tl.Signals[0].Name)
}

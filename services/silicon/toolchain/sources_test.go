// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSources(t *testing.T) {
	response := `Here is the design.
/// VERILOG START
module my_module(input clk, output reg q);
endmodule
/// VERILOG END
And the testbench:
/// PYTHON START
import cocotb
/// PYTHON END
`
	src, err := ExtractSources(response)
	require.NoError(t, err)
	assert.Contains(t, src.Design, "module my_module")
	assert.NotContains(t, src.Design, "VERILOG", "tags are stripped")
	assert.Equal(t, "import cocotb", src.Testbench)
}

func TestExtractSources_MissingTestbenchTolerated(t *testing.T) {
	src, err := ExtractSources("/// VERILOG START\nmodule m; endmodule\n/// VERILOG END")
	require.NoError(t, err)
	assert.Empty(t, src.Testbench)
}

func TestExtractSources_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"empty response", ""},
		{"no tags", "module m; endmodule"},
		{"unterminated design block", "/// VERILOG START\nmodule m;"},
		{"empty design block", "/// VERILOG START\n\n/// VERILOG END"},
		{"testbench only", "/// PYTHON START\nimport cocotb\n/// PYTHON END"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractSources(tt.response)
			assert.ErrorIs(t, err, ErrNoDesign)
		})
	}
}

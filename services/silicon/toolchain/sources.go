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
	"errors"
	"strings"
)

// Tag pairs delimiting the generated sources in a candidate response.
// The generative service is instructed to wrap its output in these
// exact markers.
const (
	VerilogStartTag = "/// VERILOG START"
	VerilogEndTag   = "/// VERILOG END"
	PythonStartTag  = "/// PYTHON START"
	PythonEndTag    = "/// PYTHON END"
)

// ErrNoDesign indicates the candidate response carried no design block.
// The controller treats this as a generation failure consuming one
// attempt, not a fatal error.
var ErrNoDesign = errors.New("candidate response contains no design block")

// SourceSet is one attempt's generated sources.
type SourceSet struct {
	// Design is the Verilog source written to dut.v.
	Design string

	// Testbench is the cocotb testbench written to testbench.py.
	// May be empty when the harness supplies its own testbench.
	Testbench string
}

// Empty reports whether the set carries no sources at all.
func (s SourceSet) Empty() bool {
	return s.Design == "" && s.Testbench == ""
}

// ExtractSources parses a candidate response into a SourceSet.
//
// Description:
//
//	Cuts the text between the VERILOG and PYTHON tag pairs, trimming
//	surrounding whitespace. A missing or empty design block returns
//	ErrNoDesign; a missing testbench block is tolerated.
//
// Inputs:
//
//	response - Raw text returned by the generative service.
//
// Outputs:
//
//	SourceSet - The extracted sources.
//	error - ErrNoDesign if no usable design block is present.
func ExtractSources(response string) (SourceSet, error) {
	var src SourceSet
	if block, ok := cut(response, VerilogStartTag, VerilogEndTag); ok {
		src.Design = block
	}
	if block, ok := cut(response, PythonStartTag, PythonEndTag); ok {
		src.Testbench = block
	}
	if src.Design == "" {
		return SourceSet{}, ErrNoDesign
	}
	return src, nil
}

// cut returns the trimmed text between the first start/end tag pair.
func cut(text, start, end string) (string, bool) {
	_, after, ok := strings.Cut(text, start)
	if !ok {
		return "", false
	}
	block, _, ok := strings.Cut(after, end)
	if !ok {
		return "", false
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

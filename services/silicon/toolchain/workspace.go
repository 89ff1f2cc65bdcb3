// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolchain invokes the external verification and physical-design
// toolchains as bounded subprocesses.
//
// Every invocation receives an explicit Workspace handle instead of
// mutating a process-global working directory; independent runs over
// separate workspaces may execute in parallel without sharing toolchain
// state.
package toolchain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Conventional artifact names inside a workspace, matching the cocotb
// Makefile harness contract.
const (
	DesignFile    = "dut.v"
	TestbenchFile = "testbench.py"
	TraceFile     = "dump.vcd"
)

// ErrPhysicalDesign indicates the layout backend failed. Terminal: the
// verified logical design is not the suspected fault, so the loop must
// not retry through regeneration.
var ErrPhysicalDesign = errors.New("physical design flow failed")

// Workspace is an isolated working directory for one run's build
// artifacts.
type Workspace struct {
	dir string
}

// NewWorkspace creates an isolated working directory under root.
//
// Inputs:
//
//	root - Parent directory. Created if absent.
//	runID - Unique run identifier, used as the directory name.
//
// Outputs:
//
//	*Workspace - Handle for subsequent build invocations.
//	error - Non-nil if the directory cannot be created.
func NewWorkspace(root, runID string) (*Workspace, error) {
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// WriteSources writes the candidate sources into the workspace,
// overwriting any previous attempt's files.
func (w *Workspace) WriteSources(src SourceSet) error {
	if src.Design == "" {
		return errors.New("source set has no design")
	}
	if err := os.WriteFile(filepath.Join(w.dir, DesignFile), []byte(src.Design), 0640); err != nil {
		return fmt.Errorf("write %s: %w", DesignFile, err)
	}
	if src.Testbench != "" {
		if err := os.WriteFile(filepath.Join(w.dir, TestbenchFile), []byte(src.Testbench), 0640); err != nil {
			return fmt.Errorf("write %s: %w", TestbenchFile, err)
		}
	}
	return nil
}

// TracePath returns the conventional trace artifact path and whether the
// artifact currently exists. A failing build without a trace (compile
// error before simulation) is a valid, expected state.
func (w *Workspace) TracePath() (string, bool) {
	p := filepath.Join(w.dir, TraceFile)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// RemoveTrace deletes a stale trace artifact from a previous attempt so a
// compile-time failure cannot surface last attempt's waveform.
func (w *Workspace) RemoveTrace() error {
	err := os.Remove(filepath.Join(w.dir, TraceFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale trace: %w", err)
	}
	return nil
}

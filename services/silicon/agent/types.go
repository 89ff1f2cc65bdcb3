// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent drives the iterative design-and-verification loop.
//
// The controller coordinates the generative backend, the verification
// toolchain, the waveform diagnoser, and the feedback composer through
// a finite state machine: IDLE, INGEST, GENERATE, BUILD, DIAGNOSE,
// CORRECT, PHYSICAL_DESIGN, and the terminal states DONE_PASSED,
// DONE_EXHAUSTED, and ABORTED.
//
// Thread Safety:
//
//	A Controller runs one loop at a time; use separate Controller and
//	Workspace instances for concurrent runs (see RunBatch).
package agent

import (
	"time"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/diagnose"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
)

// LoopState represents a state in the controller state machine.
//
// Valid transitions are enforced by the state machine. Invalid
// transitions return ErrInvalidTransition.
type LoopState string

const (
	// StateIdle is the initial state before a specification is received.
	StateIdle LoopState = "IDLE"

	// StateIngest validates the specification and seeds the transcript.
	StateIngest LoopState = "INGEST"

	// StateGenerate requests a candidate from the generative backend.
	StateGenerate LoopState = "GENERATE"

	// StateBuild compiles and simulates the candidate.
	StateBuild LoopState = "BUILD"

	// StateDiagnose extracts failure evidence from the trace artifact.
	StateDiagnose LoopState = "DIAGNOSE"

	// StateCorrect composes feedback and spends one attempt.
	StateCorrect LoopState = "CORRECT"

	// StatePhysicalDesign hands the verified design to the layout flow.
	StatePhysicalDesign LoopState = "PHYSICAL_DESIGN"

	// StateDonePassed indicates verification and layout both succeeded.
	StateDonePassed LoopState = "DONE_PASSED"

	// StateDoneExhausted indicates the attempt budget ran out.
	StateDoneExhausted LoopState = "DONE_EXHAUSTED"

	// StateAborted indicates cancellation or an unrecoverable failure.
	StateAborted LoopState = "ABORTED"
)

// String returns the state as a string.
func (s LoopState) String() string {
	return string(s)
}

// IsTerminal returns true for DONE_PASSED, DONE_EXHAUSTED, and ABORTED.
func (s LoopState) IsTerminal() bool {
	return s == StateDonePassed || s == StateDoneExhausted || s == StateAborted
}

// AllStates returns all valid loop states.
func AllStates() []LoopState {
	return []LoopState{
		StateIdle,
		StateIngest,
		StateGenerate,
		StateBuild,
		StateDiagnose,
		StateCorrect,
		StatePhysicalDesign,
		StateDonePassed,
		StateDoneExhausted,
		StateAborted,
	}
}

// Attempt records one generate-build-diagnose cycle.
type Attempt struct {
	// Sequence is 1-based.
	Sequence int `json:"sequence"`

	// Sources are the candidate sources this attempt built. Empty when
	// generation itself failed.
	Sources toolchain.SourceSet `json:"sources"`

	// Outcome is the build verdict for this attempt.
	Outcome *toolchain.BuildOutcome `json:"outcome"`

	// Diagnosis is the extracted failure evidence; nil on a pass.
	Diagnosis *diagnose.Diagnosis `json:"diagnosis,omitempty"`

	// Timestamp is when the attempt completed.
	Timestamp time.Time `json:"timestamp"`
}

// LoopResult is the verdict of one controller run.
type LoopResult struct {
	// RunID identifies the run in logs and the audit store.
	RunID string `json:"run_id"`

	// State is the terminal state: DONE_PASSED, DONE_EXHAUSTED, or
	// ABORTED.
	State LoopState `json:"state"`

	// FinalSources are the verified sources; set only on DONE_PASSED.
	FinalSources toolchain.SourceSet `json:"final_sources,omitempty"`

	// LayoutPath is the layout artifact; set only on DONE_PASSED.
	LayoutPath string `json:"layout_path,omitempty"`

	// Attempts is the full append-only attempt history, oldest first.
	Attempts []Attempt `json:"attempts"`

	// LastDiagnosis is the most recent failure evidence, if any.
	LastDiagnosis *diagnose.Diagnosis `json:"last_diagnosis,omitempty"`

	// LastErrorLog is the most recent build log, if any.
	LastErrorLog string `json:"last_error_log,omitempty"`

	// AbortReason explains an ABORTED result.
	AbortReason string `json:"abort_reason,omitempty"`

	// Duration is the wall-clock time of the whole run.
	Duration time.Duration `json:"duration"`
}

// DefaultSystemPrompt is the generation contract the verification
// harness depends on: tagged output blocks and the fixed top-module
// name the Makefile and layout flow both reference.
const DefaultSystemPrompt = `You are an expert hardware design agent.
1. Output Verilog code strictly inside /// VERILOG START and /// VERILOG END tags.
2. Output Cocotb (Python) testbench strictly inside /// PYTHON START and /// PYTHON END tags.
3. The top module MUST be named 'my_module'.
4. Do not include markdown formatting (like ` + "```verilog" + `) inside the tags.`

// Config tunes one controller run.
type Config struct {
	// MaxAttempts is the attempt budget. Must be >= 1.
	MaxAttempts int `yaml:"max_attempts"`

	// BuildTimeout is the per-build wall-clock limit. Zero means no
	// limit beyond the run context.
	BuildTimeout time.Duration `yaml:"build_timeout"`

	// GenerationTimeout bounds each generative call. Zero means no
	// limit beyond the run context.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig mirrors the historical five-iteration loop.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		BuildTimeout:      10 * time.Minute,
		GenerationTimeout: 10 * time.Minute,
		SystemPrompt:      DefaultSystemPrompt,
	}
}

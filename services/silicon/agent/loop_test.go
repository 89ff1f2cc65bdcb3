// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSilicon/services/llm"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
)

const goodCandidate = `Here is the design.
/// VERILOG START
module my_module(input clk);
endmodule
/// VERILOG END
/// PYTHON START
import cocotb
/// PYTHON END`

// failingTrace42 shows the check signal rising at cycle 42.
const failingTrace42 = `$timescale 1ps $end
$var wire 1 ! clk $end
$var wire 1 " assert_failed $end
$enddefinitions $end
#0
0!
0"
#10
1!
#42
1"
#50
0"
`

// truncatedTrace ends mid-record: a vector change with no identifier.
const truncatedTrace = `$var wire 1 ! assert_failed $end
$enddefinitions $end
#0
0!
#42
b1010
`

// fakeLLM replays scripted responses and captures each call's transcript.
type fakeLLM struct {
	responses   []string
	err         error
	calls       int
	transcripts [][]llm.Message
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, _ llm.GenerationParams) (string, error) {
	f.calls++
	copied := append([]llm.Message(nil), messages...)
	f.transcripts = append(f.transcripts, copied)
	if f.err != nil {
		return "", f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, llm.GenerationParams{})
}

// fakeRunner replays scripted outcomes, materializing trace artifacts in
// the workspace so the controller reads them off disk like production.
type fakeRunner struct {
	t        *testing.T
	outcomes []*toolchain.BuildOutcome
	traces   []string // VCD text per call; "" means no artifact
	calls    int
}

func (f *fakeRunner) Build(_ context.Context, ws *toolchain.Workspace, _ time.Duration) (*toolchain.BuildOutcome, error) {
	idx := f.calls
	f.calls++
	require.Less(f.t, idx, len(f.outcomes), "runner called more times than scripted")

	outcome := *f.outcomes[idx]
	if idx < len(f.traces) && f.traces[idx] != "" {
		p := filepath.Join(ws.Dir(), toolchain.TraceFile)
		require.NoError(f.t, os.WriteFile(p, []byte(f.traces[idx]), 0640))
		outcome.TracePath = p
	}
	return &outcome, nil
}

// fakeLayout records invocations of the physical-design flow.
type fakeLayout struct {
	calls int
	err   error
}

func (f *fakeLayout) Run(context.Context, *toolchain.Workspace) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "build/my_module.gds", nil
}

func fail(log string) *toolchain.BuildOutcome {
	return &toolchain.BuildOutcome{Passed: false, ExitCode: 1, Log: log}
}

func pass() *toolchain.BuildOutcome {
	return &toolchain.BuildOutcome{Passed: true, ExitCode: 0}
}

func newTestController(t *testing.T, cfg Config, client llm.Client,
	runner BuildRunner, layout LayoutRunner) *Controller {
	t.Helper()
	ws, err := toolchain.NewWorkspace(t.TempDir(), "run")
	require.NoError(t, err)
	ctrl, err := NewController(cfg, Deps{
		LLM:       client,
		Runner:    runner,
		Layout:    layout,
		Workspace: ws,
	})
	require.NoError(t, err)
	return ctrl
}

func TestRun_PassFirstAttempt(t *testing.T) {
	client := &fakeLLM{responses: []string{goodCandidate}}
	runner := &fakeRunner{t: t, outcomes: []*toolchain.BuildOutcome{pass()}}
	layout := &fakeLayout{}
	ctrl := newTestController(t, DefaultConfig(), client, runner, layout)

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateDonePassed, res.State)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, res.Attempts[0].Sequence)
	assert.Equal(t, 1, layout.calls, "layout flow invoked exactly once")
	assert.Contains(t, res.FinalSources.Design, "my_module")
	assert.Equal(t, "build/my_module.gds", res.LayoutPath)
	assert.NotEmpty(t, res.RunID)
}

func TestRun_FailTwiceThenPass(t *testing.T) {
	client := &fakeLLM{responses: []string{goodCandidate, goodCandidate, goodCandidate}}
	runner := &fakeRunner{
		t:        t,
		outcomes: []*toolchain.BuildOutcome{fail("assert failed"), fail("assert failed"), pass()},
		traces:   []string{failingTrace42, failingTrace42, ""},
	}
	layout := &fakeLayout{}
	ctrl := newTestController(t, DefaultConfig(), client, runner, layout)

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateDonePassed, res.State)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, 3, res.Attempts[2].Sequence)
	assert.Equal(t, 1, layout.calls)

	// The second and third generation calls carry composed feedback
	// naming the failing cycle from the trace.
	require.Equal(t, 3, client.calls)
	for call := 1; call < 3; call++ {
		transcript := client.transcripts[call]
		last := transcript[len(transcript)-1]
		assert.Equal(t, llm.RoleUser, last.Role)
		assert.Contains(t, last.Content, "Failing Cycle 42", "call %d", call)
	}
}

func TestRun_BudgetExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	client := &fakeLLM{responses: []string{goodCandidate}}
	runner := &fakeRunner{
		t:        t,
		outcomes: []*toolchain.BuildOutcome{fail("boom"), fail("boom")},
		traces:   []string{failingTrace42, failingTrace42},
	}
	ctrl := newTestController(t, cfg, client, runner, &fakeLayout{})

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateDoneExhausted, res.State)
	assert.Len(t, res.Attempts, 2)
	assert.NotNil(t, res.LastDiagnosis)
	assert.Equal(t, "boom", res.LastErrorLog)
}

func TestRun_CompileErrorNoTrace(t *testing.T) {
	client := &fakeLLM{responses: []string{goodCandidate, goodCandidate}}
	runner := &fakeRunner{
		t:        t,
		outcomes: []*toolchain.BuildOutcome{fail("verilator: syntax error near 'endmodule'"), pass()},
	}
	ctrl := newTestController(t, DefaultConfig(), client, runner, &fakeLayout{})

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateDonePassed, res.State)
	require.Len(t, res.Attempts, 2)
	require.NotNil(t, res.Attempts[0].Diagnosis)
	assert.Empty(t, res.Attempts[0].Diagnosis.FailingCycles)

	// The correction turn carries the raw error log with no waveform.
	transcript := client.transcripts[1]
	last := transcript[len(transcript)-1].Content
	assert.Contains(t, last, "syntax error")
	assert.NotContains(t, last, "Waveform Around Failing Cycle")
}

func TestRun_TruncatedTraceAborts(t *testing.T) {
	client := &fakeLLM{responses: []string{goodCandidate}}
	runner := &fakeRunner{
		t:        t,
		outcomes: []*toolchain.BuildOutcome{fail("boom")},
		traces:   []string{truncatedTrace},
	}
	ctrl := newTestController(t, DefaultConfig(), client, runner, &fakeLayout{})

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateAborted, res.State)
	assert.Contains(t, res.AbortReason, "trace unusable")
	assert.Len(t, res.Attempts, 1, "the failed attempt is still in the history")
}

func TestRun_MalformedCandidatesBoundedProgress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	// Never emits a design block; every generation degrades.
	client := &fakeLLM{responses: []string{"I cannot help with that."}}
	runner := &fakeRunner{t: t}
	ctrl := newTestController(t, cfg, client, runner, &fakeLayout{})

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateDoneExhausted, res.State)
	assert.Len(t, res.Attempts, 3, "terminates in at most MaxAttempts cycles")
	assert.Equal(t, 0, runner.calls, "nothing to build without a candidate")
	for _, att := range res.Attempts {
		assert.Contains(t, att.Outcome.Log, "candidate generation failed")
	}
}

func TestRun_GenerationTransportError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	client := &fakeLLM{err: errors.New("connection refused")}
	ctrl := newTestController(t, cfg, client, &fakeRunner{t: t}, &fakeLayout{})

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateDoneExhausted, res.State)
	require.Len(t, res.Attempts, 1)
	assert.Contains(t, res.Attempts[0].Outcome.Log, "connection refused")
}

func TestRun_PhysicalDesignFailureAborts(t *testing.T) {
	client := &fakeLLM{responses: []string{goodCandidate}}
	runner := &fakeRunner{t: t, outcomes: []*toolchain.BuildOutcome{pass()}}
	layout := &fakeLayout{err: fmt.Errorf("%w: route congestion", toolchain.ErrPhysicalDesign)}
	ctrl := newTestController(t, DefaultConfig(), client, runner, layout)

	res, err := ctrl.Run(context.Background(), "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateAborted, res.State)
	assert.Contains(t, res.AbortReason, "physical design")
	assert.Empty(t, res.LayoutPath)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeLLM{responses: []string{goodCandidate}}
	ctrl := newTestController(t, DefaultConfig(), client, &fakeRunner{t: t}, &fakeLayout{})

	res, err := ctrl.Run(ctx, "an 8-bit counter")
	require.NoError(t, err)

	assert.Equal(t, StateAborted, res.State)
	assert.Contains(t, res.AbortReason, "cancelled")
	assert.Empty(t, res.Attempts)
}

func TestRun_EmptySpecRejected(t *testing.T) {
	ctrl := newTestController(t, DefaultConfig(), &fakeLLM{responses: []string{"x"}},
		&fakeRunner{t: t}, &fakeLayout{})

	_, err := ctrl.Run(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptySpec)
}

func TestRun_ControllerIsSingleUse(t *testing.T) {
	client := &fakeLLM{responses: []string{goodCandidate}}
	runner := &fakeRunner{t: t, outcomes: []*toolchain.BuildOutcome{pass(), pass()}}
	ctrl := newTestController(t, DefaultConfig(), client, runner, &fakeLayout{})

	_, err := ctrl.Run(context.Background(), "spec")
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), "spec")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNewController_Validation(t *testing.T) {
	ws, err := toolchain.NewWorkspace(t.TempDir(), "run")
	require.NoError(t, err)
	deps := Deps{LLM: &fakeLLM{}, Runner: &fakeRunner{t: t}, Layout: &fakeLayout{}, Workspace: ws}

	_, err = NewController(Config{MaxAttempts: 0}, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewController(Config{MaxAttempts: 1}, Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunBatch_IsolatedWorkspaces(t *testing.T) {
	root := t.TempDir()

	specs := []BatchSpec{
		{Name: "counter", Spec: "an 8-bit counter"},
		{Name: "shifter", Spec: "a 4-bit shift register"},
	}
	results, err := RunBatch(context.Background(), root, specs, 2, DefaultConfig(), Deps{
		LLM:    batchLLM{},
		Runner: &batchPassRunner{},
		Layout: &fakeLayout{},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, res := range results {
		assert.Equal(t, specs[i].Name, res.Name)
		require.NoError(t, res.Err)
		assert.Equal(t, StateDonePassed, res.Result.State)
	}

	// Each run wrote its design into its own directory.
	for _, name := range []string{"counter", "shifter"} {
		_, err := os.Stat(filepath.Join(root, name, toolchain.DesignFile))
		assert.NoError(t, err, "workspace for %s", name)
	}
}

// batchPassRunner is concurrency-safe: it always passes and never
// tracks call state.
type batchPassRunner struct{}

func (batchPassRunner) Build(context.Context, *toolchain.Workspace, time.Duration) (*toolchain.BuildOutcome, error) {
	return &toolchain.BuildOutcome{Passed: true, ExitCode: 0}, nil
}

// batchLLM is a stateless, concurrency-safe candidate source.
type batchLLM struct{}

func (batchLLM) Chat(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
	return goodCandidate, nil
}

func (batchLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return goodCandidate, nil
}

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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("silicon.toolchain")

// killGrace is how long a process gets between SIGKILL being issued on
// context expiry and the runner giving up waiting for its pipes.
const killGrace = 5 * time.Second

// RunnerConfig configures the verification toolchain invocation.
type RunnerConfig struct {
	// BuildCommand compiles and simulates the candidate. The cocotb
	// harness default is {"make", "WAVES=1"}.
	BuildCommand []string

	// CleanCommand runs before each build to drop stale artifacts.
	// Optional; its outcome is ignored.
	CleanCommand []string

	// PassMarker must appear in the combined output for a zero exit
	// status to count as a pass. Empty disables the marker check.
	PassMarker string
}

// DefaultRunnerConfig returns the cocotb/Verilator harness defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		BuildCommand: []string{"make", "WAVES=1"},
		CleanCommand: []string{"make", "clean"},
		PassMarker:   "TESTS=1 PASS=1",
	}
}

// BuildOutcome is the immutable result of one toolchain invocation.
type BuildOutcome struct {
	// Passed is true when the toolchain exited zero and, if configured,
	// the pass marker appeared in the output.
	Passed bool

	// ExitCode is the process exit status; -1 when the process was
	// killed or never started.
	ExitCode int

	// Log is the combined stdout/stderr, captured verbatim on failure
	// and empty on pass. Synthesized for timeouts and spawn failures.
	Log string

	// TracePath points at the trace artifact. Empty when the toolchain
	// produced none (e.g. a compile-time failure before simulation).
	TracePath string

	// TimedOut is true when the wall-clock cap killed the process.
	TimedOut bool

	// Duration is the wall-clock time of the invocation.
	Duration time.Duration
}

// Runner invokes the verification toolchain inside a workspace.
//
// Thread Safety: Safe for concurrent use across distinct workspaces.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a Runner.
//
// Inputs:
//
//	cfg - Invocation configuration. Zero-value BuildCommand falls back
//	      to DefaultRunnerConfig.
//	logger - Logger for build events. If nil, uses slog.Default().
func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	if len(cfg.BuildCommand) == 0 {
		cfg = DefaultRunnerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger.With(slog.String("component", "build_runner"))}
}

// Build runs the verification toolchain once.
//
// Description:
//
//	Runs the configured clean command, removes any stale trace artifact,
//	then runs the build command with timeout as a hard wall-clock cap.
//	The process is killed and reaped on every exit path; a timeout or a
//	toolchain crash is reported as a failing outcome with a synthesized
//	log, never as an error.
//
// Inputs:
//
//	ctx - Context for cancellation. Run cancellation kills the process.
//	ws - The workspace holding the candidate sources.
//	timeout - Hard wall-clock cap for the build command.
//
// Outputs:
//
//	*BuildOutcome - The invocation result. Never nil on success.
//	error - Non-nil only for invariant violations (nil workspace).
func (r *Runner) Build(ctx context.Context, ws *Workspace, timeout time.Duration) (*BuildOutcome, error) {
	if ws == nil {
		return nil, errors.New("nil workspace")
	}

	ctx, span := tracer.Start(ctx, "Runner.Build")
	defer span.End()
	span.SetAttributes(attribute.String("workspace", ws.Dir()))

	if len(r.cfg.CleanCommand) > 0 {
		clean := exec.CommandContext(ctx, r.cfg.CleanCommand[0], r.cfg.CleanCommand[1:]...)
		clean.Dir = ws.Dir()
		_ = clean.Run()
	}
	if err := ws.RemoveTrace(); err != nil {
		r.logger.Warn("Failed to drop stale trace artifact", "error", err)
	}

	buildCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		buildCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(buildCtx, r.cfg.BuildCommand[0], r.cfg.BuildCommand[1:]...)
	cmd.Dir = ws.Dir()
	cmd.WaitDelay = killGrace

	start := time.Now()
	out, runErr := cmd.CombinedOutput()
	elapsed := time.Since(start)

	outcome := &BuildOutcome{
		ExitCode: -1,
		Duration: elapsed,
	}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case buildCtx.Err() == context.DeadlineExceeded:
		outcome.TimedOut = true
		outcome.Log = fmt.Sprintf("[build timed out after %s; process killed]\n%s", timeout, out)
	case runErr != nil && len(out) == 0:
		// Spawn failure (command not found, permission denied).
		outcome.Log = fmt.Sprintf("[toolchain invocation failed: %v]", runErr)
	case runErr != nil:
		outcome.Log = string(out)
	default:
		// Exit 0: still require the harness pass marker when configured.
		if r.cfg.PassMarker == "" || bytes.Contains(out, []byte(r.cfg.PassMarker)) {
			outcome.Passed = true
		} else {
			outcome.Log = string(out)
		}
	}

	if !outcome.Passed {
		if p, ok := ws.TracePath(); ok {
			outcome.TracePath = p
		}
	}

	r.logger.Info("Build finished",
		"passed", outcome.Passed,
		"exit_code", outcome.ExitCode,
		"timed_out", outcome.TimedOut,
		"trace", outcome.TracePath != "",
		"duration", elapsed,
	)
	span.SetAttributes(
		attribute.Bool("build.passed", outcome.Passed),
		attribute.Bool("build.timed_out", outcome.TimedOut),
	)
	return outcome, nil
}

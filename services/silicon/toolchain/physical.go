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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// PhysicalConfig configures the layout backend invocation.
type PhysicalConfig struct {
	// Command drives the physical-design flow against the verified
	// design inside the workspace.
	Command []string

	// OutputPath is the layout artifact path relative to the workspace.
	OutputPath string
}

// DefaultPhysicalConfig returns the SiliconCompiler ASAP7 flow defaults.
func DefaultPhysicalConfig() PhysicalConfig {
	return PhysicalConfig{
		Command:    []string{"sc", DesignFile, "-target", "asap7_demo"},
		OutputPath: filepath.Join("build", "my_module.gds"),
	}
}

// PhysicalDesign is a thin passthrough to the external layout backend.
//
// It is invoked exactly once, after a passing verification, and is not
// part of the retry loop: a layout failure is terminal.
type PhysicalDesign struct {
	cfg    PhysicalConfig
	logger *slog.Logger
}

// NewPhysicalDesign creates the layout trigger.
func NewPhysicalDesign(cfg PhysicalConfig, logger *slog.Logger) *PhysicalDesign {
	if len(cfg.Command) == 0 {
		cfg = DefaultPhysicalConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PhysicalDesign{cfg: cfg, logger: logger.With(slog.String("component", "physical_design"))}
}

// Run forwards the verified design to the layout backend.
//
// Description:
//
//	Runs the configured flow command in the workspace and surfaces the
//	layout artifact path or the failure untouched. All failures wrap
//	ErrPhysicalDesign so the controller can map them to an aborted run.
//
// Inputs:
//
//	ctx - Context for cancellation; cancellation kills the process.
//	ws - Workspace containing the verified sources.
//
// Outputs:
//
//	string - Absolute path to the layout artifact.
//	error - Wraps ErrPhysicalDesign on any failure.
func (p *PhysicalDesign) Run(ctx context.Context, ws *Workspace) (string, error) {
	if ws == nil {
		return "", errors.New("nil workspace")
	}

	ctx, span := tracer.Start(ctx, "PhysicalDesign.Run")
	defer span.End()

	p.logger.Info("Starting physical design flow", "workspace", ws.Dir())

	cmd := exec.CommandContext(ctx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = ws.Dir()
	cmd.WaitDelay = killGrace
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrPhysicalDesign, err, tail(string(out), 2048))
	}

	artifact := filepath.Join(ws.Dir(), p.cfg.OutputPath)
	if _, statErr := os.Stat(artifact); statErr != nil {
		return "", fmt.Errorf("%w: flow exited clean but produced no artifact at %s",
			ErrPhysicalDesign, artifact)
	}

	p.logger.Info("Physical design complete", "artifact", artifact)
	return artifact, nil
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

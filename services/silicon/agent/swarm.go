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
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
)

// BatchSpec is one independent specification in a batch run.
type BatchSpec struct {
	// Name labels the run in logs and the result slice.
	Name string

	// Spec is the design specification text.
	Spec string
}

// BatchResult pairs a BatchSpec with its run verdict.
type BatchResult struct {
	Name   string
	Result *LoopResult
	Err    error
}

// RunBatch drives several specifications concurrently, each in its own
// workspace under root.
//
// Description:
//
//	Creates one isolated Workspace and Controller per specification so
//	build artifacts never collide, then runs them under an errgroup
//	bounded to maxParallel. Individual run failures are captured in the
//	result slice rather than failing the batch; only workspace or
//	controller construction errors abort early.
//
// Inputs:
//
//	ctx - Context for cancellation of the whole batch.
//	root - Parent directory for the per-run workspaces.
//	specs - The specifications to run.
//	maxParallel - Concurrent run cap; <= 0 means len(specs).
//	cfg - Controller configuration shared by all runs.
//	deps - Collaborator template. Workspace is replaced per run; the
//	       other collaborators are shared and must be concurrency-safe.
//
// Outputs:
//
//	[]BatchResult - One entry per spec, same order.
//	error - Non-nil if any workspace or controller could not be built.
func RunBatch(ctx context.Context, root string, specs []BatchSpec, maxParallel int,
	cfg Config, deps Deps) ([]BatchResult, error) {

	if maxParallel <= 0 {
		maxParallel = len(specs)
	}

	results := make([]BatchResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, spec := range specs {
		ws, err := toolchain.NewWorkspace(root, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("workspace for %q: %w", spec.Name, err)
		}
		runDeps := deps
		runDeps.Workspace = ws

		ctrl, err := NewController(cfg, runDeps)
		if err != nil {
			return nil, fmt.Errorf("controller for %q: %w", spec.Name, err)
		}

		g.Go(func() error {
			slog.Info("Batch run starting", slog.String("name", spec.Name))
			res, runErr := ctrl.Run(gctx, spec.Spec)
			results[i] = BatchResult{Name: spec.Name, Result: res, Err: runErr}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

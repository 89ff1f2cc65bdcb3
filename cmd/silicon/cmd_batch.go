// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/agent"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/telemetry"
)

var batchParallel int

var batchCmd = &cobra.Command{
	Use:   "batch [spec directory]",
	Short: "Run the loop for every specification in a directory",
	Long: `Runs the design-and-verification loop for every .txt file in the
given directory, each in its own isolated workspace:

  silicon batch specs/               # sequential
  silicon batch specs/ --parallel 4  # up to four loops at once

The spec file's base name becomes the workspace name. The process
exits non-zero if any run failed to pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchParallel, "parallel", "p", 1,
		"Maximum number of concurrent loops (0 means unbounded)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	specs, err := collectSpecs(args[0])
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("no .txt spec files in %s", args[0])
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown(context.Background())

	deps, cleanup, err := loopDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("batch starting", "specs", len(specs), "parallel", batchParallel)

	results, err := agent.RunBatch(ctx, cfg.WorkspaceRoot, specs, batchParallel, loopConfig(), deps)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("%-24s ERROR  %v\n", res.Name, res.Err)
		case res.Result.State == agent.StateDonePassed:
			fmt.Printf("%-24s PASS   %d attempt(s), layout %s\n",
				res.Name, len(res.Result.Attempts), res.Result.LayoutPath)
		default:
			failed++
			fmt.Printf("%-24s %-6s %d attempt(s)\n",
				res.Name, res.Result.State, len(res.Result.Attempts))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d runs did not pass", failed, len(results))
	}
	return nil
}

// collectSpecs reads every .txt file in dir as a named specification.
func collectSpecs(dir string) ([]agent.BatchSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read spec directory %s: %w", dir, err)
	}

	var specs []agent.BatchSpec
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read spec %s: %w", entry.Name(), err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		specs = append(specs, agent.BatchSpec{
			Name: strings.TrimSuffix(entry.Name(), ".txt"),
			Spec: text,
		})
	}
	return specs, nil
}

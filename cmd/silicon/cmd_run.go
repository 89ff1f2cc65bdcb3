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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianSilicon/services/llm"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/agent"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/diagnose"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/feedback"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/history"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/telemetry"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
)

var (
	runSpecPath string
	runBackend  string
	runAttempts int
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the design-and-verification loop for one specification",
	Long: `Runs the full loop for a single design specification:

  silicon run                          # reads design_spec.txt
  silicon run -s specs/counter.txt     # explicit spec file
  silicon run --attempts 3 --json      # tighter budget, JSON result

The process exits 0 only when the design passed verification and the
layout flow completed.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runSpecPath, "spec", "s", "design_spec.txt",
		"Path to the design specification file")
	runCmd.Flags().StringVar(&runBackend, "backend", "",
		"Generative backend override (ollama or openai)")
	runCmd.Flags().IntVar(&runAttempts, "attempts", 0,
		"Attempt budget override")
	runCmd.Flags().BoolVar(&runJSON, "json", false,
		"Print the full result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	specBytes, err := os.ReadFile(runSpecPath)
	if err != nil {
		return fmt.Errorf("read spec %s: %w", runSpecPath, err)
	}
	spec := strings.TrimSpace(string(specBytes))
	if spec == "" {
		return fmt.Errorf("spec file %s is empty", runSpecPath)
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

	ws, err := toolchain.NewWorkspace(cfg.WorkspaceRoot, uuid.NewString())
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	deps.Workspace = ws

	ctrl, err := agent.NewController(loopConfig(), deps)
	if err != nil {
		return err
	}

	logger.Info("run starting",
		"spec", runSpecPath,
		"workspace", ws.Dir(),
		"backend", backendName(),
	)

	result, err := ctrl.Run(ctx, spec)
	if err != nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printResult(result)
	}

	if result.State != agent.StateDonePassed {
		return fmt.Errorf("run ended in %s", result.State)
	}
	return nil
}

// loopConfig merges file configuration with command-line overrides.
func loopConfig() agent.Config {
	lc := agent.Config{
		MaxAttempts:       cfg.Loop.MaxAttempts,
		BuildTimeout:      cfg.Loop.BuildTimeout.Std(),
		GenerationTimeout: cfg.Loop.GenerationTimeout.Std(),
		SystemPrompt:      cfg.Loop.SystemPrompt,
	}
	if runAttempts > 0 {
		lc.MaxAttempts = runAttempts
	}
	return lc
}

func backendName() string {
	if runBackend != "" {
		return runBackend
	}
	return cfg.Backend
}

// newLLMClient constructs the generative backend from configuration.
// Credentials and endpoints come from the environment, never the
// config file.
func newLLMClient(backend string) (llm.Client, error) {
	switch backend {
	case "ollama":
		return llm.NewOllamaClient()
	case "openai":
		return llm.NewOpenAIClient()
	default:
		return nil, fmt.Errorf("unknown backend %q (want ollama or openai)", backend)
	}
}

// loopDeps builds the controller dependencies that are shared between
// single runs and batches. Workspace is left for the caller. The
// returned cleanup closes the audit store.
func loopDeps() (agent.Deps, func(), error) {
	cleanup := func() {}

	client, err := newLLMClient(backendName())
	if err != nil {
		return agent.Deps{}, cleanup, err
	}

	slogger := logger.Slog()

	runner := toolchain.NewRunner(toolchain.RunnerConfig{
		BuildCommand: cfg.Toolchain.BuildCommand,
		CleanCommand: cfg.Toolchain.CleanCommand,
		PassMarker:   cfg.Toolchain.PassMarker,
	}, slogger)

	physicalCfg := toolchain.DefaultPhysicalConfig()
	if len(cfg.Toolchain.PhysicalCommand) > 0 {
		physicalCfg.Command = cfg.Toolchain.PhysicalCommand
	}
	if cfg.Toolchain.LayoutOutput != "" {
		physicalCfg.OutputPath = cfg.Toolchain.LayoutOutput
	}
	layout := toolchain.NewPhysicalDesign(physicalCfg, slogger)

	diagnoser := diagnose.New(diagnose.Config{
		CheckPatterns:    cfg.Diagnose.CheckPatterns,
		FailingValue:     cfg.Diagnose.FailingValue,
		MaxFailingCycles: cfg.Diagnose.MaxFailingCycles,
		WindowRadius:     cfg.Diagnose.WindowRadius,
	}, slogger)

	composer := feedback.New(feedback.Config{MaxLogBytes: cfg.MaxLogBytes})

	deps := agent.Deps{
		LLM:       client,
		Runner:    runner,
		Layout:    layout,
		Diagnoser: diagnoser,
		Composer:  composer,
		Logger:    slogger,
	}

	if cfg.HistoryPath != "" {
		store, err := history.Open(history.Config{
			Path:   cfg.HistoryPath,
			Logger: slogger,
		})
		if err != nil {
			return agent.Deps{}, cleanup, fmt.Errorf("open history store: %w", err)
		}
		deps.Recorder = store
		cleanup = func() { store.Close() }
	}

	metrics, err := telemetry.NewMetrics(otel.Meter("silicon"))
	if err != nil {
		cleanup()
		return agent.Deps{}, func() {}, fmt.Errorf("create metrics: %w", err)
	}
	deps.Metrics = metrics

	return deps, cleanup, nil
}

func printResult(result *agent.LoopResult) {
	fmt.Printf("Run %s finished in %s after %d attempt(s): %s\n",
		result.RunID, result.Duration.Round(time.Millisecond), len(result.Attempts), result.State)

	for _, attempt := range result.Attempts {
		status := "FAIL"
		if attempt.Outcome != nil && attempt.Outcome.Passed {
			status = "PASS"
		}
		line := fmt.Sprintf("  attempt %d: %s", attempt.Sequence, status)
		if attempt.Diagnosis != nil && len(attempt.Diagnosis.FailingCycles) > 0 {
			line += fmt.Sprintf(" (failing cycles %v)", attempt.Diagnosis.FailingCycles)
		}
		fmt.Println(line)
	}

	switch result.State {
	case agent.StateDonePassed:
		fmt.Printf("Layout written to %s\n", result.LayoutPath)
	case agent.StateAborted:
		fmt.Printf("Aborted: %s\n", result.AbortReason)
	}
}

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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/history"
)

var auditCmd = &cobra.Command{
	Use:   "audit [run-id]",
	Short: "Inspect the persisted attempt history",
	Long: `Reads the audit store written during previous runs:

  silicon audit               # list known run IDs
  silicon audit <run-id>      # per-attempt detail for one run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	if cfg.HistoryPath == "" {
		return fmt.Errorf("history_path is not configured; nothing to audit")
	}

	store, err := history.Open(history.Config{
		Path:   cfg.HistoryPath,
		Logger: logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	if len(args) == 0 {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}
		for _, id := range runs {
			fmt.Println(id)
		}
		return nil
	}

	runID := args[0]
	records, err := store.List(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d attempt(s)\n", runID, len(records))
	for _, rec := range records {
		status := "FAIL"
		switch {
		case rec.Passed:
			status = "PASS"
		case rec.TimedOut:
			status = "TIMEOUT"
		}
		fmt.Printf("  attempt %d  %-7s exit=%d", rec.Sequence, status, rec.ExitCode)
		if len(rec.FailingCycles) > 0 {
			fmt.Printf("  failing cycles %v", rec.FailingCycles)
		}
		fmt.Printf("  %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return nil
}

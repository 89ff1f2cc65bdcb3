// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command silicon drives the iterative hardware design-and-verification
// loop: it generates Verilog candidates with a local or remote
// generative backend, verifies them with the external toolchain, and
// feeds waveform-grounded diagnostics back until the testbench passes
// or the attempt budget is spent.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSilicon/pkg/logging"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/config"
)

var (
	cfg     config.Config
	logger  *logging.Logger
	cfgPath string
	verbose bool
	logDir  string

	rootCmd = &cobra.Command{
		Use:   "silicon",
		Short: "Iterative LLM-driven hardware design and verification",
		Long: `silicon closes the loop between a generative model and a hardware
verification toolchain. Each run ingests a natural-language design
specification, generates a Verilog module plus cocotb testbench,
builds and simulates them, extracts failing cycles from the VCD
waveform trace, and feeds that evidence back for correction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil && !errors.Is(err, config.ErrNotFound) {
				return err
			}

			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}
			logger = logging.New(logging.Config{
				Level:   level,
				LogDir:  logDir,
				Service: "silicon",
			})
			slog.SetDefault(logger.Slog())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml",
		"Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Directory for JSON log files (disabled when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the silicon configuration file.
//
// Secrets (API keys, endpoints) stay in the environment; the YAML file
// holds only loop, toolchain, and telemetry tuning.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/telemetry"
)

// ErrNotFound is returned when the config file does not exist.
var ErrNotFound = errors.New("config file not found")

var validate = validator.New()

// Duration is a time.Duration that unmarshals from strings like "90s"
// or "10m" as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoopConfig tunes the iteration controller.
type LoopConfig struct {
	MaxAttempts       int      `yaml:"max_attempts" validate:"gte=1,lte=100"`
	BuildTimeout      Duration `yaml:"build_timeout" validate:"gte=0"`
	GenerationTimeout Duration `yaml:"generation_timeout" validate:"gte=0"`
	SystemPrompt      string   `yaml:"system_prompt"`
}

// ToolchainConfig tunes the external toolchain invocations.
type ToolchainConfig struct {
	BuildCommand    []string `yaml:"build_command"`
	CleanCommand    []string `yaml:"clean_command"`
	PassMarker      string   `yaml:"pass_marker"`
	PhysicalCommand []string `yaml:"physical_command"`
	LayoutOutput    string   `yaml:"layout_output"`
}

// DiagnoseConfig tunes failing-cycle extraction.
type DiagnoseConfig struct {
	CheckPatterns    []string `yaml:"check_patterns"`
	FailingValue     string   `yaml:"failing_value"`
	MaxFailingCycles int      `yaml:"max_failing_cycles" validate:"gte=0"`
	WindowRadius     int      `yaml:"window_radius" validate:"gte=0"`
}

// Config is the full application configuration.
type Config struct {
	// Backend selects the generative service: "ollama" or "openai".
	Backend string `yaml:"backend" validate:"oneof=ollama openai"`

	// WorkspaceRoot is the parent directory for per-run workspaces.
	WorkspaceRoot string `yaml:"workspace_root" validate:"required"`

	// HistoryPath is the BadgerDB directory for the audit store. Empty
	// disables audit persistence.
	HistoryPath string `yaml:"history_path"`

	// ListenAddr is the HTTP address for `silicon serve`.
	ListenAddr string `yaml:"listen_addr"`

	// MaxLogBytes caps the error-log excerpt in composed feedback.
	MaxLogBytes int `yaml:"max_log_bytes" validate:"gte=0"`

	Loop      LoopConfig       `yaml:"loop"`
	Toolchain ToolchainConfig  `yaml:"toolchain"`
	Diagnose  DiagnoseConfig   `yaml:"diagnose"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Backend:       "ollama",
		WorkspaceRoot: "runs",
		HistoryPath:   "silicon.db",
		ListenAddr:    ":8080",
		MaxLogBytes:   4096,
		Loop: LoopConfig{
			MaxAttempts:       5,
			BuildTimeout:      Duration(10 * time.Minute),
			GenerationTimeout: Duration(10 * time.Minute),
		},
		Toolchain: ToolchainConfig{
			BuildCommand: []string{"make", "WAVES=1"},
			CleanCommand: []string{"make", "clean"},
			PassMarker:   "TESTS=1 PASS=1",
		},
		Diagnose: DiagnoseConfig{
			CheckPatterns:    []string{"fail", "assert"},
			FailingValue:     "1",
			MaxFailingCycles: 3,
			WindowRadius:     5,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads and validates the configuration file at path.
//
// Description:
//
//	Starts from Default() so a partial file only overrides what it
//	names. A missing file returns ErrNotFound with the defaults, so
//	callers can choose to proceed without one.
//
// Outputs:
//
//	Config - The merged configuration (defaults on ErrNotFound).
//	error - ErrNotFound, a YAML error, or a validation error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

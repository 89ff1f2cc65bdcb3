// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Defaults are still usable.
	assert.Equal(t, "ollama", cfg.Backend)
	assert.Equal(t, 5, cfg.Loop.MaxAttempts)
	assert.Equal(t, "TESTS=1 PASS=1", cfg.Toolchain.PassMarker)
}

func TestLoad_PartialOverride(t *testing.T) {
	path := writeConfig(t, `
backend: openai
loop:
  max_attempts: 8
  build_timeout: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Backend)
	assert.Equal(t, 8, cfg.Loop.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Loop.BuildTimeout.Std())
	// Untouched sections keep their defaults.
	assert.Equal(t, []string{"make", "WAVES=1"}, cfg.Toolchain.BuildCommand)
	assert.Equal(t, []string{"fail", "assert"}, cfg.Diagnose.CheckPatterns)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "backend: crystal-ball\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsZeroAttempts(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_attempts: 0\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "backend: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_DisabledExporters(t *testing.T) {
	cfg := Config{
		ServiceName:    "silicon-test",
		TraceExporter:  "none",
		MetricExporter: "none",
	}
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := Config{
		ServiceName:    "silicon-test",
		TraceExporter:  "carrier-pigeon",
		MetricExporter: "none",
	}
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // verifying the nil-context guard
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics(otel.Meter("silicon-test"))
	require.NoError(t, err)

	// Record against the global (noop by default) provider; must not panic.
	ctx := context.Background()
	m.RecordAttempt(ctx, true)
	m.RecordAttempt(ctx, false)
	m.RecordGenerationDuration(ctx, 2*time.Second)
	m.RecordBuildDuration(ctx, 30*time.Second)
	m.RecordRun(ctx, "DONE_PASSED")
}

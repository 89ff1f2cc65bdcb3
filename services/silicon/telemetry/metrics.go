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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined instruments for the design loop.
// All metrics use the "silicon_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// AttemptsTotal counts generate-build cycles by verdict.
	AttemptsTotal metric.Int64Counter

	// GenerationDuration records generative-call duration in seconds.
	GenerationDuration metric.Float64Histogram

	// BuildDuration records toolchain build duration in seconds.
	BuildDuration metric.Float64Histogram

	// RunsTotal counts completed runs by terminal state.
	RunsTotal metric.Int64Counter
}

// NewMetrics registers all loop instruments with the provided meter.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if instrument registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AttemptsTotal, err = meter.Int64Counter(
		"silicon_attempts_total",
		metric.WithDescription("Total generate-build cycles"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempts_total: %w", err)
	}

	m.GenerationDuration, err = meter.Float64Histogram(
		"silicon_generation_duration_seconds",
		metric.WithDescription("Generative call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation_duration: %w", err)
	}

	m.BuildDuration, err = meter.Float64Histogram(
		"silicon_build_duration_seconds",
		metric.WithDescription("Verification toolchain build duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("create build_duration: %w", err)
	}

	m.RunsTotal, err = meter.Int64Counter(
		"silicon_runs_total",
		metric.WithDescription("Completed runs by terminal state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	return m, nil
}

// RecordAttempt implements the controller's metrics hook.
func (m *Metrics) RecordAttempt(ctx context.Context, passed bool) {
	m.AttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("passed", passed)))
}

// RecordGenerationDuration implements the controller's metrics hook.
func (m *Metrics) RecordGenerationDuration(ctx context.Context, d time.Duration) {
	m.GenerationDuration.Record(ctx, d.Seconds())
}

// RecordBuildDuration implements the controller's metrics hook.
func (m *Metrics) RecordBuildDuration(ctx context.Context, d time.Duration) {
	m.BuildDuration.Record(ctx, d.Seconds())
}

// RecordRun implements the controller's metrics hook.
func (m *Metrics) RecordRun(ctx context.Context, state string) {
	m.RunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

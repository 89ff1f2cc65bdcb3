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
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianSilicon/services/llm"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/diagnose"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/feedback"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/toolchain"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/vcd"
)

var tracer = otel.Tracer("silicon.agent")

// BuildRunner runs the verification toolchain for one candidate.
type BuildRunner interface {
	Build(ctx context.Context, ws *toolchain.Workspace, timeout time.Duration) (*toolchain.BuildOutcome, error)
}

// LayoutRunner hands a verified design to the physical-design flow.
type LayoutRunner interface {
	Run(ctx context.Context, ws *toolchain.Workspace) (string, error)
}

// AttemptRecorder persists attempt records for later audit.
type AttemptRecorder interface {
	Record(ctx context.Context, runID string, attempt Attempt) error
}

// MetricsRecorder receives loop metrics. All methods must be cheap and
// non-blocking.
type MetricsRecorder interface {
	RecordAttempt(ctx context.Context, passed bool)
	RecordGenerationDuration(ctx context.Context, d time.Duration)
	RecordBuildDuration(ctx context.Context, d time.Duration)
	RecordRun(ctx context.Context, state string)
}

// Deps are the controller's collaborators. LLM, Runner, Layout, and
// Workspace are required; the rest default or are optional.
type Deps struct {
	LLM       llm.Client
	Runner    BuildRunner
	Layout    LayoutRunner
	Workspace *toolchain.Workspace

	// Diagnoser defaults to diagnose.New(diagnose.DefaultConfig(), ...).
	Diagnoser *diagnose.Diagnoser

	// Composer defaults to feedback.New(feedback.DefaultConfig()).
	Composer *feedback.Composer

	// Recorder is optional; nil disables audit persistence.
	Recorder AttemptRecorder

	// Metrics is optional; nil disables metric recording.
	Metrics MetricsRecorder

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller drives one design specification through the
// generate-build-diagnose-correct loop until a terminal state.
//
// Thread Safety: A Controller runs one loop at a time. Use one
// Controller per concurrent run; collaborators may be shared when they
// are themselves concurrency-safe.
type Controller struct {
	cfg   Config
	deps  Deps
	sm    *StateMachine
	state LoopState
}

// NewController validates the configuration and wires defaults.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: MaxAttempts must be >= 1, got %d", ErrInvalidConfig, cfg.MaxAttempts)
	}
	if deps.LLM == nil || deps.Runner == nil || deps.Layout == nil || deps.Workspace == nil {
		return nil, fmt.Errorf("%w: LLM, Runner, Layout, and Workspace are required", ErrInvalidConfig)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if deps.Diagnoser == nil {
		deps.Diagnoser = diagnose.New(diagnose.DefaultConfig(), deps.Logger)
	}
	if deps.Composer == nil {
		deps.Composer = feedback.New(feedback.DefaultConfig())
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{cfg: cfg, deps: deps, sm: DefaultStateMachine, state: StateIdle}, nil
}

// State returns the controller's current loop state.
func (c *Controller) State() LoopState {
	return c.state
}

// Run drives one specification to a terminal state.
//
// Description:
//
//	Seeds the chat transcript with the system prompt and specification,
//	then cycles GENERATE → BUILD → DIAGNOSE → CORRECT until the design
//	passes, the attempt budget is spent, or the run aborts. Generation
//	failures and build timeouts consume one attempt; a structurally
//	invalid trace or a physical-design failure aborts the run. External
//	cancellation is checked at the top of every cycle and surfaces as
//	ABORTED after the toolchain subprocess has been reaped.
//
// Inputs:
//
//	ctx - Context for cancellation and deadline of the whole run.
//	spec - The design specification text. Must be non-blank.
//
// Outputs:
//
//	*LoopResult - The run verdict with the full attempt history.
//	error - Non-nil only for invalid input (ErrEmptySpec) or when the
//	        controller was already used.
func (c *Controller) Run(ctx context.Context, spec string) (*LoopResult, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, ErrEmptySpec
	}
	if c.state != StateIdle {
		return nil, fmt.Errorf("%w: controller already ran (state %s)", ErrInvalidTransition, c.state)
	}

	runID := uuid.NewString()
	logger := c.deps.Logger.With(slog.String("run_id", runID))

	ctx, span := tracer.Start(ctx, "Controller.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	start := time.Now()
	result := &LoopResult{RunID: runID, State: StateAborted}

	c.mustTransition(logger, StateIngest, "specification received")
	logger.Info("Loop starting",
		slog.Int("spec_len", len(spec)),
		slog.Int("max_attempts", c.cfg.MaxAttempts),
	)

	transcript := []llm.Message{
		{Role: llm.RoleSystem, Content: c.cfg.SystemPrompt},
		{Role: llm.RoleUser, Content: spec},
	}
	c.mustTransition(logger, StateGenerate, "transcript seeded")

	for seq := 1; ; seq++ {
		if err := ctx.Err(); err != nil {
			return c.abort(logger, result, start, fmt.Sprintf("run cancelled: %v", err)), nil
		}

		sources, response, genErr := c.generate(ctx, logger, transcript)

		var outcome *toolchain.BuildOutcome
		if genErr != nil {
			// A bad candidate consumes one attempt like a failing build.
			logger.Warn("Generation failed, degrading to failing outcome", "error", genErr)
			outcome = &toolchain.BuildOutcome{
				Passed:   false,
				ExitCode: -1,
				Log:      fmt.Sprintf("[candidate generation failed: %v]", genErr),
			}
			c.mustTransition(logger, StateBuild, "degraded candidate")
		} else {
			transcript = append(transcript, llm.Message{Role: llm.RoleAssistant, Content: response})
			if err := c.deps.Workspace.WriteSources(sources); err != nil {
				return c.abort(logger, result, start, fmt.Sprintf("writing sources: %v", err)), nil
			}
			c.mustTransition(logger, StateBuild, "candidate extracted")

			buildStart := time.Now()
			var buildErr error
			outcome, buildErr = c.deps.Runner.Build(ctx, c.deps.Workspace, c.cfg.BuildTimeout)
			if buildErr != nil {
				return c.abort(logger, result, start, fmt.Sprintf("build runner: %v", buildErr)), nil
			}
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordBuildDuration(ctx, time.Since(buildStart))
			}
		}

		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordAttempt(ctx, outcome.Passed)
		}

		if outcome.Passed {
			c.record(ctx, logger, runID, result, Attempt{
				Sequence:  seq,
				Sources:   sources,
				Outcome:   outcome,
				Timestamp: time.Now().UTC(),
			})
			return c.finishPassed(ctx, logger, result, start, sources)
		}

		c.mustTransition(logger, StateDiagnose, "verification failed")
		diag, diagErr := c.diagnose(ctx, logger, outcome)
		if diagErr != nil {
			// A malformed trace artifact means the evidence cannot be
			// trusted; retrying blind would burn the budget for nothing.
			c.record(ctx, logger, runID, result, Attempt{
				Sequence:  seq,
				Sources:   sources,
				Outcome:   outcome,
				Timestamp: time.Now().UTC(),
			})
			return c.abort(logger, result, start, fmt.Sprintf("trace unusable: %v", diagErr)), nil
		}

		c.record(ctx, logger, runID, result, Attempt{
			Sequence:  seq,
			Sources:   sources,
			Outcome:   outcome,
			Diagnosis: diag,
			Timestamp: time.Now().UTC(),
		})
		result.LastDiagnosis = diag
		result.LastErrorLog = outcome.Log

		c.mustTransition(logger, StateCorrect, "evidence extracted")
		if seq >= c.cfg.MaxAttempts {
			c.mustTransition(logger, StateDoneExhausted, "attempt budget spent")
			logger.Warn("Attempt budget exhausted", slog.Int("attempts", seq))
			result.State = StateDoneExhausted
			result.Duration = time.Since(start)
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordRun(ctx, string(StateDoneExhausted))
			}
			return result, nil
		}

		correction := c.deps.Composer.Compose(diag, spec, sources)
		transcript = append(transcript, llm.Message{Role: llm.RoleUser, Content: correction})
		c.mustTransition(logger, StateGenerate, "feedback composed")
		logger.Info("Retrying with correction feedback",
			slog.Int("attempt", seq),
			slog.Int("failing_cycles", len(diag.FailingCycles)),
		)
	}
}

// generate requests one candidate and extracts its sources.
func (c *Controller) generate(ctx context.Context, logger *slog.Logger,
	transcript []llm.Message) (toolchain.SourceSet, string, error) {

	gctx := ctx
	if c.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, c.cfg.GenerationTimeout)
		defer cancel()
	}

	genStart := time.Now()
	response, err := c.deps.LLM.Chat(gctx, transcript, llm.GenerationParams{})
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordGenerationDuration(ctx, time.Since(genStart))
	}
	if err != nil {
		return toolchain.SourceSet{}, "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	sources, err := toolchain.ExtractSources(response)
	if err != nil {
		return toolchain.SourceSet{}, "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	logger.Debug("Candidate extracted",
		slog.Int("design_len", len(sources.Design)),
		slog.Int("testbench_len", len(sources.Testbench)),
	)
	return sources, response, nil
}

// diagnose parses the trace artifact (when present) and extracts the
// failure evidence. A structurally invalid trace is returned as an
// error; everything else degrades inside the diagnoser.
func (c *Controller) diagnose(ctx context.Context, logger *slog.Logger,
	outcome *toolchain.BuildOutcome) (*diagnose.Diagnosis, error) {

	var timeline *vcd.Timeline
	if outcome.TracePath != "" {
		var err error
		timeline, err = vcd.ReadFile(outcome.TracePath)
		if err != nil {
			return nil, err
		}
		logger.Debug("Trace parsed",
			slog.Int("signals", len(timeline.Signals)),
			slog.Int("changes", len(timeline.Changes)),
		)
	}
	return c.deps.Diagnoser.Diagnose(timeline, outcome), nil
}

// finishPassed runs the physical-design flow and closes out the run.
func (c *Controller) finishPassed(ctx context.Context, logger *slog.Logger,
	result *LoopResult, start time.Time, sources toolchain.SourceSet) (*LoopResult, error) {

	c.mustTransition(logger, StatePhysicalDesign, "verification passed")
	logger.Info("Verification passed, starting layout flow")

	layout, err := c.deps.Layout.Run(ctx, c.deps.Workspace)
	if err != nil {
		return c.abort(logger, result, start, fmt.Sprintf("physical design: %v", err)), nil
	}

	c.mustTransition(logger, StateDonePassed, "layout flow succeeded")
	result.State = StateDonePassed
	result.FinalSources = sources
	result.LayoutPath = layout
	result.Duration = time.Since(start)
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordRun(ctx, string(StateDonePassed))
	}
	logger.Info("Run passed",
		slog.Int("attempts", len(result.Attempts)),
		slog.String("layout", layout),
	)
	return result, nil
}

// abort moves to ABORTED and finalizes the result.
func (c *Controller) abort(logger *slog.Logger, result *LoopResult, start time.Time, reason string) *LoopResult {
	c.mustTransition(logger, StateAborted, reason)
	logger.Error("Run aborted", slog.String("reason", reason))
	result.State = StateAborted
	result.AbortReason = reason
	result.Duration = time.Since(start)
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordRun(context.Background(), string(StateAborted))
	}
	return result
}

// record appends the attempt to the in-memory history and, when a
// recorder is wired, the audit store. Persistence failures are logged
// and never interrupt the loop.
func (c *Controller) record(ctx context.Context, logger *slog.Logger, runID string,
	result *LoopResult, attempt Attempt) {

	result.Attempts = append(result.Attempts, attempt)
	if c.deps.Recorder == nil {
		return
	}
	if err := c.deps.Recorder.Record(ctx, runID, attempt); err != nil {
		logger.Warn("Failed to persist attempt record",
			slog.Int("sequence", attempt.Sequence),
			slog.String("error", err.Error()),
		)
	}
}

// mustTransition applies a transition the loop code treats as always
// valid. A violation is a controller bug, not a runtime condition.
func (c *Controller) mustTransition(logger *slog.Logger, to LoopState, reason string) {
	if err := c.sm.Transition(c.state, to); err != nil {
		logger.Error("State machine violation",
			slog.String("from", string(c.state)),
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	logger.Debug("State transition",
		slog.String("from", string(c.state)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
	)
	c.state = to
}

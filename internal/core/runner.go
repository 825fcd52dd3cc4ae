package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Runner ties together Scheduler + Executor + Runtime + log storage and
// owns one job's execution at a time per Execute call. A Runner holds no
// per-run state, so independent jobs may execute on it concurrently.
type Runner struct {
	Scheduler *Scheduler
	Executor  *Executor
	Runtime   Runtime

	logs         LogSink
	output       io.Writer
	observers    []Observer
	closeTimeout time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStepTimeout bounds every step; a step hitting it fails with TimeoutExitCode.
func WithStepTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.Executor = NewExecutor(d) }
}

// WithLogSink persists each session log.
func WithLogSink(sink LogSink) RunnerOption {
	return func(r *Runner) { r.logs = sink }
}

// WithOutput mirrors every session log to w, e.g. a terminal.
func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) { r.output = w }
}

func WithObservers(obs ...Observer) RunnerOption {
	return func(r *Runner) { r.observers = append(r.observers, obs...) }
}

func WithCloseTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.closeTimeout = d }
}

func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(rt Runtime, opts ...RunnerOption) *Runner {
	r := &Runner{
		Scheduler: NewScheduler(),
		Executor:  NewExecutor(0),
		Runtime:   rt,
		logger:    slog.Default(),
		tracer:    otel.Tracer("bosonci/core"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver registers obs. It must be called before the first Execute.
func (r *Runner) AddObserver(obs Observer) {
	r.observers = append(r.observers, obs)
}

// Execute runs job to a terminal result. Stages and steps run strictly in
// declaration order and the first non-zero exit halts the job. Every
// opened session is closed exactly once before Execute returns. An error
// is returned only when job is not a valid definition. An empty runID is
// replaced by a fresh UUID.
func (r *Runner) Execute(ctx context.Context, runID string, job JobDefinition) (ExecutionResult, error) {
	if err := job.Validate(); err != nil {
		return ExecutionResult{}, err
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, span := r.tracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.String("bosonci.run_id", runID),
		attribute.String("bosonci.job", job.Name),
	))
	defer span.End()

	log := r.logger.With("run_id", runID, "job", job.Name)
	log.Info("job started", "stages", len(job.Stages), "steps", job.StepCount())

	res := ExecutionResult{
		RunID:      runID,
		Job:        job.Name,
		Outcome:    Success,
		FailedStep: -1,
		StartedAt:  time.Now(),
	}

	plan := r.Scheduler.Plan(job)
	for i, stage := range job.Stages {
		if ctx.Err() != nil {
			res.abort(ctx.Err())
			break
		}
		if !r.runStage(ctx, log, &res, job, i, stage, plan[i]) {
			break
		}
	}
	res.FinishedAt = time.Now()

	span.SetAttributes(attribute.String("bosonci.outcome", res.Outcome.String()))
	if res.Outcome != Success {
		span.SetStatus(codes.Error, res.String())
	}
	for _, obs := range r.observers {
		obs.JobFinished(ctx, res)
	}

	if res.Outcome == Success {
		log.Info("job finished", "outcome", res.Outcome.String(), "duration", res.FinishedAt.Sub(res.StartedAt))
	} else {
		log.Warn("job finished", "outcome", res.Outcome.String(), "result", res.String(), "duration", res.FinishedAt.Sub(res.StartedAt))
	}
	return res, nil
}

// runStage opens a session for stage, runs its steps and closes the
// session. It reports whether the job may continue with the next stage.
func (r *Runner) runStage(ctx context.Context, log *slog.Logger, res *ExecutionResult, job JobDefinition, idx int, stage ContainerStage, steps []PlannedStep) bool {
	ctx, span := r.tracer.Start(ctx, "stage", trace.WithAttributes(
		attribute.Int("bosonci.stage", idx),
		attribute.String("bosonci.image", stage.Image),
	))
	defer span.End()

	log = log.With("stage", idx)
	sink, closeSink := r.openSink(log, res.RunID, idx)
	defer closeSink()

	log.Info("opening session", "name", stage.Name(), "image", stage.Image)
	session, err := OpenSession(ctx, r.Runtime, r.Executor, stage.Image, SessionConfig{
		Env:          MergeEnv(job.Env, stage.Env),
		Log:          NewSessionLog(sink),
		CloseTimeout: r.closeTimeout,
	})
	if err != nil {
		if isCancellation(ctx, err) {
			res.abort(err)
		} else {
			res.Outcome = ContainerUnavailable
			res.Err = err
		}
		log.Error("session unavailable", "image", stage.Image, "error", err)
		return false
	}
	defer func() {
		if err := session.Close(ctx); err != nil {
			log.Warn("session close failed", "session", session.ID(), "error", err)
		}
		if err := session.Log().SinkErr(); err != nil {
			log.Warn("session log sink failed", "error", err)
		}
		log.Debug("session closed", "session", session.ID())
	}()

	for _, obs := range r.observers {
		obs.StageOpened(ctx, StageEvent{RunID: res.RunID, Job: job.Name, Stage: idx, Image: stage.Image, Log: session.Log()})
	}

	for _, ps := range steps {
		if ctx.Err() != nil {
			res.abort(ctx.Err())
			return false
		}

		log.Info("running step", "step", ps.Index, "command", ps.Command)
		started := time.Now()
		out, err := session.RunStep(ctx, ps.Command)
		if err != nil {
			if isCancellation(ctx, err) {
				res.abort(err)
				log.Warn("step aborted", "step", ps.Index)
			} else {
				res.Outcome = ContainerUnavailable
				res.Err = err
				log.Error("step could not run", "step", ps.Index, "error", err)
			}
			return false
		}

		rec := StepRecord{
			Index:    ps.Index,
			Stage:    idx,
			Command:  ps.Command,
			ExitCode: out.ExitCode,
			Output:   out.Output,
			Duration: time.Since(started),
		}
		res.Steps = append(res.Steps, rec)
		for _, obs := range r.observers {
			obs.StepFinished(ctx, StepEvent{RunID: res.RunID, Job: job.Name, Stage: idx, Image: stage.Image, Step: rec})
		}

		if out.ExitCode != 0 {
			res.Outcome = StepFailed
			res.FailedStep = ps.Index
			res.ExitCode = out.ExitCode
			log.Warn("step failed", "step", ps.Index, "exit_code", out.ExitCode)
			return false
		}
		log.Info("step completed", "step", ps.Index, "duration", rec.Duration)
	}
	return true
}

// openSink returns the writer mirroring the session log, or nil when no
// sink or output is configured. Sink failures are logged and ignored.
func (r *Runner) openSink(log *slog.Logger, runID string, stage int) (io.Writer, func()) {
	var writers []io.Writer
	closeFn := func() {}

	if r.logs != nil {
		f, err := r.logs.OpenLog(runID, stage)
		if err != nil {
			log.Warn("cannot open session log", "error", err)
		} else {
			writers = append(writers, f)
			closeFn = func() {
				if err := f.Close(); err != nil {
					log.Warn("cannot close session log", "error", err)
				}
			}
		}
	}
	if r.output != nil {
		writers = append(writers, r.output)
	}

	switch len(writers) {
	case 0:
		return nil, closeFn
	case 1:
		return writers[0], closeFn
	default:
		return io.MultiWriter(writers...), closeFn
	}
}

func (res *ExecutionResult) abort(err error) {
	res.Outcome = Aborted
	res.Err = err
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source yields parsed job definitions. ok is false once the source is
// exhausted.
type Source interface {
	NextJob(ctx context.Context) (job JobDefinition, ok bool, err error)
}

// Coordinator is the entry point for a run: it pulls exactly one job from
// a Source and hands it to the Runner.
type Coordinator struct {
	runner *Runner
}

func NewCoordinator(r *Runner) *Coordinator {
	return &Coordinator{runner: r}
}

// Run executes the next job of src under a fresh run id.
func (c *Coordinator) Run(ctx context.Context, src Source) (ExecutionResult, error) {
	return c.RunWithID(ctx, "", src)
}

// RunWithID is Run with a caller-chosen run id. The result is returned
// unchanged from the runner; the only errors are descriptor errors.
func (c *Coordinator) RunWithID(ctx context.Context, runID string, src Source) (ExecutionResult, error) {
	job, ok, err := src.NextJob(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return abortedBeforeStart(runID, err), nil
		}
		var de *DescriptorError
		if !errors.As(err, &de) {
			err = &DescriptorError{Err: err}
		}
		return ExecutionResult{}, err
	}
	if !ok {
		return ExecutionResult{}, &DescriptorError{Err: ErrNoJob}
	}
	if err := job.Validate(); err != nil {
		return ExecutionResult{}, &DescriptorError{Err: err}
	}
	return c.runner.Execute(ctx, runID, job)
}

// abortedBeforeStart is the result of a run cancelled while its job was
// still being read. No session was opened.
func abortedBeforeStart(runID string, err error) ExecutionResult {
	if runID == "" {
		runID = uuid.NewString()
	}
	now := time.Now()
	res := ExecutionResult{RunID: runID, FailedStep: -1, StartedAt: now, FinishedAt: now}
	res.abort(err)
	return res
}

package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// TimeoutExitCode is reported for a step killed by its own deadline.
const TimeoutExitCode = 124

// Executor is responsible for running single steps (commands) inside a session.
type Executor struct {
	Timeout time.Duration // per step; zero means no limit
}

func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{Timeout: timeout}
}

// Run executes command in the session's sandbox and returns its exit code
// and combined output. Output is also appended to the session log as it
// arrives. A non-zero exit code is a result, not an error: errors are
// ErrContainerUnavailable for transport failures and the context error
// when ctx is cancelled.
func (e *Executor) Run(ctx context.Context, s *Session, command string) (StepOutcome, error) {
	if strings.TrimSpace(command) == "" {
		return StepOutcome{}, fmt.Errorf("%w: empty command", ErrInvalidJob)
	}

	stepCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.Timeout)
	}
	defer cancel()

	var out bytes.Buffer
	req := ExecRequest{
		Command: command,
		Env:     s.env,
		Output:  io.MultiWriter(&out, s.log),
	}
	code, err := s.runtime.Exec(stepCtx, s.handle, req)

	// A step that completed keeps its own exit code even if the deadline
	// passed before Exec returned.
	switch {
	case ctx.Err() != nil:
		return StepOutcome{ExitCode: -1, Output: out.String()}, ctx.Err()
	case err == nil:
		return StepOutcome{ExitCode: code, Output: out.String()}, nil
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		fmt.Fprintf(s.log, "step timed out after %s\n", e.Timeout)
		return StepOutcome{ExitCode: TimeoutExitCode, Output: out.String()}, nil
	default:
		return StepOutcome{ExitCode: -1, Output: out.String()}, fmt.Errorf("%w: exec in %s: %w", ErrContainerUnavailable, s.handle.ID(), err)
	}
}

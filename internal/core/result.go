package core

import (
	"errors"
	"fmt"
	"time"
)

// Outcome is the terminal tag of a job run.
type Outcome int

const (
	Success Outcome = iota
	StepFailed
	ContainerUnavailable
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case StepFailed:
		return "StepFailed"
	case ContainerUnavailable:
		return "ContainerUnavailable"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Process exit codes exposed to the invoking environment.
const (
	ExitSuccess              = 0
	ExitStepFailed           = 1
	ExitDescriptorError      = 2
	ExitContainerUnavailable = 3
	ExitAborted              = 130
)

// StepOutcome is what the Step Executor reports for one command.
type StepOutcome struct {
	ExitCode int
	Output   string
}

// StepRecord is one executed step as captured in the ExecutionResult.
type StepRecord struct {
	Index    int // position in the flattened step sequence
	Stage    int
	Command  string
	ExitCode int
	Output   string
	Duration time.Duration
}

// ExecutionResult is created once per job run and never modified after
// the runner returns it.
type ExecutionResult struct {
	RunID   string
	Job     string
	Outcome Outcome

	// FailedStep and ExitCode are only meaningful for StepFailed.
	FailedStep int
	ExitCode   int

	Steps []StepRecord

	// Err carries the infrastructure cause for ContainerUnavailable and the
	// context error for Aborted.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Outputs returns the captured output of every executed step in order.
func (r ExecutionResult) Outputs() []string {
	outs := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		outs[i] = s.Output
	}
	return outs
}

func (r ExecutionResult) String() string {
	switch r.Outcome {
	case StepFailed:
		return fmt.Sprintf("StepFailed(%d, %d)", r.FailedStep, r.ExitCode)
	case ContainerUnavailable, Aborted:
		if r.Err != nil {
			return fmt.Sprintf("%s: %v", r.Outcome, r.Err)
		}
	}
	return r.Outcome.String()
}

// ExitCode maps a coordinator result onto a process exit code. Every
// outcome kind gets its own non-zero code.
func ExitCode(res ExecutionResult, err error) int {
	if err != nil {
		var de *DescriptorError
		if errors.As(err, &de) || errors.Is(err, ErrInvalidJob) || errors.Is(err, ErrNoJob) {
			return ExitDescriptorError
		}
		return ExitContainerUnavailable
	}
	switch res.Outcome {
	case Success:
		return ExitSuccess
	case StepFailed:
		return ExitStepFailed
	case ContainerUnavailable:
		return ExitContainerUnavailable
	case Aborted:
		return ExitAborted
	default:
		return ExitContainerUnavailable
	}
}

package core

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerUnavailable marks infrastructure failures: the image could
	// not be provisioned or the sandbox stopped answering.
	ErrContainerUnavailable = errors.New("container unavailable")

	// ErrNoJob is reported when a descriptor source yields no job.
	ErrNoJob = errors.New("descriptor yielded no job")

	ErrInvalidJob    = errors.New("invalid job definition")
	ErrSessionClosed = errors.New("session closed")
	ErrSessionBusy   = errors.New("session is already running a step")
)

// DescriptorError wraps any failure to obtain a valid job definition.
type DescriptorError struct {
	Source string
	Err    error
}

func (e *DescriptorError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("descriptor: %v", e.Err)
	}
	return fmt.Sprintf("descriptor %s: %v", e.Source, e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

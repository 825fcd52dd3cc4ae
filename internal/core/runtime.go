package core

import (
	"context"
	"io"
)

// Handle identifies one live sandbox provisioned by a Runtime.
type Handle interface {
	ID() string
}

// ExecRequest describes one process to run inside a sandbox.
type ExecRequest struct {
	Command string
	Env     map[string]string
	Output  io.Writer // receives stdout and stderr as they are produced
}

// Runtime is the container backend the engine drives. Implementations
// include Docker and plain host processes.
type Runtime interface {
	// Provision starts a sandbox for image and blocks until it can accept
	// Exec calls.
	Provision(ctx context.Context, image string) (Handle, error)

	// Exec runs req.Command through a shell and blocks until it exits. A
	// non-zero exit status is returned as the code with a nil error; the
	// error is reserved for transport failures and cancellation.
	Exec(ctx context.Context, h Handle, req ExecRequest) (int, error)

	// Teardown releases the sandbox.
	Teardown(ctx context.Context, h Handle) error
}

// LogSink persists session output outside the process.
type LogSink interface {
	OpenLog(runID string, stage int) (io.WriteCloser, error)
}

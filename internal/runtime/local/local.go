// Package local implements core.Runtime with plain host processes. Each
// session gets its own scratch workspace; the image reference is recorded
// but never pulled. It exists for development and for hosts that already
// are the build environment.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"bosonci/internal/core"
)

// Runtime runs every step as `sh -c <command>` on the host.
type Runtime struct {
	baseDir   string
	shell     string
	waitDelay time.Duration
}

type handle struct {
	id    string
	dir   string
	image string
}

func (h *handle) ID() string { return h.id }

// New returns a runtime creating workspaces under baseDir (os.TempDir()
// when empty).
func New(baseDir string) *Runtime {
	return &Runtime{baseDir: baseDir, shell: "sh", waitDelay: 5 * time.Second}
}

// Provision implements core.Runtime.
func (r *Runtime) Provision(ctx context.Context, image string) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(image) == "" {
		return nil, errors.New("empty image reference")
	}
	if r.baseDir != "" {
		if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(r.baseDir, "session-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &handle{id: filepath.Base(dir), dir: dir, image: image}, nil
}

// Exec implements core.Runtime.
func (r *Runtime) Exec(ctx context.Context, h core.Handle, req core.ExecRequest) (int, error) {
	lh, ok := h.(*handle)
	if !ok {
		return -1, fmt.Errorf("foreign handle %T", h)
	}
	if _, err := os.Stat(lh.dir); err != nil {
		return -1, fmt.Errorf("workspace gone: %w", err)
	}

	out := req.Output
	if out == nil {
		out = io.Discard
	}

	// Run the step in a shell (sh -c "cmd")
	cmd := exec.CommandContext(ctx, r.shell, "-c", req.Command)
	ownProcessGroup(cmd)
	cmd.Dir = lh.dir
	cmd.Env = append(os.Environ(), "BOSONCI_IMAGE="+lh.image, "BOSONCI_WORKSPACE="+lh.dir)
	cmd.Env = append(cmd.Env, core.EnvList(req.Env)...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = r.waitDelay

	err := cmd.Run()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// Teardown removes the session workspace. Removing twice is not an error.
func (r *Runtime) Teardown(_ context.Context, h core.Handle) error {
	lh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("foreign handle %T", h)
	}
	return os.RemoveAll(lh.dir)
}

// Package docker implements core.Runtime on a Docker daemon. A session is
// one long-lived container; every step is a `docker exec` into it.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"bosonci/internal/core"
)

// keepAlive holds the container open until it is removed.
var keepAlive = []string{"/bin/sh", "-c", "trap 'exit 0' TERM; while :; do sleep 3600 & wait $!; done"}

// execPollInterval spaces exec inspections while the daemon still reports
// the process running after its output stream closed.
const execPollInterval = 50 * time.Millisecond

// Runtime drives containers through the Docker SDK.
type Runtime struct {
	client *client.Client
}

type handle struct {
	containerID string
	image       string
}

func (h *handle) ID() string {
	if len(h.containerID) > 12 {
		return h.containerID[:12]
	}
	return h.containerID
}

// New creates a runtime from the standard environment (DOCKER_HOST, etc.).
func New() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{client: cli}, nil
}

// Close releases the client connection.
func (r *Runtime) Close() error {
	return r.client.Close()
}

// Provision implements core.Runtime. The image is pulled only when it is
// not present locally.
func (r *Runtime) Provision(ctx context.Context, ref string) (core.Handle, error) {
	if _, err := r.client.ImageInspect(ctx, ref); err != nil {
		reader, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("pull image %s: %w", ref, err)
		}
		_, copyErr := io.Copy(io.Discard, reader)
		reader.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("pull image %s: %w", ref, copyErr)
		}
	}

	resp, err := r.client.ContainerCreate(ctx, &container.Config{
		Image:      ref,
		Entrypoint: keepAlive[:1],
		Cmd:        keepAlive[1:],
		Labels:     map[string]string{"io.bosonci.session": "true"},
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	h := &handle{containerID: resp.ID, image: ref}
	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.Teardown(context.WithoutCancel(ctx), h)
		return nil, fmt.Errorf("start container: %w", err)
	}
	return h, nil
}

// Exec implements core.Runtime. Output is demultiplexed into req.Output as
// it streams; on cancellation the attach stream is closed and the process
// is left for Teardown to kill with the container.
func (r *Runtime) Exec(ctx context.Context, h core.Handle, req core.ExecRequest) (int, error) {
	dh, ok := h.(*handle)
	if !ok {
		return -1, fmt.Errorf("foreign handle %T", h)
	}
	out := req.Output
	if out == nil {
		out = io.Discard
	}

	created, err := r.client.ContainerExecCreate(ctx, dh.containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", req.Command},
		Env:          core.EnvList(req.Env),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("create exec: %w", err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(out, out, attach.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return -1, fmt.Errorf("stream exec output: %w", err)
		}
	case <-ctx.Done():
		attach.Close()
		<-copied
		return -1, ctx.Err()
	}

	return waitExecExit(ctx, r.client, created.ID, execPollInterval)
}

type execInspector interface {
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// waitExecExit returns the exit code of an exec once the daemon no longer
// reports it running. The attach stream can hit EOF before the daemon
// records the exit, and ExitCode reads 0 until it does.
func waitExecExit(ctx context.Context, c execInspector, execID string, interval time.Duration) (int, error) {
	for {
		inspect, err := c.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, fmt.Errorf("inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Teardown force-removes the container. A container that is already gone
// is not an error.
func (r *Runtime) Teardown(ctx context.Context, h core.Handle) error {
	dh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("foreign handle %T", h)
	}
	err := r.client.ContainerRemove(ctx, dh.containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", dh.ID(), err)
	}
	return nil
}

package docker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bosonci/internal/core"
)

func TestHandleIDIsShortened(t *testing.T) {
	h := &handle{containerID: "0123456789abcdef0123"}
	assert.Equal(t, "0123456789ab", h.ID())
	assert.Equal(t, "abc", (&handle{containerID: "abc"}).ID())
}

// TestRuntime_Daemon talks to a real daemon and only runs when
// BOSONCI_DOCKER_TESTS is set.
func TestRuntime_Daemon(t *testing.T) {
	if os.Getenv("BOSONCI_DOCKER_TESTS") == "" {
		t.Skip("set BOSONCI_DOCKER_TESTS=1 to run against a docker daemon")
	}

	rt, err := New()
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := rt.Provision(ctx, "alpine:3.20")
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Teardown(context.Background(), h)) }()

	var out bytes.Buffer
	code, err := rt.Exec(ctx, h, core.ExecRequest{
		Command: `echo "$GREETING"; exit 4`,
		Env:     map[string]string{"GREETING": "hello"},
		Output:  &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	assert.Equal(t, "hello\n", out.String())

	for i := 0; i < 20; i++ {
		code, err = rt.Exec(ctx, h, core.ExecRequest{Command: "exit 7"})
		require.NoError(t, err)
		require.Equal(t, 7, code, "attempt %d", i)
	}
}

// racyInspector reports the exec running with a zero exit code for the
// first few calls, the way the daemon does right after the stream closes.
type racyInspector struct {
	running int
	calls   int
	err     error
}

func (r *racyInspector) ContainerExecInspect(_ context.Context, _ string) (container.ExecInspect, error) {
	r.calls++
	if r.err != nil {
		return container.ExecInspect{}, r.err
	}
	if r.calls <= r.running {
		return container.ExecInspect{Running: true}, nil
	}
	return container.ExecInspect{ExitCode: 7}, nil
}

func TestWaitExecExit(t *testing.T) {
	t.Run("waits until the exec stops running", func(t *testing.T) {
		c := &racyInspector{running: 2}
		code, err := waitExecExit(context.Background(), c, "abc", time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 7, code)
		assert.Equal(t, 3, c.calls)
	})

	t.Run("inspect error", func(t *testing.T) {
		c := &racyInspector{err: errors.New("daemon gone")}
		_, err := waitExecExit(context.Background(), c, "abc", time.Millisecond)
		assert.ErrorContains(t, err, "daemon gone")
	})

	t.Run("cancelled while running", func(t *testing.T) {
		c := &racyInspector{running: 1 << 30}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		code, err := waitExecExit(ctx, c, "abc", time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, -1, code)
	})
}

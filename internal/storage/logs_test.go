package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bosonci/internal/core"
)

func TestLogStorage_AppendsPerStage(t *testing.T) {
	ls := NewLogStorage(t.TempDir())

	w, err := ls.OpenLog("run-1", 0)
	require.NoError(t, err)
	_, _ = io.WriteString(w, "download\n")
	require.NoError(t, w.Close())

	w, err = ls.OpenLog("run-1", 0)
	require.NoError(t, err)
	_, _ = io.WriteString(w, "build\n")
	require.NoError(t, w.Close())

	data, err := ls.ReadLog("run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "download\nbuild\n", string(data))

	_, err = ls.ReadLog("run-1", 1)
	assert.Error(t, err)
}

func TestLogStorage_SanitizesRunID(t *testing.T) {
	ls := NewLogStorage("/var/log/bosonci")
	assert.Equal(t, filepath.Join("/var/log/bosonci", "etcpasswd", "stage-2.log"), ls.LogPath("../etc/passwd", 2))
	assert.Equal(t, filepath.Join("/var/log/bosonci", "run", "stage-0.log"), ls.LogPath("///", 0))
}

type echoRuntime struct{}

type echoHandle struct{}

func (echoHandle) ID() string { return "echo" }

func (echoRuntime) Provision(context.Context, string) (core.Handle, error) { return echoHandle{}, nil }
func (echoRuntime) Teardown(context.Context, core.Handle) error            { return nil }
func (echoRuntime) Exec(_ context.Context, _ core.Handle, req core.ExecRequest) (int, error) {
	fmt.Fprintln(req.Output, req.Command)
	return 0, nil
}

func TestLogStorage_AsRunnerSink(t *testing.T) {
	ls := NewLogStorage(t.TempDir())
	job := core.JobDefinition{
		Name: "j",
		Stages: []core.ContainerStage{
			{Image: "a", Steps: []core.Step{{Run: "one"}, {Run: "two"}}},
			{Image: "b", Steps: []core.Step{{Run: "three"}}},
		},
	}

	res, err := core.NewRunner(echoRuntime{}, core.WithLogSink(ls)).Execute(context.Background(), "r-42", job)
	require.NoError(t, err)
	require.Equal(t, core.Success, res.Outcome)

	first, err := ls.ReadLog("r-42", 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(first))
	second, err := ls.ReadLog("r-42", 1)
	require.NoError(t, err)
	assert.Equal(t, "three\n", string(second))
}

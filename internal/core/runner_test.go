package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_AllStepsSucceed(t *testing.T) {
	rt := newFakeRuntime()
	runner := NewRunner(rt)

	res, err := runner.Execute(context.Background(), "", higgsBosonJob())
	require.NoError(t, err)

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, -1, res.FailedStep)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []string{"download\n", "build-deps\n", "build\n"}, res.Outputs())
	assert.Equal(t, []string{"download", "build-deps", "build"}, rt.commands())

	opened, closed := rt.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestExecute_StepFailedStopsJob(t *testing.T) {
	rt := newFakeRuntime()
	rt.exitCodes["build-deps"] = 1
	runner := NewRunner(rt)

	res, err := runner.Execute(context.Background(), "run-1", higgsBosonJob())
	require.NoError(t, err)

	assert.Equal(t, StepFailed, res.Outcome)
	assert.Equal(t, 1, res.FailedStep)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "StepFailed(1, 1)", res.String())
	assert.Equal(t, []string{"download", "build-deps"}, rt.commands())
	require.Len(t, res.Steps, 2)
	assert.Equal(t, 1, res.Steps[1].ExitCode)

	opened, closed := rt.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestExecute_FailedIndexIsFlattenedAcrossStages(t *testing.T) {
	rt := newFakeRuntime()
	rt.exitCodes["test"] = 7
	job := JobDefinition{
		Name: "multi",
		Stages: []ContainerStage{
			{Image: "builder", Steps: []Step{{Run: "download"}, {Run: "build"}}},
			{Image: "tester", Steps: []Step{{Run: "test"}, {Run: "report"}}},
			{Image: "publisher", Steps: []Step{{Run: "publish"}}},
		},
	}

	res, err := NewRunner(rt).Execute(context.Background(), "", job)
	require.NoError(t, err)

	assert.Equal(t, StepFailed, res.Outcome)
	assert.Equal(t, 2, res.FailedStep)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, []string{"download", "build", "test"}, rt.commands())
	assert.Equal(t, []string{"builder", "tester"}, rt.provisioned)

	opened, closed := rt.counts()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, closed)
}

func TestExecute_ProvisionFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.provisionErr["tester"] = errUnreachable
	job := JobDefinition{
		Name: "multi",
		Stages: []ContainerStage{
			{Image: "builder", Steps: []Step{{Run: "build"}}},
			{Image: "tester", Steps: []Step{{Run: "test"}}},
			{Image: "publisher", Steps: []Step{{Run: "publish"}}},
		},
	}

	res, err := NewRunner(rt).Execute(context.Background(), "", job)
	require.NoError(t, err)

	assert.Equal(t, ContainerUnavailable, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrContainerUnavailable)
	assert.ErrorIs(t, res.Err, errUnreachable)
	assert.Equal(t, []string{"build"}, rt.commands())

	opened, closed := rt.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestExecute_ExecTransportFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.execErr["build-deps"] = errUnreachable

	res, err := NewRunner(rt).Execute(context.Background(), "", higgsBosonJob())
	require.NoError(t, err)

	assert.Equal(t, ContainerUnavailable, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrContainerUnavailable)
	assert.Equal(t, []string{"download", "build-deps"}, rt.commands())

	_, closed := rt.counts()
	assert.Equal(t, 1, closed)
}

func TestExecute_CancellationWhileStepBlocked(t *testing.T) {
	rt := newFakeRuntime()
	rt.blocking["build-deps"] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan ExecutionResult, 1)
	go func() {
		res, _ := NewRunner(rt).Execute(ctx, "", higgsBosonJob())
		done <- res
	}()

	select {
	case cmd := <-rt.started:
		assert.Equal(t, "build-deps", cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("step never started")
	}
	cancel()

	var res ExecutionResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not return after cancellation")
	}

	assert.Equal(t, Aborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []string{"download", "build-deps"}, rt.commands())

	opened, closed := rt.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	rt := newFakeRuntime()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(rt).Execute(ctx, "", higgsBosonJob())
	require.NoError(t, err)

	assert.Equal(t, Aborted, res.Outcome)
	assert.Empty(t, rt.commands())
	opened, closed := rt.counts()
	assert.Zero(t, opened)
	assert.Zero(t, closed)
}

func TestExecute_StepTimeout(t *testing.T) {
	rt := newFakeRuntime()
	rt.blocking["build-deps"] = true

	res, err := NewRunner(rt, WithStepTimeout(20*time.Millisecond)).Execute(context.Background(), "", higgsBosonJob())
	require.NoError(t, err)

	assert.Equal(t, StepFailed, res.Outcome)
	assert.Equal(t, 1, res.FailedStep)
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.Equal(t, []string{"download", "build-deps"}, rt.commands())
	_, closed := rt.counts()
	assert.Equal(t, 1, closed)
}

func TestExecute_CompletedStepKeepsExitCodePastDeadline(t *testing.T) {
	rt := newFakeRuntime()
	rt.slow["build-deps"] = 60 * time.Millisecond
	rt.exitCodes["build-deps"] = 3

	res, err := NewRunner(rt, WithStepTimeout(20*time.Millisecond)).Execute(context.Background(), "", higgsBosonJob())
	require.NoError(t, err)

	assert.Equal(t, StepFailed, res.Outcome)
	assert.Equal(t, 1, res.FailedStep)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecute_SlowSuccessfulStepIsNotATimeout(t *testing.T) {
	rt := newFakeRuntime()
	rt.slow["build-deps"] = 60 * time.Millisecond

	res, err := NewRunner(rt, WithStepTimeout(20*time.Millisecond)).Execute(context.Background(), "", higgsBosonJob())
	require.NoError(t, err)

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, []string{"download", "build-deps", "build"}, rt.commands())
}

func TestExecute_InvalidJob(t *testing.T) {
	rt := newFakeRuntime()
	_, err := NewRunner(rt).Execute(context.Background(), "", JobDefinition{Name: "empty"})
	assert.ErrorIs(t, err, ErrInvalidJob)
	opened, _ := rt.counts()
	assert.Zero(t, opened)
}

func TestExecute_StageEnvOverridesJobEnv(t *testing.T) {
	rt := newFakeRuntime()
	job := JobDefinition{
		Name: "env",
		Env:  map[string]string{"PROFILE": "default", "CI": "true"},
		Stages: []ContainerStage{{
			Image: "a",
			Env:   map[string]string{"PROFILE": "release"},
			Steps: []Step{{Run: "build"}},
		}},
	}

	_, err := NewRunner(rt).Execute(context.Background(), "", job)
	require.NoError(t, err)

	require.Len(t, rt.envs, 1)
	assert.Equal(t, map[string]string{"PROFILE": "release", "CI": "true"}, rt.envs[0])
}

func TestExecute_NotifiesObservers(t *testing.T) {
	rt := newFakeRuntime()
	rt.exitCodes["build"] = 2
	obs := &recordingObserver{}

	res, err := NewRunner(rt, WithObservers(obs)).Execute(context.Background(), "run-obs", higgsBosonJob())
	require.NoError(t, err)

	require.Len(t, obs.stages, 1)
	assert.Equal(t, "run-obs", obs.stages[0].RunID)
	assert.Equal(t, "a", obs.stages[0].Image)
	assert.Equal(t, "download\nbuild-deps\nbuild\n", obs.stages[0].Log.String())

	require.Len(t, obs.steps, 3)
	for i, ev := range obs.steps {
		assert.Equal(t, i, ev.Step.Index)
	}
	require.Len(t, obs.jobs, 1)
	assert.Equal(t, res.Outcome, obs.jobs[0].Outcome)
	assert.Equal(t, 2, obs.jobs[0].ExitCode)
}

func TestExecute_WritesSessionLogsToSinkAndOutput(t *testing.T) {
	rt := newFakeRuntime()
	sink := &memorySink{}
	var out strings.Builder

	job := JobDefinition{
		Name: "two-stages",
		Stages: []ContainerStage{
			{Image: "a", Steps: []Step{{Run: "one"}}},
			{Image: "b", Steps: []Step{{Run: "two"}, {Run: "three"}}},
		},
	}
	_, err := NewRunner(rt, WithLogSink(sink), WithOutput(&out)).Execute(context.Background(), "r1", job)
	require.NoError(t, err)

	assert.Equal(t, "one\n", sink.logs["r1/0"].String())
	assert.Equal(t, "two\nthree\n", sink.logs["r1/1"].String())
	assert.Equal(t, "one\ntwo\nthree\n", out.String())
}

func TestExecute_SinkFailureDoesNotFailJob(t *testing.T) {
	rt := newFakeRuntime()
	sink := &memorySink{err: errors.New("disk full")}

	res, err := NewRunner(rt, WithLogSink(sink)).Execute(context.Background(), "", higgsBosonJob())
	require.NoError(t, err)
	assert.Equal(t, Success, res.Outcome)
	assert.Len(t, res.Steps, 3)
}

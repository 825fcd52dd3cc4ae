package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type fakeHandle struct{ id string }

func (h fakeHandle) ID() string { return h.id }

// fakeRuntime records every provision, exec and teardown. Commands exit 0
// and echo themselves unless configured otherwise.
type fakeRuntime struct {
	mu sync.Mutex

	provisionErr map[string]error
	exitCodes    map[string]int
	execErr      map[string]error
	blocking     map[string]bool
	slow         map[string]time.Duration
	started      chan string

	seq         int
	provisioned []string
	tornDown    []string
	executed    []string
	envs        []map[string]string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		provisionErr: map[string]error{},
		exitCodes:    map[string]int{},
		execErr:      map[string]error{},
		blocking:     map[string]bool{},
		slow:         map[string]time.Duration{},
		started:      make(chan string, 16),
	}
}

func (f *fakeRuntime) Provision(ctx context.Context, image string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.provisionErr[image]; err != nil {
		return nil, err
	}
	f.seq++
	f.provisioned = append(f.provisioned, image)
	return fakeHandle{id: fmt.Sprintf("%s#%d", image, f.seq)}, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, h Handle, req ExecRequest) (int, error) {
	f.mu.Lock()
	f.executed = append(f.executed, req.Command)
	f.envs = append(f.envs, req.Env)
	block := f.blocking[req.Command]
	delay := f.slow[req.Command]
	code := f.exitCodes[req.Command]
	err := f.execErr[req.Command]
	f.mu.Unlock()

	fmt.Fprintf(req.Output, "%s\n", req.Command)
	if block {
		f.started <- req.Command
		<-ctx.Done()
		return -1, ctx.Err()
	}
	if delay > 0 {
		// finishes on its own schedule, like a process that exits just
		// as its deadline fires
		time.Sleep(delay)
	}
	if err != nil {
		return -1, err
	}
	return code, nil
}

func (f *fakeRuntime) Teardown(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornDown = append(f.tornDown, h.ID())
	return nil
}

func (f *fakeRuntime) counts() (opened, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.provisioned), len(f.tornDown)
}

func (f *fakeRuntime) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu     sync.Mutex
	stages []StageEvent
	steps  []StepEvent
	jobs   []ExecutionResult
}

func (o *recordingObserver) StageOpened(_ context.Context, ev StageEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, ev)
}

func (o *recordingObserver) StepFinished(_ context.Context, ev StepEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, ev)
}

func (o *recordingObserver) JobFinished(_ context.Context, res ExecutionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, res)
}

// memorySink hands out in-memory logs keyed by run and stage.
type memorySink struct {
	mu   sync.Mutex
	logs map[string]*bytes.Buffer
	err  error
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (m *memorySink) OpenLog(runID string, stage int) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.logs == nil {
		m.logs = map[string]*bytes.Buffer{}
	}
	buf := &bytes.Buffer{}
	m.logs[fmt.Sprintf("%s/%d", runID, stage)] = buf
	return nopCloser{buf}, nil
}

var errUnreachable = errors.New("sandbox unreachable")

func higgsBosonJob() JobDefinition {
	return JobDefinition{
		Name: "Build the project using the higgs-boson build system",
		Stages: []ContainerStage{{
			DisplayName: "Build the default Linux Binaries",
			Image:       "a",
			Steps:       []Step{{Run: "download"}, {Run: "build-deps"}, {Run: "build"}},
		}},
	}
}

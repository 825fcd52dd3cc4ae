package server

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"bosonci/internal/core"
	"bosonci/internal/descriptor"
)

const (
	statusRunning  = "running"
	statusFinished = "finished"
)

type run struct {
	id          string
	job         string
	submittedAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	// guarded by Server.mu
	status string
	result core.ExecutionResult
	err    error
	logs   []*core.SessionLog
}

// StepView is one executed step in a run report.
type StepView struct {
	Index    int    `json:"index"`
	Stage    int    `json:"stage"`
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
}

// RunView is the JSON representation of a run.
type RunView struct {
	ID          string     `json:"id"`
	Job         string     `json:"job"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	Outcome    string     `json:"outcome,omitempty"`
	Result     string     `json:"result,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	FailedStep *int       `json:"failed_step,omitempty"`
	StepExit   *int       `json:"step_exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	Steps      []StepView `json:"steps,omitempty"`
}

// start registers a run for job and executes it in the background.
func (s *Server) start(job core.JobDefinition) RunView {
	ctx, cancel := context.WithCancel(s.base)
	r := &run{
		id:          uuid.NewString(),
		job:         job.Name,
		submittedAt: time.Now().UTC(),
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      statusRunning,
	}

	s.mu.Lock()
	s.runs[r.id] = r
	s.order = append(s.order, r.id)
	view := r.view()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer cancel()

		res, err := s.coordinator.RunWithID(ctx, r.id, descriptor.NewSource(job))

		s.mu.Lock()
		r.status = statusFinished
		r.result = res
		r.err = err
		s.evictLocked()
		s.mu.Unlock()

		s.logger.Info("run finished", "run_id", r.id, "job", r.job, "result", res.String(), "exit_code", core.ExitCode(res, err))
	}()

	return view
}

// evictLocked drops the oldest finished runs beyond the retention limit.
// Running runs are never evicted. s.mu must be held.
func (s *Server) evictLocked() {
	finished := 0
	for _, id := range s.order {
		if s.runs[id].status == statusFinished {
			finished++
		}
	}
	if finished <= s.retain {
		return
	}

	kept := s.order[:0]
	for _, id := range s.order {
		if finished > s.retain && s.runs[id].status == statusFinished {
			delete(s.runs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	clear(s.order[len(kept):])
	s.order = kept
}

func (s *Server) lookup(id string) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

// StageOpened implements core.Observer by attaching the session log to its run.
func (s *Server) StageOpened(_ context.Context, ev core.StageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[ev.RunID]; ok {
		r.logs = append(r.logs, ev.Log)
	}
}

// view must be called with Server.mu held.
func (r *run) view() RunView {
	v := RunView{
		ID:          r.id,
		Job:         r.job,
		Status:      r.status,
		SubmittedAt: r.submittedAt,
	}
	if r.status != statusFinished {
		return v
	}

	code := core.ExitCode(r.result, r.err)
	v.ExitCode = &code
	if r.err != nil {
		v.Error = r.err.Error()
		return v
	}

	res := r.result
	finished := res.FinishedAt
	v.FinishedAt = &finished
	v.Outcome = res.Outcome.String()
	v.Result = res.String()
	if res.Outcome == core.StepFailed {
		idx, exit := res.FailedStep, res.ExitCode
		v.FailedStep = &idx
		v.StepExit = &exit
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	for _, st := range res.Steps {
		v.Steps = append(v.Steps, StepView{
			Index:    st.Index,
			Stage:    st.Stage,
			Command:  st.Command,
			ExitCode: st.ExitCode,
			Duration: st.Duration.String(),
		})
	}
	return v
}

// log must be called with Server.mu held.
func (r *run) log() string {
	var b strings.Builder
	for _, l := range r.logs {
		b.WriteString(l.String())
	}
	return b.String()
}

package core

import "context"

// StageEvent is emitted once a stage's session is open.
type StageEvent struct {
	RunID string
	Job   string
	Stage int
	Image string
	Log   *SessionLog
}

// StepEvent is emitted after every step that ran to completion.
type StepEvent struct {
	RunID string
	Job   string
	Stage int
	Image string
	Step  StepRecord
}

// Observer receives run events. Observers are called synchronously from
// the runner and must not block; their failures never change an outcome.
type Observer interface {
	StageOpened(ctx context.Context, ev StageEvent)
	StepFinished(ctx context.Context, ev StepEvent)
	JobFinished(ctx context.Context, res ExecutionResult)
}

// NopObserver can be embedded to implement only the events of interest.
type NopObserver struct{}

func (NopObserver) StageOpened(context.Context, StageEvent)      {}
func (NopObserver) StepFinished(context.Context, StepEvent)      {}
func (NopObserver) JobFinished(context.Context, ExecutionResult) {}

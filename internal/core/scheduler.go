package core

// PlannedStep is a step placed in the job's flattened execution order.
type PlannedStep struct {
	Index   int // position across all stages
	Stage   int
	Command string
}

// Scheduler decides execution order of stages and steps.
// Stages run sequentially (stage1 --> stage2 --> stage3) and so do the
// steps inside them; nothing is reordered or run in parallel.
type Scheduler struct{}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Plan returns, per stage, the steps to run with their flattened indexes.
func (s *Scheduler) Plan(job JobDefinition) [][]PlannedStep {
	plan := make([][]PlannedStep, len(job.Stages))
	index := 0
	for i, stage := range job.Stages {
		steps := make([]PlannedStep, len(stage.Steps))
		for k, step := range stage.Steps {
			steps[k] = PlannedStep{Index: index, Stage: i, Command: step.Run}
			index++
		}
		plan[i] = steps
	}
	return plan
}

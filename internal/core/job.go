package core

import (
	"fmt"
	"sort"
	"strings"
)

// JobDefinition is a named unit of automation: one or more container
// stages executed in declaration order.
type JobDefinition struct {
	Name   string            // display name, unique within a run
	Env    map[string]string // applied to every stage, stage entries win
	Stages []ContainerStage
}

// ContainerStage is one sandbox image plus the shell steps run inside it.
type ContainerStage struct {
	DisplayName string // optional, used in logs only
	Image       string // opaque image reference handed to the Runtime
	Env         map[string]string
	Steps       []Step
}

// Step represents a single shell command line inside a stage.
type Step struct {
	Run string // Command to execute (e.g. "higgs-boson build internal default")
}

// Validate checks the structural invariants of a job definition.
func (j JobDefinition) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: job name is empty", ErrInvalidJob)
	}
	if len(j.Stages) == 0 {
		return fmt.Errorf("%w: job %q has no container stages", ErrInvalidJob, j.Name)
	}
	for i, stage := range j.Stages {
		if strings.TrimSpace(stage.Image) == "" {
			return fmt.Errorf("%w: stage %d of job %q has no image", ErrInvalidJob, i, j.Name)
		}
		if len(stage.Steps) == 0 {
			return fmt.Errorf("%w: stage %d of job %q has no steps", ErrInvalidJob, i, j.Name)
		}
		for k, step := range stage.Steps {
			if strings.TrimSpace(step.Run) == "" {
				return fmt.Errorf("%w: step %d of stage %d is empty", ErrInvalidJob, k, i)
			}
		}
	}
	return nil
}

// StepCount returns the length of the flattened step sequence.
func (j JobDefinition) StepCount() int {
	n := 0
	for _, stage := range j.Stages {
		n += len(stage.Steps)
	}
	return n
}

// Name returns the display name of the stage, falling back to its image.
func (s ContainerStage) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Image
}

// MergeEnv overlays stage on job, returning a fresh map.
func MergeEnv(job, stage map[string]string) map[string]string {
	if len(job) == 0 && len(stage) == 0 {
		return nil
	}
	out := make(map[string]string, len(job)+len(stage))
	for k, v := range job {
		out[k] = v
	}
	for k, v := range stage {
		out[k] = v
	}
	return out
}

// EnvList renders env as sorted KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

package descriptor

import (
	"context"
	"os"
	"sync"

	"bosonci/internal/core"
)

// Source hands out the jobs of one descriptor in declaration order. File
// sources parse lazily on the first NextJob call, so a malformed file
// surfaces as a descriptor error from the coordinator.
type Source struct {
	mu   sync.Mutex
	load func() ([]core.JobDefinition, error)
	jobs []core.JobDefinition
	err  error
	done bool
}

// NewSource serves already parsed jobs.
func NewSource(jobs ...core.JobDefinition) *Source {
	return &Source{jobs: jobs, done: true}
}

// FromFile reads path when the first job is requested. The syntax is
// picked from the file extension.
func FromFile(path string) *Source {
	return &Source{load: func() ([]core.JobDefinition, error) {
		format, err := FormatFromPath(path)
		if err != nil {
			return nil, &core.DescriptorError{Source: path, Err: err}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &core.DescriptorError{Source: path, Err: err}
		}
		return Parse(data, format, path)
	}}
}

// FromBytes parses data in the given syntax when the first job is requested.
func FromBytes(data []byte, format Format, name string) *Source {
	return &Source{load: func() ([]core.JobDefinition, error) {
		return Parse(data, format, name)
	}}
}

// NextJob implements core.Source.
func (s *Source) NextJob(ctx context.Context) (core.JobDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return core.JobDefinition{}, false, err
	}
	if !s.done {
		s.jobs, s.err = s.load()
		s.done = true
	}
	if s.err != nil {
		return core.JobDefinition{}, false, s.err
	}
	if len(s.jobs) == 0 {
		return core.JobDefinition{}, false, nil
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, true, nil
}

// Package descriptor turns automation descriptors into core job
// definitions. Two syntaxes are understood: YAML and HCL. Both describe a
// job as a list of containers, each with an image and either a multi-line
// shell script, a list of steps, or both.
package descriptor

import (
	"fmt"
	"path/filepath"
	"strings"

	"bosonci/internal/core"
)

// Format selects the descriptor syntax.
type Format string

const (
	YAML Format = "yaml"
	HCL  Format = "hcl"
)

// ParseFormat accepts a format name or a media type.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch s {
	case "yaml", "yml", "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return YAML, nil
	case "hcl", "application/hcl", "text/hcl":
		return HCL, nil
	}
	return "", fmt.Errorf("unknown descriptor format %q", s)
}

// FormatFromPath picks the syntax from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".hcl":
		return HCL, nil
	}
	return "", fmt.Errorf("cannot infer descriptor format from %q (want .yaml, .yml or .hcl)", path)
}

// Parse decodes every job in data. name labels diagnostics.
func Parse(data []byte, format Format, name string) ([]core.JobDefinition, error) {
	var (
		jobs []core.JobDefinition
		err  error
	)
	switch format {
	case YAML:
		jobs, err = parseYAML(data)
	case HCL:
		jobs, err = parseHCL(data, name)
	default:
		err = fmt.Errorf("unknown descriptor format %q", format)
	}
	if err != nil {
		return nil, &core.DescriptorError{Source: name, Err: err}
	}
	if len(jobs) == 0 {
		return nil, &core.DescriptorError{Source: name, Err: core.ErrNoJob}
	}
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, &core.DescriptorError{Source: name, Err: err}
		}
	}
	return jobs, nil
}

// container is the syntax-independent shape of one container block.
type container struct {
	displayName string
	image       string
	env         map[string]string
	steps       []string
	script      string
}

func (c container) stage() core.ContainerStage {
	stage := core.ContainerStage{
		DisplayName: c.displayName,
		Image:       strings.TrimSpace(c.image),
		Env:         c.env,
	}
	for _, s := range c.steps {
		stage.Steps = append(stage.Steps, core.Step{Run: s})
	}
	for _, line := range SplitScript(c.script) {
		stage.Steps = append(stage.Steps, core.Step{Run: line})
	}
	return stage
}

// SplitScript breaks a shell script body into one command per line.
// Blank lines and comment lines are dropped and lines ending in a
// backslash are joined with the next one.
func SplitScript(script string) []string {
	var (
		steps   []string
		pending strings.Builder
	)
	for _, raw := range strings.Split(script, "\n") {
		line := strings.TrimSpace(raw)
		if pending.Len() == 0 && (line == "" || strings.HasPrefix(line, "#")) {
			continue
		}
		if strings.HasSuffix(line, "\\") {
			pending.WriteString(strings.TrimSpace(strings.TrimSuffix(line, "\\")))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(line)
		if cmd := strings.TrimSpace(pending.String()); cmd != "" {
			steps = append(steps, cmd)
		}
		pending.Reset()
	}
	if cmd := strings.TrimSpace(pending.String()); cmd != "" {
		steps = append(steps, cmd)
	}
	return steps
}

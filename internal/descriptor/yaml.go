package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"bosonci/internal/core"
)

// yamlJob is one YAML document:
//
//	job: Build the project using the higgs-boson build system
//	containers:
//	  - display_name: Build the default Linux Binaries
//	    image: registry.example/higgs-boson-builder:newest
//	    script: |
//	      higgs-boson download internal
//	      higgs-boson build-deps internal default
//	      higgs-boson build internal default
type yamlJob struct {
	Job        string            `yaml:"job"`
	Env        map[string]string `yaml:"env"`
	Containers []yamlContainer   `yaml:"containers"`
}

type yamlContainer struct {
	DisplayName string            `yaml:"display_name"`
	Image       string            `yaml:"image"`
	Env         map[string]string `yaml:"env"`
	Steps       []string          `yaml:"steps"`
	Script      string            `yaml:"script"`
}

// parseYAML decodes a stream of YAML documents, one job per document.
func parseYAML(data []byte) ([]core.JobDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var jobs []core.JobDefinition
	for i := 0; ; i++ {
		var doc yamlJob
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("yaml document %d: %w", i, err)
		}

		job := core.JobDefinition{Name: doc.Job, Env: doc.Env}
		for _, c := range doc.Containers {
			job.Stages = append(job.Stages, container{
				displayName: c.DisplayName,
				image:       c.Image,
				env:         c.Env,
				steps:       c.Steps,
				script:      c.Script,
			}.stage())
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

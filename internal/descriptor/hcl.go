package descriptor

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"bosonci/internal/core"
)

// hclFile is the top-level structure of an HCL descriptor:
//
//	job "Build the project using the higgs-boson build system" {
//	  container {
//	    display_name = "Build the default Linux Binaries"
//	    image        = "registry.example/higgs-boson-builder:newest"
//	    script       = <<-EOT
//	      higgs-boson download internal
//	      higgs-boson build-deps internal default
//	      higgs-boson build internal default
//	    EOT
//	  }
//	}
type hclFile struct {
	Jobs []hclJob `hcl:"job,block"`
}

type hclJob struct {
	Name       string            `hcl:"name,label"`
	Env        map[string]string `hcl:"env,optional"`
	Containers []hclContainer    `hcl:"container,block"`
}

type hclContainer struct {
	DisplayName string            `hcl:"display_name,optional"`
	Image       string            `hcl:"image"`
	Env         map[string]string `hcl:"env,optional"`
	Steps       []string          `hcl:"steps,optional"`
	Script      string            `hcl:"script,optional"`
}

func parseHCL(data []byte, filename string) ([]core.JobDefinition, error) {
	if filename == "" {
		filename = "descriptor.hcl"
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	jobs := make([]core.JobDefinition, 0, len(parsed.Jobs))
	for _, j := range parsed.Jobs {
		job := core.JobDefinition{Name: j.Name, Env: j.Env}
		for _, c := range j.Containers {
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

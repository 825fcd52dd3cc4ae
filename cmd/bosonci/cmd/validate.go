package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bosonci/internal/core"
	"bosonci/internal/descriptor"
)

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.DescriptorError{Source: path, Err: err}
	}
	return data, nil
}

func newValidateCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <descriptor>...",
		Short: "Parse descriptors and report their jobs without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				jobs, err := parseFile(path)
				if err != nil {
					fmt.Fprintf(out, "%s: invalid\n", path)
					errs = append(errs, err)
					continue
				}
				for _, job := range jobs {
					fmt.Fprintf(out, "%s: job %q, %d stage(s), %d step(s)\n", path, job.Name, len(job.Stages), job.StepCount())
					for i, st := range job.Stages {
						fmt.Fprintf(out, "  [%d] %s (%s): %d step(s)\n", i, st.Name(), st.Image, len(st.Steps))
					}
				}
			}
			if len(errs) > 0 {
				return &ExitError{Code: core.ExitDescriptorError, Err: errors.Join(errs...)}
			}
			return nil
		},
	}
}

func parseFile(path string) ([]core.JobDefinition, error) {
	format, err := descriptor.FormatFromPath(path)
	if err != nil {
		return nil, &core.DescriptorError{Source: path, Err: err}
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return descriptor.Parse(data, format, path)
}

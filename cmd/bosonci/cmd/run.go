package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"bosonci/internal/core"
	"bosonci/internal/descriptor"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		format string
		quiet  bool
		runID  string
	)

	c := &cobra.Command{
		Use:   "run <descriptor>",
		Short: "Run the job declared in a descriptor file",
		Long: `Run executes the first job of a YAML or HCL descriptor. Use "-" to read
the descriptor from stdin together with --format.

Step output is streamed to stdout and, unless --log-dir is empty, saved per
stage under <log-dir>/<run-id>/.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openSource(cmd.InOrStdin(), args[0], format)
			if err != nil {
				return &ExitError{Code: core.ExitDescriptorError, Err: err}
			}

			var output io.Writer
			if !quiet {
				output = cmd.OutOrStdout()
			}
			eng, err := a.newEngine(cmd.Context(), output)
			if err != nil {
				code := exitUsage
				if errors.Is(err, core.ErrContainerUnavailable) {
					code = core.ExitContainerUnavailable
				}
				return &ExitError{Code: code, Err: err}
			}
			defer func() {
				if err := eng.Close(); err != nil {
					a.logger.Warn("shutdown", "error", err)
				}
			}()

			res, err := core.NewCoordinator(eng.runner).RunWithID(cmd.Context(), runID, src)
			code := core.ExitCode(res, err)
			if err != nil {
				return &ExitError{Code: code, Err: err}
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %s %s (exit %d)\n", res.RunID, res.Job, res, code)
			if code != core.ExitSuccess {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	c.Flags().StringVar(&format, "format", "", "descriptor syntax: yaml or hcl (default from the file extension)")
	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not stream step output to stdout")
	c.Flags().StringVar(&runID, "run-id", "", "run id (default a random UUID)")
	return c
}

// openSource returns a lazily parsed descriptor source. An explicit
// format, or "-" for stdin, reads the bytes up front.
func openSource(stdin io.Reader, path, format string) (core.Source, error) {
	if path != "-" && format == "" {
		return descriptor.FromFile(path), nil
	}

	f := descriptor.YAML
	if format != "" {
		var err error
		if f, err = descriptor.ParseFormat(format); err != nil {
			return nil, err
		}
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
		path = "stdin"
	} else {
		data, err = readFile(path)
	}
	if err != nil {
		return nil, err
	}
	return descriptor.FromBytes(data, f, path), nil
}

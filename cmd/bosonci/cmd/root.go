// Package cmd implements the bosonci subcommands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bosonci/internal/config"
	"bosonci/internal/logger"
)

// ExitError carries a process exit code out of a command. Err may be nil
// when the command already reported the failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitUsage is returned for flag, argument and configuration errors.
const exitUsage = 2

// app is the state shared by all subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

const longHelp = `bosonci runs a job as a sequence of container stages. Each stage opens one
container session from its image and runs the stage's steps in it, in order;
the first failing step stops the job.

Common workflows:

  Run a descriptor with the Docker runtime:
    bosonci run build.yaml

  Run on the host without containers:
    bosonci run --runtime local build.hcl

  Check descriptors without running them:
    bosonci validate build.yaml deploy.hcl

  Serve the HTTP API:
    bosonci serve --listen :8080

Exit codes:
  0    job succeeded
  1    a step exited non-zero
  2    the descriptor, flags or configuration are invalid
  3    a container could not be provisioned or reached
  130  the run was interrupted

Configuration:
  Flags override BOSONCI_* environment variables, which override the config
  file (default $HOME/.bosonci.yaml).`

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	root := &cobra.Command{
		Use:           "bosonci",
		Short:         "bosonci executes container-staged build jobs",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.bosonci.yaml)")
	flags.String("runtime", config.RuntimeDocker, "container runtime: docker or local")
	flags.String("work-dir", "", "workspace root for the local runtime")
	flags.String("log-dir", "./logs", "directory for session logs (empty disables)")
	flags.String("ledger", "", "append a signed record of every step to this file")
	flags.String("key-dir", "./keys", "directory holding the ledger signing keys")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.Duration("step-timeout", 0, "time limit per step (0 means none)")
	flags.Duration("close-timeout", 0, "time limit for releasing a session (default 30s)")
	flags.String("otlp-endpoint", "", "OTLP/gRPC collector address for traces")

	// Only flags set on the command line take precedence over the
	// environment and the config file.
	for name, key := range map[string]string{
		"runtime":       config.KeyRuntime,
		"work-dir":      config.KeyWorkDir,
		"log-dir":       config.KeyLogDir,
		"ledger":        config.KeyLedger,
		"key-dir":       config.KeyKeyDir,
		"log-level":     config.KeyLogLevel,
		"log-format":    config.KeyLogFormat,
		"step-timeout":  config.KeyStepTimeout,
		"close-timeout": config.KeyCloseTimeout,
		"otlp-endpoint": config.KeyOTLPEndpoint,
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newServeCmd(a),
		newLedgerCmd(a),
		newKeysCmd(a),
	)
	return root
}

// init reads the config file and environment, then builds the logger and
// stores it in the command's context.
func (a *app) init(cmd *cobra.Command) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
		a.v.SetConfigName(".bosonci")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("BOSONCI")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	l, err := logger.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = l.With("component", "bosonci")
	slog.SetDefault(l)
	cmd.SetContext(logger.WithLogger(cmd.Context(), a.logger))
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", "path", used)
	}
	return nil
}

// Execute runs the command line in os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitUsage
}

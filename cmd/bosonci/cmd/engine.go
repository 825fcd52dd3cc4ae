package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"bosonci/internal/config"
	"bosonci/internal/core"
	"bosonci/internal/ledger"
	"bosonci/internal/logger"
	"bosonci/internal/observability"
	"bosonci/internal/runtime/docker"
	"bosonci/internal/runtime/local"
	"bosonci/internal/security"
	"bosonci/internal/storage"
)

// engine is a configured runner plus the resources it holds.
type engine struct {
	runner  *core.Runner
	ledger  *ledger.Ledger
	closers []func(context.Context) error
}

// Close releases everything the engine opened, in reverse order.
func (e *engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// newEngine builds a runner from the loaded configuration. output, when
// non-nil, mirrors every session log.
func (a *app) newEngine(ctx context.Context, output io.Writer) (*engine, error) {
	e := &engine{}
	cfg := a.cfg

	var rt core.Runtime
	switch cfg.Runtime {
	case config.RuntimeLocal:
		rt = local.New(cfg.WorkDir)
	default:
		d, err := docker.New()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrContainerUnavailable, err)
		}
		e.closers = append(e.closers, func(context.Context) error { return d.Close() })
		rt = d
	}

	opts := []core.RunnerOption{
		core.WithLogger(logger.FromContext(ctx)),
		core.WithStepTimeout(cfg.StepTimeout),
		core.WithCloseTimeout(cfg.CloseTimeout),
	}
	if cfg.LogDir != "" {
		opts = append(opts, core.WithLogSink(storage.NewLogStorage(cfg.LogDir)))
	}
	if output != nil {
		opts = append(opts, core.WithOutput(output))
	}

	if cfg.LedgerPath != "" {
		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		pub, priv, created, err := security.EnsureKeyPair(cfg.KeyDir)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("ledger keys: %w", err)
		}
		if created {
			a.logger.Info("generated ledger signing keys", "dir", cfg.KeyDir)
		}
		e.ledger = l
		opts = append(opts, core.WithObservers(ledger.NewRecorder(l, pub, priv, a.logger)))
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracing(ctx, observability.Service{Name: "bosonci", Runtime: cfg.Runtime}, cfg.OTLPEndpoint)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.closers = append(e.closers, shutdown)
	}

	e.runner = core.NewRunner(rt, opts...)
	return e, nil
}

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"bosonci/internal/config"
	"bosonci/internal/observability"
	"bosonci/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		Long: `Serve accepts descriptors on POST /runs and executes each submitted job in
the background. Runs can be listed, inspected, tailed and cancelled; metrics
are exported on /metrics in Prometheus format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			metricsHandler, shutdownMetrics, err := observability.InitMetrics(observability.Service{Name: "bosonci", Runtime: a.cfg.Runtime})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownMetrics(sctx)
			}()

			eng, err := a.newEngine(ctx, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					a.logger.Warn("shutdown", "error", err)
				}
			}()

			metrics, err := observability.NewMetrics(otel.Meter("bosonci"))
			if err != nil {
				return err
			}
			eng.runner.AddObserver(metrics)

			srv := server.New(server.Config{
				Runner:          eng.runner,
				Ledger:          eng.ledger,
				Metrics:         metricsHandler,
				Logger:          a.logger,
				ShutdownTimeout: a.cfg.CloseTimeout + 10*time.Second,
				Retain:          a.cfg.RetainRuns,
			})
			return srv.Run(ctx, a.cfg.Listen)
		},
	}

	c.Flags().String("listen", ":8080", "HTTP listen address")
	c.Flags().Int("retain-runs", 100, "finished runs kept queryable, oldest dropped first")
	_ = a.v.BindPFlag(config.KeyListen, c.Flags().Lookup("listen"))
	_ = a.v.BindPFlag(config.KeyRetainRuns, c.Flags().Lookup("retain-runs"))
	return c
}

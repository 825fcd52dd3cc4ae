package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"bosonci/internal/core"
)

// StepDurationMetric is the histogram of completed step wall time.
const StepDurationMetric = "bosonci_step_duration_seconds"

// Metrics records run counters and step latency as a core.Observer.
type Metrics struct {
	core.NopObserver

	jobs         otelmetric.Int64Counter
	steps        otelmetric.Int64Counter
	stepDuration otelmetric.Float64Histogram
	sessions     otelmetric.Int64Counter
}

// NewMetrics creates the bosonci instruments on meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	jobs, err := meter.Int64Counter("bosonci_jobs_total",
		otelmetric.WithDescription("Jobs executed, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs counter: %w", err)
	}
	steps, err := meter.Int64Counter("bosonci_steps_total",
		otelmetric.WithDescription("Steps run to completion, by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}
	dur, err := meter.Float64Histogram(StepDurationMetric,
		otelmetric.WithDescription("Wall time of a completed step"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create step duration histogram: %w", err)
	}
	sessions, err := meter.Int64Counter("bosonci_sessions_opened_total",
		otelmetric.WithDescription("Container sessions opened"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions counter: %w", err)
	}
	return &Metrics{jobs: jobs, steps: steps, stepDuration: dur, sessions: sessions}, nil
}

func (m *Metrics) StageOpened(ctx context.Context, ev core.StageEvent) {
	m.sessions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("image", ev.Image)))
}

func (m *Metrics) StepFinished(ctx context.Context, ev core.StepEvent) {
	result := "ok"
	if ev.Step.ExitCode != 0 {
		result = "failed"
	}
	m.steps.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
	m.stepDuration.Record(ctx, ev.Step.Duration.Seconds())
}

func (m *Metrics) JobFinished(ctx context.Context, res core.ExecutionResult) {
	m.jobs.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", res.Outcome.String())))
}

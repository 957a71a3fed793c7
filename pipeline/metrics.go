package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	StageAudio = "audio"
	StageVideo = "video"
)

type Metrics struct {
	submitted      metric.Int64Counter
	transitions    metric.Int64Counter
	claimConflicts metric.Int64Counter
	reclaimed      metric.Int64Counter
	stageDuration  metric.Float64Histogram
}

// NewMetrics registers the pipeline instruments. If registration fails the returned
// Metrics records nothing.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var errs [5]error
	m := &Metrics{}
	m.submitted, errs[0] = meter.Int64Counter("jobs.submitted",
		metric.WithDescription("Jobs accepted by ingestion"))
	m.transitions, errs[1] = meter.Int64Counter("jobs.transitions",
		metric.WithDescription("Applied job status transitions"))
	m.claimConflicts, errs[2] = meter.Int64Counter("jobs.claim_conflicts",
		metric.WithDescription("Claims lost to another worker"))
	m.reclaimed, errs[3] = meter.Int64Counter("jobs.reclaimed",
		metric.WithDescription("Stale claims recovered by the sweep"))
	m.stageDuration, errs[4] = meter.Float64Histogram("stage.duration",
		metric.WithDescription("Stage attempt duration"),
		metric.WithUnit("s"))

	if err := errors.Join(errs[:]...); err != nil {
		return NopMetrics(), err
	}
	return m, nil
}

func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("pipeline"))
	return m
}

func (m *Metrics) Submitted(ctx context.Context) {
	m.submitted.Add(ctx, 1)
}

func (m *Metrics) Transition(ctx context.Context, from, to entity.JobStatus) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *Metrics) ClaimConflict(ctx context.Context, stage string) {
	m.claimConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) Reclaimed(ctx context.Context, stage, outcome string) {
	m.reclaimed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) StageFinished(ctx context.Context, stage string, outcome Outcome, started time.Time) {
	m.stageDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", string(outcome)),
	))
}

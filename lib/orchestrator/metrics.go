package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "github.com/fiffu/reviewwatch/orchestrator"

type outcome string

const (
	outcomeCreated     outcome = "created"
	outcomeReused      outcome = "reused"
	outcomeRateLimited outcome = "rate_limited"
	outcomeFetchFailed outcome = "fetch_failed"
	outcomeStorage     outcome = "storage_error"
	outcomeInvalid     outcome = "invalid"
)

// Metrics holds the trigger instruments. A nil *Metrics records nothing.
type Metrics struct {
	triggers      metric.Int64Counter
	fetchDuration metric.Float64Histogram
}

func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(MeterName)

	triggers, err := meter.Int64Counter(
		"reviewwatch_triggers_total",
		metric.WithDescription("Refresh triggers by origin and outcome"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"reviewwatch_fetch_duration_seconds",
		metric.WithDescription("Duration of upstream review page fetches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{triggers, fetchDuration}, nil
}

func (m *Metrics) recordTrigger(ctx context.Context, origin Origin, result outcome) {
	if m == nil || m.triggers == nil {
		return
	}
	m.triggers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("origin", string(origin)),
		attribute.String("outcome", string(result)),
	))
}

func (m *Metrics) recordFetch(ctx context.Context, source string, elapsed time.Duration, success bool) {
	if m == nil || m.fetchDuration == nil {
		return
	}
	m.fetchDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

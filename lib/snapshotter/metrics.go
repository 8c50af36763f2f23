package snapshotter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "github.com/fiffu/reviewwatch/snapshotter"

type sweepMetrics struct {
	totalSelected int
	refreshed     int
	reused        int
	skipped       int
	errored       int
}

func (m *sweepMetrics) Add(other *sweepMetrics) {
	m.totalSelected += other.totalSelected
	m.refreshed += other.refreshed
	m.reused += other.reused
	m.skipped += other.skipped
	m.errored += other.errored
}

func (m *sweepMetrics) logFields() []any {
	args := make([]any, 0)
	if m.refreshed != 0 {
		args = append(args, "refreshed", m.refreshed)
	}
	if m.reused != 0 {
		args = append(args, "reused", m.reused)
	}
	if m.skipped != 0 {
		args = append(args, "skipped", m.skipped)
	}
	if m.errored != 0 {
		args = append(args, "errored", m.errored)
	}
	return args
}

// Metrics holds the sweep, cleanup and health instruments. A nil *Metrics records nothing.
type Metrics struct {
	sweepItems     metric.Int64Counter
	cleanupDeleted metric.Int64Counter
	failingChecks  metric.Int64Gauge
}

func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(MeterName)

	sweepItems, err := meter.Int64Counter(
		"reviewwatch_sweep_items_total",
		metric.WithDescription("Pairs processed by the background sweep, by result"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, err
	}

	cleanupDeleted, err := meter.Int64Counter(
		"reviewwatch_cleanup_deleted_total",
		metric.WithDescription("Rows removed by cleanup, by kind"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	failingChecks, err := meter.Int64Gauge(
		"reviewwatch_health_failing_checks",
		metric.WithDescription("Number of failing checks in the latest health report"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{sweepItems, cleanupDeleted, failingChecks}, nil
}

func (m *Metrics) recordSweep(ctx context.Context, sm *sweepMetrics) {
	if m == nil || m.sweepItems == nil {
		return
	}
	for result, n := range map[string]int{
		"refreshed": sm.refreshed,
		"reused":    sm.reused,
		"skipped":   sm.skipped,
		"errored":   sm.errored,
	} {
		if n > 0 {
			m.sweepItems.Add(ctx, int64(n), metric.WithAttributes(attribute.String("result", result)))
		}
	}
}

func (m *Metrics) recordCleanup(ctx context.Context, kind string, n int64) {
	if m == nil || m.cleanupDeleted == nil || n == 0 {
		return
	}
	m.cleanupDeleted.Add(ctx, n, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) recordHealth(ctx context.Context, failing int) {
	if m == nil || m.failingChecks == nil {
		return
	}
	m.failingChecks.Record(ctx, int64(failing))
}

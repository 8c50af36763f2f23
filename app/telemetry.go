package app

import (
	"net/http"

	"github.com/fiffu/reviewwatch/lib/orchestrator"
	"github.com/fiffu/reviewwatch/lib/snapshotter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
)

// Telemetry owns the meter provider and the registry it is exported through.
type Telemetry struct {
	Provider *sdkmetric.MeterProvider
	Handler  http.Handler
}

func NewTelemetry(lc fx.Lifecycle) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	lc.Append(fx.StopHook(provider.Shutdown))

	return &Telemetry{
		Provider: provider,
		Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

func NewOrchestratorMetrics(t *Telemetry) (*orchestrator.Metrics, error) {
	return orchestrator.NewMetrics(t.Provider)
}

func NewSnapshotterMetrics(t *Telemetry) (*snapshotter.Metrics, error) {
	return snapshotter.NewMetrics(t.Provider)
}

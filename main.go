package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/fiffu/reviewwatch/app"
	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib"
	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/fetcher"
	"github.com/fiffu/reviewwatch/lib/orchestrator"
	"github.com/fiffu/reviewwatch/lib/snapshotter"
	"github.com/fiffu/reviewwatch/senders"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func providers() fx.Option {
	return fx.Options(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),

		fx.Provide(clock.New),
		fx.Provide(app.NewTelemetry),
		fx.Provide(app.NewOrchestratorMetrics),
		fx.Provide(app.NewSnapshotterMetrics),
		fx.Provide(app.NewTransport),
		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewStore),
		fx.Provide(fetcher.New),
		fx.Provide(orchestrator.New),
		fx.Provide(snapshotter.NewSnapshotter),
		fx.Provide(lib.NewService),
	)
}

func main() {
	root := &cobra.Command{
		Use:          "reviewwatch",
		Short:        "Rate-limited review scraper with a per-client snapshot cache",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), sweepCmd(), diagnoseCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background sweep and health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			fxApp := fx.New(
				providers(),
				fx.Provide(app.NewAPI),
				fx.Invoke(snapshotter.RegisterLifecycle),
				fx.Invoke(func(*http.Server) {}),
			)
			if err := fxApp.Err(); err != nil {
				return err
			}
			fxApp.Run()
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Refresh due clients once, run cleanup, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, snaps *snapshotter.Snapshotter) (any, error) {
				return snaps.Sweep(ctx)
			})
		},
	}
}

func diagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run the health checks once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, func(ctx context.Context, snaps *snapshotter.Snapshotter) (any, error) {
				report := snaps.CheckHealth(ctx)
				if !report.Healthy {
					return report, errors.New("health checks failing")
				}
				return report, nil
			})
		},
	}
}

// runOnce starts the dependency graph without the API or background loops, runs fn and
// prints its result as JSON.
func runOnce(cmd *cobra.Command, fn func(context.Context, *snapshotter.Snapshotter) (any, error)) error {
	ctx := cmd.Context()

	var snaps *snapshotter.Snapshotter
	fxApp := fx.New(providers(), fx.Populate(&snaps))
	if err := fxApp.Err(); err != nil {
		return err
	}
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	defer fxApp.Stop(context.WithoutCancel(ctx))

	result, runErr := fn(ctx, snaps)
	if result != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return runErr
}

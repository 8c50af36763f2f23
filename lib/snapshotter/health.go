package snapshotter

import (
	"context"
	"fmt"
	"strings"

	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/senders/email"
	"golang.org/x/sync/errgroup"
)

const (
	checkStorage        = "storage"
	checkTables         = "tables"
	checkStaleSchedules = "stale_schedules"
	checkOrphanPointers = "orphan_pointers"
	checkActivity       = "activity"
)

// CheckHealth runs every diagnostic concurrently and keeps the report for LatestReport.
// It only reports; nothing is repaired here.
func (s *Snapshotter) CheckHealth(ctx context.Context) *models.HealthReport {
	now := s.clock.Now()

	checks := []func(context.Context) models.HealthCheck{
		s.checkStorage,
		s.checkTables,
		s.checkStaleSchedules,
		s.checkOrphanPointers,
		s.checkActivity,
	}
	results := make([]models.HealthCheck, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			results[i] = check(gctx)
			return nil
		})
	}
	g.Wait()

	report := &models.HealthReport{CheckedAt: now, Healthy: true, Checks: results}
	for _, c := range results {
		if !c.OK {
			report.Healthy = false
		}
	}
	s.lastReport.Store(report)

	failing := report.Failing()
	s.metrics.recordHealth(ctx, len(failing))
	if len(failing) == 0 {
		s.log.Sugar().Infow("Health check passed", "checks", len(results))
		return report
	}

	names := make([]string, len(failing))
	for i, c := range failing {
		names[i] = c.Name
	}
	s.log.Sugar().Warnw("Health check failing", "failing", strings.Join(names, ","), "report", report)
	s.alert(ctx, report)
	return report
}

// LatestReport returns the most recent health report, or nil before the first check.
func (s *Snapshotter) LatestReport() *models.HealthReport {
	return s.lastReport.Load()
}

func (s *Snapshotter) alert(ctx context.Context, report *models.HealthReport) {
	recipient := s.cfg.Health.AlertRecipient
	sender, ok := s.senders["email"]
	if recipient == "" || !ok {
		return
	}

	ef := email.NewHealthReportFormat(report)
	id, err := sender.Send(ctx, ef.Subject(), ef.Body(), recipient)
	if err != nil {
		s.log.Sugar().Warnw("Failed to send health alert", "err", err)
		return
	}
	s.log.Sugar().Infow("Sent health alert to "+recipient, "message_id", id)
}

func (s *Snapshotter) checkStorage(ctx context.Context) models.HealthCheck {
	if err := s.store.Ping(ctx); err != nil {
		return models.HealthCheck{Name: checkStorage, Detail: err.Error()}
	}
	return models.HealthCheck{Name: checkStorage, OK: true}
}

func (s *Snapshotter) checkTables(ctx context.Context) models.HealthCheck {
	if missing := s.store.MissingTables(ctx); len(missing) > 0 {
		return models.HealthCheck{Name: checkTables, Detail: "missing tables: " + strings.Join(missing, ", ")}
	}
	return models.HealthCheck{Name: checkTables, OK: true}
}

func (s *Snapshotter) checkStaleSchedules(ctx context.Context) models.HealthCheck {
	now := s.clock.Now()
	n, err := s.store.CountStaleSchedules(ctx, now, now.Add(-s.cfg.Health.StaleAfter), now.Add(-s.cfg.Sweep.ActiveWindow))
	switch {
	case err != nil:
		return models.HealthCheck{Name: checkStaleSchedules, Detail: err.Error()}
	case n > 0:
		return models.HealthCheck{
			Name:   checkStaleSchedules,
			Detail: fmt.Sprintf("%d due schedules of active clients untouched for over %s", n, s.cfg.Health.StaleAfter),
		}
	}
	return models.HealthCheck{Name: checkStaleSchedules, OK: true}
}

func (s *Snapshotter) checkOrphanPointers(ctx context.Context) models.HealthCheck {
	n, err := s.store.CountOrphanPointers(ctx)
	switch {
	case err != nil:
		return models.HealthCheck{Name: checkOrphanPointers, Detail: err.Error()}
	case n > 0:
		return models.HealthCheck{Name: checkOrphanPointers, Detail: fmt.Sprintf("%d pointers reference missing snapshots", n)}
	}
	return models.HealthCheck{Name: checkOrphanPointers, OK: true}
}

// checkActivity fails when clients were active in the window but nothing was refreshed.
func (s *Snapshotter) checkActivity(ctx context.Context) models.HealthCheck {
	since := s.clock.Now().Add(-s.cfg.Health.ActivityWindow)

	active, err := s.store.CountActiveClients(ctx, since)
	if err != nil {
		return models.HealthCheck{Name: checkActivity, Detail: err.Error()}
	}
	refreshed, err := s.store.CountPointersUpdatedSince(ctx, since)
	if err != nil {
		return models.HealthCheck{Name: checkActivity, Detail: err.Error()}
	}
	created, err := s.store.CountSnapshotsSince(ctx, since)
	if err != nil {
		return models.HealthCheck{Name: checkActivity, Detail: err.Error()}
	}

	detail := fmt.Sprintf("%d active clients, %d refreshes, %d new snapshots in the last %s", active, refreshed, created, s.cfg.Health.ActivityWindow)
	if active > 0 && refreshed == 0 {
		return models.HealthCheck{Name: checkActivity, Detail: detail}
	}
	return models.HealthCheck{Name: checkActivity, OK: true, Detail: detail}
}

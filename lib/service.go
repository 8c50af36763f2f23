package lib

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/orchestrator"
	"github.com/fiffu/reviewwatch/lib/snapshotter"
	"github.com/fiffu/reviewwatch/lib/store"
	"go.uber.org/zap"
)

var ErrNoSnapshot = errors.New("no snapshot available yet")

type Service struct {
	cfg         *config.Config
	log         *zap.Logger
	store       *store.Store
	snapshotter *snapshotter.Snapshotter

	*registerClient
	*refreshReviews
	*reportStatus
	*readReviews
}

func NewService(
	cfg *config.Config,
	log *zap.Logger,
	st *store.Store,
	clk clock.Clock,
	orch *orchestrator.Orchestrator,
	snaps *snapshotter.Snapshotter,
) *Service {
	touch := &clientToucher{st, clk, orch}
	return &Service{
		cfg, log, st, snaps,
		&registerClient{log, st, clk},
		&refreshReviews{log, touch, orch},
		&reportStatus{st, clk, touch, cfg.Scrape.RunningWindow},
		&readReviews{st, clk, touch},
	}
}

// Diagnostics returns the latest health report, running the checks if none exists yet.
func (svc *Service) Diagnostics(ctx context.Context) *models.HealthReport {
	if report := svc.snapshotter.LatestReport(); report != nil {
		return report
	}
	return svc.snapshotter.CheckHealth(ctx)
}

// clientToucher validates a (source, client) pair and records the client's activity.
type clientToucher struct {
	store        *store.Store
	clock        clock.Clock
	orchestrator *orchestrator.Orchestrator
}

func (t *clientToucher) touch(ctx context.Context, source, clientID string) (time.Time, error) {
	if err := t.orchestrator.Validate(source, clientID); err != nil {
		return time.Time{}, err
	}
	now := t.clock.Now()
	if _, err := t.store.TouchClient(ctx, clientID, now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// ScheduleSummary tells a client whether it may refresh now.
type ScheduleSummary struct {
	NextAllowedAt    *time.Time `json:"next_allowed_at"`
	LastRunAt        *time.Time `json:"last_run_at"`
	CanRefresh       bool       `json:"can_refresh"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

func summarizeSchedule(s *models.Schedule, now time.Time) ScheduleSummary {
	if s == nil {
		return ScheduleSummary{CanRefresh: true}
	}
	next := s.NextRunAt
	return ScheduleSummary{
		NextAllowedAt:    &next,
		LastRunAt:        s.LastRunAt,
		CanRefresh:       s.Due(now),
		RemainingSeconds: s.RemainingSeconds(now),
	}
}

func optionalSchedule(ctx context.Context, st *store.Store, source, clientID string) (*models.Schedule, error) {
	schedule, err := st.GetSchedule(ctx, source, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return schedule, err
}

package snapshotter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/orchestrator"
	"github.com/fiffu/reviewwatch/lib/store"
	"github.com/fiffu/reviewwatch/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Snapshotter runs the background sweep, cleanup and health checks. It shares nothing with
// request handlers except the store, so several instances (or an external cron running
// the sweep command) can run side by side.
type Snapshotter struct {
	cfg          *config.Config
	log          *zap.Logger
	store        *store.Store
	orchestrator *orchestrator.Orchestrator
	clock        clock.Clock
	metrics      *Metrics
	senders      senders.Registry

	mu         sync.Mutex
	alarmClock *alarmClock
	cancel     context.CancelFunc
	done       chan struct{}
	lastReport atomic.Pointer[models.HealthReport]
}

func NewSnapshotter(
	cfg *config.Config,
	log *zap.Logger,
	st *store.Store,
	orch *orchestrator.Orchestrator,
	clk clock.Clock,
	metrics *Metrics,
	senders senders.Registry,
) *Snapshotter {
	return &Snapshotter{
		cfg:          cfg,
		log:          log,
		store:        st,
		orchestrator: orch,
		clock:        clk,
		metrics:      metrics,
		senders:      senders,
		alarmClock:   newAlarmClock(cfg.Sweep.Interval, cfg.Health.Interval),
	}
}

// RegisterLifecycle runs the background loops for as long as the fx app is up.
func RegisterLifecycle(lc fx.Lifecycle, s *Snapshotter) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.log.Sugar().Info("Trying to stop snapshotter")
			return s.Stop(ctx)
		},
	})
}

func (s *Snapshotter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	c := s.alarmClock.Start(ctx)
	go func() {
		defer close(s.done)
		for evt := range c {
			s.handleEvent(ctx, evt)
		}
		s.log.Sugar().Info("Snapshotter stopped")
	}()
}

// Stop cancels in-flight work and waits for the current event to finish.
func (s *Snapshotter) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.alarmClock.Stop()
	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Snapshotter) handleEvent(ctx context.Context, evt Event) {
	switch evt.(type) {
	case sweepWakeupEvent:
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Sugar().Errorw("Sweep failed", "err", err)
		}
	case healthWakeupEvent:
		s.CheckHealth(ctx)
	}
}

// Sweep refreshes due pairs and then runs cleanup.
func (s *Snapshotter) Sweep(ctx context.Context) (*SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock.Now()

	m, err := s.sweepDue(ctx, start)
	if err != nil {
		return nil, err
	}
	if m.totalSelected > 0 {
		s.log.Sugar().Infow("Swept due schedules", append([]any{"selected", m.totalSelected}, m.logFields()...)...)
	}

	cleanup, err := s.Cleanup(ctx)
	if err != nil {
		return nil, err
	}

	elapsed := s.clock.Since(start)
	s.log.Sugar().Infow("Sweep completed", "elapsed_msecs", int(elapsed.Milliseconds()))

	return &SweepResult{
		Selected:  m.totalSelected,
		Refreshed: m.refreshed,
		Reused:    m.reused,
		Skipped:   m.skipped,
		Errored:   m.errored,
		Cleanup:   cleanup,
		Elapsed:   elapsed,
	}, nil
}

type SweepResult struct {
	Selected  int            `json:"selected"`
	Refreshed int            `json:"refreshed"`
	Reused    int            `json:"reused"`
	Skipped   int            `json:"skipped"`
	Errored   int            `json:"errored"`
	Cleanup   *CleanupResult `json:"cleanup"`
	Elapsed   time.Duration  `json:"elapsed"`
}

package snapshotter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/orchestrator"
)

func (s *Snapshotter) sweepDue(ctx context.Context, batchStartTime time.Time) (*sweepMetrics, error) {
	activeSince := batchStartTime.Add(-s.cfg.Sweep.ActiveWindow)

	due, err := s.store.FindDueSchedules(ctx, batchStartTime, activeSince, s.cfg.Sweep.BatchSize)
	if err != nil {
		return nil, err
	}

	m := s.collectBatch(ctx, due)
	m.totalSelected = len(due)
	s.metrics.recordSweep(ctx, m)
	return m, nil
}

// collectBatch triggers each pair through the bounded pool. Every worker waits the item
// delay before each pair after its first, so upstream sees at most one request per worker
// per delay.
func (s *Snapshotter) collectBatch(ctx context.Context, batch models.Schedules) *sweepMetrics {
	concurrency := s.cfg.Sweep.Concurrency
	pool := pond.NewPool(concurrency, pond.WithContext(ctx))

	var mu sync.Mutex
	metrics := &sweepMetrics{}

	for i, sched := range batch {
		i, sched := i, sched
		pool.Submit(func() {
			if i >= concurrency && !s.sleep(ctx, s.cfg.Sweep.ItemDelay) {
				return
			}
			m := s.sweepOne(ctx, sched)

			mu.Lock()
			defer mu.Unlock()
			metrics.Add(m)
		})
	}

	pool.StopAndWait()
	return metrics
}

func (s *Snapshotter) sweepOne(ctx context.Context, sched models.Schedule) *sweepMetrics {
	out, err := s.orchestrator.Trigger(ctx, sched.Source, sched.ClientID, orchestrator.OriginSweep)

	var limited *orchestrator.RateLimitedError
	switch {
	case err == nil && out.Created:
		return &sweepMetrics{refreshed: 1}
	case err == nil:
		return &sweepMetrics{reused: 1}
	case errors.As(err, &limited):
		// Someone refreshed the pair between selection and claim.
		return &sweepMetrics{skipped: 1}
	default:
		s.log.Sugar().Warnw("Sweep item failed",
			"source", sched.Source,
			"client_id", sched.ClientID,
			"err", err,
		)
		return &sweepMetrics{errored: 1}
	}
}

// sleep waits for d unless ctx ends first. Returns false when interrupted.
func (s *Snapshotter) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-s.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

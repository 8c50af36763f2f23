package lib

import (
	"context"
	"errors"

	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/store"
)

type Reviews struct {
	Snapshot *models.Snapshot
	Schedule ScheduleSummary
}

type readReviews struct {
	store *store.Store
	clock clock.Clock
	touch *clientToucher
}

// Reviews returns the snapshot the client's pointer refers to. It never fetches.
func (svc *readReviews) Reviews(ctx context.Context, source, clientID string) (*Reviews, error) {
	now, err := svc.touch.touch(ctx, source, clientID)
	if err != nil {
		return nil, err
	}

	snap, err := svc.store.CurrentSnapshot(ctx, source, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSnapshot
	} else if err != nil {
		return nil, err
	}

	schedule, err := optionalSchedule(ctx, svc.store, source, clientID)
	if err != nil {
		return nil, err
	}
	return &Reviews{snap, summarizeSchedule(schedule, now)}, nil
}

package lib

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/store"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

type SnapshotSummary struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

type StatusReport struct {
	Source             string           `json:"source"`
	ClientID           string           `json:"client_id"`
	Status             Status           `json:"status"`
	HasUpstreamChanges bool             `json:"has_upstream_changes"`
	Schedule           ScheduleSummary  `json:"schedule"`
	Snapshot           *SnapshotSummary `json:"snapshot"`
	UpstreamSeenAt     *time.Time       `json:"upstream_seen_at"`
}

type reportStatus struct {
	store         *store.Store
	clock         clock.Clock
	touch         *clientToucher
	runningWindow time.Duration
}

// Status answers "can I refresh, and is there anything new?" without fetching.
func (svc *reportStatus) Status(ctx context.Context, source, clientID string) (*StatusReport, error) {
	now, err := svc.touch.touch(ctx, source, clientID)
	if err != nil {
		return nil, err
	}

	schedule, err := optionalSchedule(ctx, svc.store, source, clientID)
	if err != nil {
		return nil, err
	}

	ptr, snap, err := svc.currentSnapshot(ctx, source, clientID)
	if err != nil {
		return nil, err
	}

	upstream, err := svc.store.GetUpstream(ctx, source)
	if errors.Is(err, store.ErrNotFound) {
		upstream, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		Source:   source,
		ClientID: clientID,
		Status:   svc.status(now, schedule, ptr, snap),
		Schedule: summarizeSchedule(schedule, now),
	}
	if snap != nil {
		report.Snapshot = &SnapshotSummary{snap.ID, snap.Fingerprint, snap.ScrapedAt}
	}
	if upstream != nil {
		seen := upstream.LastSeenAt
		report.UpstreamSeenAt = &seen
		report.HasUpstreamChanges = snap == nil || upstream.LastFingerprint != snap.Fingerprint
	}
	return report, nil
}

// status compares the last run with the time the pointer was last committed. A pointer
// moved to an older, reused snapshot still counts as completing the run.
func (svc *reportStatus) status(now time.Time, schedule *models.Schedule, ptr *models.SnapshotPointer, snap *models.Snapshot) Status {
	if schedule == nil || schedule.LastRunAt == nil {
		return StatusIdle
	}
	lastRun := *schedule.LastRunAt

	if snap != nil {
		committedAt := snap.ScrapedAt
		if ptr.UpdatedAt.After(committedAt) {
			committedAt = ptr.UpdatedAt
		}
		if !committedAt.Before(lastRun) {
			return StatusCompleted
		}
	}
	if now.Sub(lastRun) < svc.runningWindow {
		return StatusRunning
	}
	return StatusIdle
}

func (svc *reportStatus) currentSnapshot(ctx context.Context, source, clientID string) (*models.SnapshotPointer, *models.Snapshot, error) {
	ptr, err := svc.store.GetPointer(ctx, source, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	snap, err := svc.store.GetSnapshot(ctx, ptr.SnapshotID)
	if errors.Is(err, store.ErrNotFound) {
		// Dangling until the next cleanup.
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}
	return ptr, snap, nil
}

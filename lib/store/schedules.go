package store

import (
	"context"
	"time"

	"github.com/fiffu/reviewwatch/lib/models"
	"gorm.io/gorm/clause"
)

const maxClaimAttempts = 3

// Claim is the outcome of an admissibility check. When Granted, Schedule is the row as
// written by the claim and Previous is the row it replaced (nil for a first-ever claim).
// When not granted, Schedule is the current row that blocked the claim.
type Claim struct {
	Granted  bool
	Schedule models.Schedule
	Previous *models.Schedule
}

// ClaimSchedule admits at most one fetch per cooldown window for a (source, client) pair.
// Admission and the schedule advance are a single conditional write guarded by version,
// so concurrent callers racing on the same pair see exactly one winner.
func (s *Store) ClaimSchedule(ctx context.Context, source, clientID string, now time.Time, cooldown time.Duration) (*Claim, error) {
	db := s.db.WithContext(ctx)

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var rows models.Schedules
		if err := db.Where("source = ? AND client_id = ?", source, clientID).Limit(1).Find(&rows).Error; err != nil {
			return nil, wrap("read schedule", err)
		}

		lastRunAt := now
		next := models.Schedule{
			Source:    source,
			ClientID:  clientID,
			NextRunAt: now.Add(cooldown),
			LastRunAt: &lastRunAt,
			UpdatedAt: now,
		}

		if len(rows) == 0 {
			next.Version = 1
			tx := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&next)
			if err := tx.Error; err != nil {
				return nil, wrap("insert schedule", err)
			}
			if tx.RowsAffected == 1 {
				return &Claim{Granted: true, Schedule: next}, nil
			}
			continue
		}

		current := rows[0]
		if !current.Due(now) {
			return &Claim{Granted: false, Schedule: current}, nil
		}

		next.Version = current.Version + 1
		tx := db.Model(&models.Schedule{}).
			Where("source = ? AND client_id = ?", source, clientID).
			Where("version = ? AND next_run_at <= ?", current.Version, now).
			Updates(map[string]any{
				"next_run_at": next.NextRunAt,
				"last_run_at": next.LastRunAt,
				"updated_at":  next.UpdatedAt,
				"version":     next.Version,
			})
		if err := tx.Error; err != nil {
			return nil, wrap("advance schedule", err)
		}
		if tx.RowsAffected == 1 {
			return &Claim{Granted: true, Schedule: next, Previous: &current}, nil
		}
	}

	return nil, &StorageError{Op: "claim schedule", Err: ErrClaimContention}
}

// RevertClaim restores the schedule to exactly what it was before the claim.
// A first-ever claim is reverted by removing the row. The write only applies while the
// row still carries the claimed version; otherwise ErrStaleClaim is returned and nothing changes.
func (s *Store) RevertClaim(ctx context.Context, claim *Claim) error {
	db := s.db.WithContext(ctx)
	claimed := claim.Schedule

	scope := db.Where("source = ? AND client_id = ? AND version = ?", claimed.Source, claimed.ClientID, claimed.Version)

	if claim.Previous == nil {
		tx := scope.Delete(&models.Schedule{})
		if err := tx.Error; err != nil {
			return wrap("revert schedule", err)
		}
		if tx.RowsAffected == 0 {
			return ErrStaleClaim
		}
		return nil
	}

	prev := claim.Previous
	tx := scope.Model(&models.Schedule{}).Updates(map[string]any{
		"next_run_at": prev.NextRunAt,
		"last_run_at": prev.LastRunAt,
		"updated_at":  prev.UpdatedAt,
		"version":     claimed.Version + 1,
	})
	if err := tx.Error; err != nil {
		return wrap("revert schedule", err)
	}
	if tx.RowsAffected == 0 {
		return ErrStaleClaim
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, source, clientID string) (*models.Schedule, error) {
	schedule := &models.Schedule{}
	tx := s.db.WithContext(ctx).Where("source = ? AND client_id = ?", source, clientID).Take(schedule)
	if err := tx.Error; err != nil {
		return nil, wrap("get schedule", err)
	}
	return schedule, nil
}

// FindDueSchedules returns up to limit due pairs whose client was seen since activeSince,
// oldest due first.
func (s *Store) FindDueSchedules(ctx context.Context, now, activeSince time.Time, limit int) (models.Schedules, error) {
	var due models.Schedules
	tx := s.db.WithContext(ctx).
		Model(&models.Schedule{}).
		Select("schedules.*").
		Joins("JOIN clients ON clients.client_id = schedules.client_id").
		Where("schedules.next_run_at <= ?", now).
		Where("clients.last_seen_at >= ?", activeSince).
		Order("schedules.next_run_at ASC").
		Order("schedules.source ASC").
		Order("schedules.client_id ASC").
		Limit(limit).
		Find(&due)
	if err := tx.Error; err != nil {
		return nil, wrap("find due schedules", err)
	}
	return due, nil
}

// CountStaleSchedules counts due schedules of active clients that ran at least once and
// have not been touched since staleBefore. A healthy sweep keeps this at zero.
func (s *Store) CountStaleSchedules(ctx context.Context, now, staleBefore, activeSince time.Time) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).
		Model(&models.Schedule{}).
		Joins("JOIN clients ON clients.client_id = schedules.client_id").
		Where("schedules.next_run_at <= ?", now).
		Where("schedules.last_run_at IS NOT NULL").
		Where("schedules.updated_at < ?", staleBefore).
		Where("clients.last_seen_at >= ?", activeSince).
		Count(&count)
	return count, wrap("count stale schedules", tx.Error)
}

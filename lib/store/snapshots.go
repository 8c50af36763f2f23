package store

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/reviewwatch/lib/models"
	"gorm.io/gorm"
)

// InsertSnapshot appends an immutable snapshot. A second insert for the same window key
// resolves to the snapshot already committed for that window, reported with created=false.
func (s *Store) InsertSnapshot(ctx context.Context, snap *models.Snapshot) (stored *models.Snapshot, created bool, err error) {
	db := s.db.WithContext(ctx)

	tx := db.Create(snap)
	if err := tx.Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, wrap("insert snapshot", err)
		}
		existing, lookupErr := s.snapshotByWindow(ctx, snap.WindowKey)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, false, nil
	}
	return snap, true, nil
}

func (s *Store) snapshotByWindow(ctx context.Context, windowKey string) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	tx := s.db.WithContext(ctx).Where("window_key = ?", windowKey).Take(snap)
	if err := tx.Error; err != nil {
		return nil, wrap("get snapshot by window", err)
	}
	return snap, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	tx := s.db.WithContext(ctx).Where("id = ?", id).Take(snap)
	if err := tx.Error; err != nil {
		return nil, wrap("get snapshot", err)
	}
	return snap, nil
}

// LatestSnapshotForSource returns the newest snapshot any client has committed for source.
func (s *Store) LatestSnapshotForSource(ctx context.Context, source string) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	tx := s.db.WithContext(ctx).
		Where("source = ?", source).
		Order("scraped_at DESC").
		Order("id DESC").
		Take(snap)
	if err := tx.Error; err != nil {
		return nil, wrap("latest snapshot", err)
	}
	return snap, nil
}

func (s *Store) CountSnapshots(ctx context.Context, source string) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).Model(&models.Snapshot{}).Where("source = ?", source).Count(&count)
	return count, wrap("count snapshots", tx.Error)
}

func (s *Store) CountSnapshotsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).Model(&models.Snapshot{}).Where("scraped_at >= ?", since).Count(&count)
	return count, wrap("count recent snapshots", tx.Error)
}

// PruneSnapshots keeps the newest keep snapshots of every source and deletes the rest.
// Pointers left dangling are removed separately by DeleteOrphanPointers.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	db := s.db.WithContext(ctx)

	var sources []string
	if err := db.Model(&models.Snapshot{}).Distinct("source").Pluck("source", &sources).Error; err != nil {
		return 0, wrap("list snapshot sources", err)
	}

	var deleted int64
	for _, source := range sources {
		var ids []string
		tx := db.Model(&models.Snapshot{}).
			Where("source = ?", source).
			Order("scraped_at DESC").
			Order("id DESC").
			Pluck("id", &ids)
		if err := tx.Error; err != nil {
			return deleted, wrap("list snapshots", err)
		}
		if len(ids) <= keep {
			continue
		}

		for _, chunk := range chunked(ids[keep:], deleteChunkSize) {
			res := db.Where("id IN ?", chunk).Delete(&models.Snapshot{})
			if err := res.Error; err != nil {
				return deleted, wrap("delete snapshots", err)
			}
			deleted += res.RowsAffected
		}
	}
	return deleted, nil
}

package store

import (
	"context"
	"time"

	"github.com/fiffu/reviewwatch/lib/models"
	"gorm.io/gorm/clause"
)

func (s *Store) UpsertPointer(ctx context.Context, ptr *models.SnapshotPointer) error {
	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "client_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot_id", "updated_at"}),
		}).
		Create(ptr)
	return wrap("upsert pointer", tx.Error)
}

func (s *Store) GetPointer(ctx context.Context, source, clientID string) (*models.SnapshotPointer, error) {
	ptr := &models.SnapshotPointer{}
	tx := s.db.WithContext(ctx).Where("source = ? AND client_id = ?", source, clientID).Take(ptr)
	if err := tx.Error; err != nil {
		return nil, wrap("get pointer", err)
	}
	return ptr, nil
}

// CurrentSnapshot follows the pointer of a (source, client) pair. ErrNotFound means the
// client has no pointer, or the pointer outlived its snapshot and awaits cleanup.
func (s *Store) CurrentSnapshot(ctx context.Context, source, clientID string) (*models.Snapshot, error) {
	ptr, err := s.GetPointer(ctx, source, clientID)
	if err != nil {
		return nil, err
	}
	return s.GetSnapshot(ctx, ptr.SnapshotID)
}

func (s *Store) snapshotIDs() any {
	return s.db.Model(&models.Snapshot{}).Select("id")
}

// DeleteOrphanPointers removes pointers whose target snapshot no longer exists.
func (s *Store) DeleteOrphanPointers(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("snapshot_id NOT IN (?)", s.snapshotIDs()).
		Delete(&models.SnapshotPointer{})
	return res.RowsAffected, wrap("delete orphan pointers", res.Error)
}

func (s *Store) CountOrphanPointers(ctx context.Context) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).
		Model(&models.SnapshotPointer{}).
		Where("snapshot_id NOT IN (?)", s.snapshotIDs()).
		Count(&count)
	return count, wrap("count orphan pointers", tx.Error)
}

// CountPointersUpdatedSince counts successful refreshes, including ones that reused a snapshot.
func (s *Store) CountPointersUpdatedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).Model(&models.SnapshotPointer{}).Where("updated_at >= ?", since).Count(&count)
	return count, wrap("count recent pointers", tx.Error)
}

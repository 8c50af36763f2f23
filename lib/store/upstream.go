package store

import (
	"context"

	"github.com/fiffu/reviewwatch/lib/models"
	"gorm.io/gorm/clause"
)

// UpsertUpstream records the latest observed content of a source. Last writer wins.
func (s *Store) UpsertUpstream(ctx context.Context, state *models.UpstreamState) error {
	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_fingerprint", "etag", "last_modified", "last_seen_at"}),
		}).
		Create(state)
	return wrap("upsert upstream state", tx.Error)
}

func (s *Store) GetUpstream(ctx context.Context, source string) (*models.UpstreamState, error) {
	state := &models.UpstreamState{}
	tx := s.db.WithContext(ctx).Where("source = ?", source).Take(state)
	if err := tx.Error; err != nil {
		return nil, wrap("get upstream state", err)
	}
	return state, nil
}

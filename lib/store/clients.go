package store

import (
	"context"
	"time"

	"github.com/fiffu/reviewwatch/lib/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TouchClient creates the client on first contact and otherwise advances last_seen_at.
// last_seen_at never moves backwards, even when requests are observed out of order.
func (s *Store) TouchClient(ctx context.Context, clientID string, now time.Time) (*models.Client, error) {
	client := &models.Client{
		ClientID:    clientID,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}

	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "client_id"}},
			DoUpdates: clause.Set{{
				Column: clause.Column{Name: "last_seen_at"},
				Value: gorm.Expr(
					"CASE WHEN clients.last_seen_at < excluded.last_seen_at THEN excluded.last_seen_at ELSE clients.last_seen_at END",
				),
			}},
		}).
		Create(client)
	if err := tx.Error; err != nil {
		return nil, wrap("touch client", err)
	}
	return s.GetClient(ctx, clientID)
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	client := &models.Client{}
	tx := s.db.WithContext(ctx).Where("client_id = ?", clientID).Take(client)
	if err := tx.Error; err != nil {
		return nil, wrap("get client", err)
	}
	return client, nil
}

func (s *Store) CountActiveClients(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).Model(&models.Client{}).Where("last_seen_at >= ?", since).Count(&count)
	return count, wrap("count active clients", tx.Error)
}

// DeleteInactiveClients removes clients not seen since cutoff along with their schedules and pointers.
// Client rows go first so that a client touched concurrently keeps everything it owns.
func (s *Store) DeleteInactiveClients(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed models.Clients
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Returning{Columns: []clause.Column{{Name: "client_id"}}}).
			Where("last_seen_at < ?", cutoff).
			Delete(&removed).Error
		if err != nil || len(removed) == 0 {
			return err
		}

		ids := make([]string, len(removed))
		for i, c := range removed {
			ids[i] = c.ClientID
		}
		for _, chunk := range chunked(ids, deleteChunkSize) {
			if err := tx.Where("client_id IN ?", chunk).Delete(&models.Schedule{}).Error; err != nil {
				return err
			}
			if err := tx.Where("client_id IN ?", chunk).Delete(&models.SnapshotPointer{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrap("delete inactive clients", err)
	}
	return int64(len(removed)), nil
}

const deleteChunkSize = 500

func chunked(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

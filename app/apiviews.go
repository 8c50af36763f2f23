package app

import (
	"time"

	"github.com/fiffu/reviewwatch/lib"
	"github.com/fiffu/reviewwatch/lib/models"
)

type ClientView struct {
	ClientID    string    `json:"client_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func (view ClientView) From(entity *models.Client) ClientView {
	return ClientView{
		ClientID:    entity.ClientID,
		FirstSeenAt: entity.FirstSeenAt,
		LastSeenAt:  entity.LastSeenAt,
	}
}

type SnapshotView struct {
	ID          string               `json:"id"`
	Source      string               `json:"source"`
	OriginURL   string               `json:"origin_url"`
	Fingerprint string               `json:"fingerprint"`
	ScrapedAt   time.Time            `json:"scraped_at"`
	Payload     models.ReviewPayload `json:"payload"`
}

func (view SnapshotView) From(entity *models.Snapshot) SnapshotView {
	return SnapshotView{
		ID:          entity.ID,
		Source:      entity.Source,
		OriginURL:   entity.OriginURL,
		Fingerprint: entity.Fingerprint,
		ScrapedAt:   entity.ScrapedAt,
		Payload:     entity.Payload.Data(),
	}
}

type RefreshView struct {
	Snapshot      SnapshotView `json:"snapshot"`
	Created       bool         `json:"created"`
	NextAllowedAt time.Time    `json:"next_allowed_at"`
}

type ReviewsView struct {
	SnapshotView
	Schedule lib.ScheduleSummary `json:"schedule"`
}

func (view ReviewsView) From(entity *lib.Reviews) ReviewsView {
	return ReviewsView{
		SnapshotView: SnapshotView{}.From(entity.Snapshot),
		Schedule:     entity.Schedule,
	}
}

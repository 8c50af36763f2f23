package models

import (
	"time"

	"gorm.io/datatypes"
)

// Snapshot is the immutable result of one successful fetch.
type Snapshot struct {
	ID           string                            `gorm:"primaryKey;size:26"`
	Source       string                            `gorm:"not null;size:64;index:idx_snapshots_source_scraped,priority:1"`
	ClientID     string                            `gorm:"not null;size:36"`
	WindowKey    string                            `gorm:"not null;size:160;uniqueIndex"`
	OriginURL    string                            `gorm:"not null"`
	Fingerprint  string                            `gorm:"not null;size:64;index"`
	ETag         string                            `gorm:"column:etag"`
	LastModified string                            `gorm:"column:last_modified"`
	Payload      datatypes.JSONType[ReviewPayload] `gorm:"not null"`
	ScrapedAt    time.Time                         `gorm:"not null;index:idx_snapshots_source_scraped,priority:2"`
}

func (Snapshot) TableName() string {
	return "snapshots"
}

type Snapshots []Snapshot

// SnapshotPointer maps a (source, client) pair to the snapshot that client considers current.
type SnapshotPointer struct {
	Source     string    `gorm:"primaryKey;size:64"`
	ClientID   string    `gorm:"primaryKey;size:36"`
	SnapshotID string    `gorm:"not null;size:26;index"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (SnapshotPointer) TableName() string {
	return "snapshot_pointers"
}

// UpstreamState is the last content observed for a source by any client.
type UpstreamState struct {
	Source          string    `gorm:"primaryKey;size:64"`
	LastFingerprint string    `gorm:"not null;size:64"`
	ETag            string    `gorm:"column:etag"`
	LastModified    string    `gorm:"column:last_modified"`
	LastSeenAt      time.Time `gorm:"not null"`
}

func (UpstreamState) TableName() string {
	return "upstream_states"
}

// AllTables lists every table the service needs, in migration order.
func AllTables() []any {
	return []any{
		&Client{},
		&Schedule{},
		&Snapshot{},
		&SnapshotPointer{},
		&UpstreamState{},
	}
}

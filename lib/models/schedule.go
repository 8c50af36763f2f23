package models

import (
	"math"
	"time"
)

// Schedule is the rate-limit ledger row for one (source, client) pair.
// NextRunAt is the only admissibility gate; Version guards every mutation.
type Schedule struct {
	Source    string    `gorm:"primaryKey;size:64"`
	ClientID  string    `gorm:"primaryKey;size:36"`
	NextRunAt time.Time `gorm:"not null;index"`
	LastRunAt *time.Time
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
	Version   int64     `gorm:"not null"`
}

func (Schedule) TableName() string {
	return "schedules"
}

type Schedules []Schedule

// Due reports whether a fetch is admissible at now.
func (s *Schedule) Due(now time.Time) bool {
	return !now.Before(s.NextRunAt)
}

// RemainingSeconds rounds up, so a schedule that is not yet due never reports 0.
func (s *Schedule) RemainingSeconds(now time.Time) int64 {
	if s.Due(now) {
		return 0
	}
	return int64(math.Ceil(s.NextRunAt.Sub(now).Seconds()))
}

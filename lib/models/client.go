package models

import "time"

// Client is a device identity. ClientID is generated client-side and never issued by us.
type Client struct {
	ClientID    string    `gorm:"primaryKey;size:36"`
	FirstSeenAt time.Time `gorm:"not null"`
	LastSeenAt  time.Time `gorm:"not null;index"`
}

func (Client) TableName() string {
	return "clients"
}

type Clients []Client

package model

import "time"

type SyncStatus string

const (
	SyncSuccess        SyncStatus = "success"
	SyncPartialSuccess SyncStatus = "partial_success"
	SyncFailed         SyncStatus = "failed"
)

// SyncHistory is an append-only record of one sync run.
type SyncHistory struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string     `gorm:"size:64;not null;index:idx_history_user" json:"user_id"`
	SyncType     string     `gorm:"size:64;not null" json:"sync_type"`
	Status       SyncStatus `gorm:"size:32;not null" json:"status"`
	ItemsUpdated int        `json:"items_updated"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncHistory) TableName() string { return "sync_history" }

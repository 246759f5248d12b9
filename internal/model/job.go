package model

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
)

// SyncJob is a command queued for asynchronous execution by the workers.
type SyncJob struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	Action    string            `gorm:"size:64;not null;index:idx_job_action" json:"action"`
	Params    datatypes.JSONMap `json:"params"`
	Status    JobStatus         `gorm:"size:20;not null;index:idx_job_status" json:"status"`
	Result    datatypes.JSON    `json:"result,omitempty"`
	Error     string            `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

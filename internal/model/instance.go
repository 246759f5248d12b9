package model

import (
	"time"

	"gorm.io/datatypes"
)

// WebinarInstance is one occurrence of a (possibly recurring) webinar.
type WebinarInstance struct {
	ID                uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string         `gorm:"size:64;not null;uniqueIndex:idx_instance_key" json:"user_id"`
	WebinarID         string         `gorm:"size:64;not null;uniqueIndex:idx_instance_key" json:"webinar_id"`
	InstanceID        string         `gorm:"size:128;not null;uniqueIndex:idx_instance_key" json:"instance_id"`
	Topic             string         `gorm:"size:512" json:"topic,omitempty"`
	Status            string         `gorm:"size:32" json:"status,omitempty"`
	StartTime         *time.Time     `json:"start_time,omitempty"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	ActualStartTime   *time.Time     `json:"actual_start_time,omitempty"`
	ActualEndTime     *time.Time     `json:"actual_end_time,omitempty"`
	Duration          *int           `json:"duration,omitempty"`
	ActualDuration    *int           `json:"actual_duration,omitempty"`
	ParticipantsCount *int           `json:"participants_count,omitempty"`
	RegistrantsCount  *int           `json:"registrants_count,omitempty"`
	RawData           datatypes.JSON `json:"raw_data,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

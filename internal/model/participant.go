package model

import (
	"time"

	"gorm.io/datatypes"
)

type ParticipantType string

const (
	ParticipantRegistrant ParticipantType = "registrant"
	ParticipantAttendee   ParticipantType = "attendee"
)

type WebinarParticipant struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          string          `gorm:"size:64;not null;uniqueIndex:idx_participant_key" json:"user_id"`
	WebinarID       string          `gorm:"size:64;not null;uniqueIndex:idx_participant_key" json:"webinar_id"`
	ParticipantType ParticipantType `gorm:"size:16;not null;uniqueIndex:idx_participant_key" json:"participant_type"`
	ParticipantID   string          `gorm:"size:128;not null;uniqueIndex:idx_participant_key" json:"participant_id"`
	RegistrantID    string          `gorm:"size:128" json:"registrant_id,omitempty"`
	Email           string          `gorm:"size:255" json:"email,omitempty"`
	Name            string          `gorm:"size:255" json:"name,omitempty"`
	JoinTime        *time.Time      `json:"join_time,omitempty"`
	LeaveTime       *time.Time      `json:"leave_time,omitempty"`
	Duration        int             `json:"duration"`
	Status          string          `gorm:"size:32" json:"status,omitempty"`
	RawData         datatypes.JSON  `json:"raw_data,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

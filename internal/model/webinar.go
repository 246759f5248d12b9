package model

import (
	"time"

	"gorm.io/datatypes"
)

type Panelist struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	JoinURL string `json:"join_url,omitempty"`
}

// Webinar is the stored copy of a remote webinar. The Actual* fields are only
// filled once the webinar is judged to have ended.
type Webinar struct {
	ID                uint                          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string                        `gorm:"size:64;not null;uniqueIndex:idx_webinar_key" json:"user_id"`
	WebinarID         string                        `gorm:"size:64;not null;uniqueIndex:idx_webinar_key" json:"webinar_id"`
	UUID              string                        `gorm:"size:128" json:"uuid"`
	Topic             string                        `gorm:"size:512" json:"topic"`
	Agenda            string                        `gorm:"type:text" json:"agenda,omitempty"`
	Type              int                           `json:"type"`
	Status            string                        `gorm:"size:32" json:"status"`
	StartTime         *time.Time                    `json:"start_time,omitempty"`
	Duration          int                           `json:"duration"`
	Timezone          string                        `gorm:"size:64" json:"timezone"`
	JoinURL           string                        `gorm:"size:1024" json:"join_url,omitempty"`
	HostID            string                        `gorm:"size:128" json:"host_id"`
	HostEmail         string                        `gorm:"size:255" json:"host_email"`
	HostName          string                        `gorm:"size:255" json:"host_name"`
	ActualStartTime   *time.Time                    `json:"actual_start_time,omitempty"`
	ActualEndTime     *time.Time                    `json:"actual_end_time,omitempty"`
	ActualDuration    *int                          `json:"actual_duration,omitempty"`
	ParticipantsCount *int                          `json:"participants_count,omitempty"`
	Panelists         datatypes.JSONSlice[Panelist] `json:"panelists"`
	Settings          datatypes.JSONMap             `json:"settings,omitempty"`
	RawData           datatypes.JSON                `json:"raw_data,omitempty"`
	LastSyncedAt      *time.Time                    `json:"last_synced_at,omitempty"`
	CreatedAt         time.Time                     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                     `gorm:"autoUpdateTime" json:"updated_at"`
}

// EndTime is the scheduled end, if a start is known.
func (w *Webinar) EndTime() *time.Time {
	if w.StartTime == nil {
		return nil
	}
	end := w.StartTime.Add(time.Duration(w.Duration) * time.Minute)
	return &end
}

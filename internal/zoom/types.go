package zoom

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Webinar as returned by the list and detail endpoints. Raw keeps the
// original payload for storage.
type Webinar struct {
	ID        json.Number    `json:"id"`
	UUID      string         `json:"uuid"`
	HostID    string         `json:"host_id"`
	HostEmail string         `json:"host_email"`
	Topic     string         `json:"topic"`
	Agenda    string         `json:"agenda"`
	Type      int            `json:"type"`
	Status    string         `json:"status"`
	StartTime string         `json:"start_time"`
	Duration  int            `json:"duration"`
	Timezone  string         `json:"timezone"`
	JoinURL   string         `json:"join_url"`
	CreatedAt string         `json:"created_at"`
	Settings  map[string]any `json:"settings,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (w *Webinar) IDString() string { return w.ID.String() }

type PastWebinar struct {
	UUID              string      `json:"uuid"`
	ID                json.Number `json:"id"`
	Topic             string      `json:"topic"`
	StartTime         string      `json:"start_time"`
	EndTime           string      `json:"end_time"`
	Duration          int         `json:"duration"`
	ParticipantsCount int         `json:"participants_count"`
	TotalMinutes      int         `json:"total_minutes"`

	Raw json.RawMessage `json:"-"`
}

// PastInstance is one occurrence listed by /past_webinars/{id}/instances.
type PastInstance struct {
	UUID      string `json:"uuid"`
	StartTime string `json:"start_time"`

	Raw json.RawMessage `json:"-"`
}

type Registrant struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Status     string `json:"status"`
	CreateTime string `json:"create_time"`
	JoinURL    string `json:"join_url"`

	Raw json.RawMessage `json:"-"`
}

func (r *Registrant) Name() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

type Participant struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	UserEmail string `json:"user_email"`
	JoinTime  string `json:"join_time"`
	LeaveTime string `json:"leave_time"`
	Duration  int    `json:"duration"`
	Status    string `json:"status"`

	Raw json.RawMessage `json:"-"`
}

type Panelist struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	JoinURL string `json:"join_url"`
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
}

func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type RegistrantsPage struct {
	Registrants   []Registrant
	NextPageToken string
	TotalRecords  int
}

type ParticipantsPage struct {
	Participants  []Participant
	NextPageToken string
	TotalRecords  int
}

// ParseTime accepts the timestamp shapes Zoom emits. Empty input yields nil.
func ParseTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

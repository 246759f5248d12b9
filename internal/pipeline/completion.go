package pipeline

import (
	"fmt"
	"strings"
	"time"

	"example.com/webinar-sync/internal/model"
)

type Stage string

const (
	StageEnded     Stage = "ENDED"
	StageLive      Stage = "LIVE"
	StageScheduled Stage = "SCHEDULED"
	StageUnknown   Stage = "UNKNOWN"
)

// Completion is the lifecycle classification of a webinar at a point in time.
// ShouldFetchActualData gates every call to the past-webinar endpoints.
type Completion struct {
	Stage                 Stage  `json:"stage"`
	Inferred              bool   `json:"inferred"`
	Reason                string `json:"reason"`
	ShouldFetchActualData bool   `json:"shouldFetchActualData"`
}

// DetectCompletion classifies a webinar from its remote status and schedule.
// The checks run in a fixed order and the first match wins.
func DetectCompletion(status string, start *time.Time, durationMinutes int, now time.Time) Completion {
	if strings.EqualFold(strings.TrimSpace(status), "ended") {
		return Completion{Stage: StageEnded, Reason: "remote status is ended", ShouldFetchActualData: true}
	}
	if start == nil {
		return Completion{Stage: StageUnknown, Reason: "no ended status and no start time"}
	}
	if durationMinutes < 0 {
		durationMinutes = 0
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	switch {
	case !now.Before(end):
		return Completion{
			Stage:                 StageEnded,
			Inferred:              true,
			Reason:                fmt.Sprintf("scheduled end %s has passed", end.UTC().Format(time.RFC3339)),
			ShouldFetchActualData: true,
		}
	case !now.Before(*start):
		return Completion{Stage: StageLive, Reason: fmt.Sprintf("in progress until %s", end.UTC().Format(time.RFC3339))}
	default:
		return Completion{Stage: StageScheduled, Reason: fmt.Sprintf("starts at %s", start.UTC().Format(time.RFC3339))}
	}
}

func DetectWebinar(w *model.Webinar, now time.Time) Completion {
	return DetectCompletion(w.Status, w.StartTime, w.Duration, now)
}

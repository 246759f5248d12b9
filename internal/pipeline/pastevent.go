package pipeline

import (
	"context"
	"fmt"
	"time"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/metrics"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/zoom"
)

// PastEventResult carries post-event timing. A failed fetch leaves Success
// false and Error set; it is never returned as a Go error.
type PastEventResult struct {
	Success           bool       `json:"success"`
	ActualStart       *time.Time `json:"actualStart,omitempty"`
	ActualEnd         *time.Time `json:"actualEnd,omitempty"`
	ActualDuration    *int       `json:"actualDuration,omitempty"`
	ParticipantsCount *int       `json:"participantsCount,omitempty"`
	APICallsMade      int        `json:"apiCallsMade"`
	Error             string     `json:"error,omitempty"`
}

type PastEventFetcher struct {
	api ZoomAPI
}

func NewPastEventFetcher(api ZoomAPI) *PastEventFetcher {
	return &PastEventFetcher{api: api}
}

// Fetch asks the past-webinar endpoint for actual timing, by UUID first and
// then by numeric id. Nothing is requested unless c allows it.
func (f *PastEventFetcher) Fetch(ctx context.Context, token string, w *model.Webinar, c Completion) PastEventResult {
	var res PastEventResult
	if !c.ShouldFetchActualData {
		res.Error = fmt.Sprintf("actual data not available: %s", c.Reason)
		return res
	}
	defer func() { metrics.PastEventAPICalls.Add(float64(res.APICallsMade)) }()

	var candidates []string
	if w.UUID != "" {
		candidates = append(candidates, w.UUID)
	}
	if w.WebinarID != "" && w.WebinarID != w.UUID {
		candidates = append(candidates, w.WebinarID)
	}
	if len(candidates) == 0 {
		res.Error = "webinar has neither uuid nor id"
		return res
	}

	var lastErr error
	for _, id := range candidates {
		res.APICallsMade++
		pw, err := f.api.GetPastWebinar(ctx, token, id)
		if err != nil {
			logging.Ctx(ctx).Debug().Err(err).Str("webinar_id", w.WebinarID).Str("lookup", id).Msg("past webinar lookup failed")
			lastErr = err
			continue
		}
		if err := applyPastWebinar(&res, pw); err != nil {
			lastErr = err
			continue
		}
		res.Success = true
		res.Error = ""
		return res
	}
	res.Error = lastErr.Error()
	logging.Ctx(ctx).Warn().Str("webinar_id", w.WebinarID).Str("error", res.Error).Msg("actual timing unavailable")
	return res
}

func applyPastWebinar(res *PastEventResult, pw *zoom.PastWebinar) error {
	start, err := zoom.ParseTime(pw.StartTime)
	if err != nil {
		return err
	}
	if start == nil {
		return fmt.Errorf("past webinar %s has no start_time", pw.UUID)
	}
	end, err := zoom.ParseTime(pw.EndTime)
	if err != nil {
		end = nil
	}
	duration := pw.Duration
	if end == nil && duration > 0 {
		derived := start.Add(time.Duration(duration) * time.Minute)
		end = &derived
	}
	if duration <= 0 && end != nil {
		duration = int(end.Sub(*start).Minutes())
	}

	res.ActualStart = start
	res.ActualEnd = end
	if duration > 0 {
		res.ActualDuration = &duration
	}
	if pw.ParticipantsCount > 0 {
		n := pw.ParticipantsCount
		res.ParticipantsCount = &n
	}
	return nil
}

// Apply copies successful timing onto w. Failed results leave w unchanged.
func (r PastEventResult) Apply(w *model.Webinar) {
	if !r.Success {
		return
	}
	w.ActualStartTime = r.ActualStart
	w.ActualEndTime = r.ActualEnd
	w.ActualDuration = r.ActualDuration
	if r.ParticipantsCount != nil {
		w.ParticipantsCount = r.ParticipantsCount
	}
}

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/zoom"
)

func TestPastEventFetchIsGated(t *testing.T) {
	api := newFakeZoom()
	f := NewPastEventFetcher(api)
	w := &model.Webinar{WebinarID: "1", UUID: "u1"}

	res := f.Fetch(context.Background(), "tok", w, Completion{Stage: StageScheduled, Reason: "starts later"})

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.APICallsMade)
	assert.Equal(t, 0, api.Calls("GetPastWebinar"))
}

func TestPastEventFetchFallsBackToID(t *testing.T) {
	api := newFakeZoom()
	api.past["1"] = &zoom.PastWebinar{ID: "1", StartTime: "2024-06-01T10:02:00Z", Duration: 55, ParticipantsCount: 42}
	f := NewPastEventFetcher(api)
	w := &model.Webinar{WebinarID: "1", UUID: "/abc=="}

	res := f.Fetch(context.Background(), "tok", w, Completion{Stage: StageEnded, ShouldFetchActualData: true})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.APICallsMade)
	assert.Equal(t, []string{"/abc==", "1"}, api.pastCalls)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 2, 0, 0, time.UTC), *res.ActualStart)
	// end derived from start + duration
	assert.Equal(t, time.Date(2024, 6, 1, 10, 57, 0, 0, time.UTC), *res.ActualEnd)
	assert.Equal(t, 55, *res.ActualDuration)
	assert.Equal(t, 42, *res.ParticipantsCount)

	res.Apply(w)
	assert.Equal(t, res.ActualStart, w.ActualStartTime)
	assert.Equal(t, 42, *w.ParticipantsCount)
}

func TestPastEventFetchDerivesDurationFromEnd(t *testing.T) {
	api := newFakeZoom()
	api.past["u1"] = &zoom.PastWebinar{UUID: "u1", StartTime: "2024-06-01T10:00:00Z", EndTime: "2024-06-01T11:30:00Z"}
	f := NewPastEventFetcher(api)

	res := f.Fetch(context.Background(), "tok", &model.Webinar{WebinarID: "1", UUID: "u1"}, Completion{ShouldFetchActualData: true})

	require.True(t, res.Success)
	assert.Equal(t, 1, res.APICallsMade)
	assert.Equal(t, 90, *res.ActualDuration)
}

func TestPastEventFailureIsSoft(t *testing.T) {
	api := newFakeZoom()
	f := NewPastEventFetcher(api)
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	w := &model.Webinar{WebinarID: "1", UUID: "u1", ActualStartTime: &start}

	res := f.Fetch(context.Background(), "tok", w, Completion{ShouldFetchActualData: true})

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.APICallsMade)
	assert.Contains(t, res.Error, "past webinar not found")
	res.Apply(w)
	assert.Equal(t, &start, w.ActualStartTime, "previous timing kept")
}

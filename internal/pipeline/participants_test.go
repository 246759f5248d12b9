package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/syncerr"
	"example.com/webinar-sync/internal/zoom"
)

func registrantPage(ids ...string) zoom.RegistrantsPage {
	p := zoom.RegistrantsPage{}
	for _, id := range ids {
		p.Registrants = append(p.Registrants, zoom.Registrant{ID: id, Email: id + "@example.com", FirstName: id})
	}
	return p
}

func TestSyncRegistrantsReplacesStoredSet(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	api := newFakeZoom()
	p := NewParticipantSyncer(api, s, 2, 10)

	api.registrants["w1"] = []zoom.RegistrantsPage{registrantPage("a", "b"), registrantPage("c")}
	res, err := p.SyncRegistrants(ctx, "tok", "u1", "w1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 2, res.Pages)

	api.registrants["w1"] = []zoom.RegistrantsPage{registrantPage("b", "d")}
	res, err = p.SyncRegistrants(ctx, "tok", "u1", "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	stored, err := s.ListParticipants(ctx, "u1", "w1", model.ParticipantRegistrant)
	require.NoError(t, err)
	ids := make([]string, 0, len(stored))
	for _, r := range stored {
		ids = append(ids, r.ParticipantID)
	}
	assert.ElementsMatch(t, []string{"b", "d"}, ids)
}

func TestSyncWithEmptyFetchLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	api := newFakeZoom()
	p := NewParticipantSyncer(api, s, 300, 10)

	api.registrants["w1"] = []zoom.RegistrantsPage{registrantPage("a")}
	_, err := p.SyncRegistrants(ctx, "tok", "u1", "w1")
	require.NoError(t, err)

	api.registrants["w1"] = []zoom.RegistrantsPage{{}}
	res, err := p.SyncRegistrants(ctx, "tok", "u1", "w1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	stored, err := s.ListParticipants(ctx, "u1", "w1", model.ParticipantRegistrant)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSyncRegistrantsStopsAtMaxPages(t *testing.T) {
	api := newFakeZoom()
	api.registrants["w1"] = []zoom.RegistrantsPage{registrantPage("a"), registrantPage("b"), registrantPage("c")}
	p := NewParticipantSyncer(api, setupStore(t), 1, 2)

	res, err := p.SyncRegistrants(context.Background(), "tok", "u1", "w1")

	require.Error(t, err)
	assert.Equal(t, syncerr.KindSoftFetchFailure, syncerr.KindOf(err))
	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, api.Calls("ListRegistrants"))
}

func TestSyncRegistrantsExactlyAtMaxPagesIsComplete(t *testing.T) {
	api := newFakeZoom()
	api.registrants["w1"] = []zoom.RegistrantsPage{registrantPage("a"), registrantPage("b")}
	p := NewParticipantSyncer(api, setupStore(t), 1, 2)

	res, err := p.SyncRegistrants(context.Background(), "tok", "u1", "w1")

	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, 2, res.Count)
}

func TestTruncatedFetchKeepsUnfetchedRows(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	api := newFakeZoom()

	api.registrants["w1"] = []zoom.RegistrantsPage{registrantPage("a", "b", "c")}
	_, err := NewParticipantSyncer(api, s, 300, 10).SyncRegistrants(ctx, "tok", "u1", "w1")
	require.NoError(t, err)

	// the capped fetch only sees "a" and "x"; "b" and "c" sit past the cap
	api.registrants["w1"] = []zoom.RegistrantsPage{registrantPage("a"), registrantPage("x"), registrantPage("b", "c")}
	res, err := NewParticipantSyncer(api, s, 1, 2).SyncRegistrants(ctx, "tok", "u1", "w1")
	require.Error(t, err)
	assert.True(t, res.Truncated)

	stored, err := s.ListParticipants(ctx, "u1", "w1", model.ParticipantRegistrant)
	require.NoError(t, err)
	ids := make([]string, 0, len(stored))
	for _, r := range stored {
		ids = append(ids, r.ParticipantID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "x"}, ids)
}

func TestSyncAttendeesReplacesStoredSet(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	api := newFakeZoom()
	p := NewParticipantSyncer(api, s, 300, 10)

	api.participants["w1"] = []zoom.ParticipantsPage{{Participants: []zoom.Participant{
		{ID: "p1", Name: "Pat", Duration: 60},
		{ID: "p2", Name: "Sam", Duration: 60},
	}}}
	_, err := p.SyncAttendees(ctx, "tok", "u1", "w1")
	require.NoError(t, err)

	api.participants["w1"] = []zoom.ParticipantsPage{{Participants: []zoom.Participant{
		{ID: "p2", Name: "Sam", Duration: 90},
		{ID: "p3", Name: "Lee", Duration: 30},
	}}}
	res, err := p.SyncAttendees(ctx, "tok", "u1", "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.Truncated)

	stored, err := s.ListParticipants(ctx, "u1", "w1", model.ParticipantAttendee)
	require.NoError(t, err)
	byID := map[string]model.WebinarParticipant{}
	for _, r := range stored {
		byID[r.ParticipantID] = r
	}
	require.Len(t, byID, 2)
	assert.NotContains(t, byID, "p1")
	assert.Equal(t, 90, byID["p2"].Duration)
	assert.Contains(t, byID, "p3")
}

func TestSyncAttendeesCollapsesRepeatJoins(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	api := newFakeZoom()
	api.participants["w1"] = []zoom.ParticipantsPage{{Participants: []zoom.Participant{
		{ID: "p1", Name: "Pat", JoinTime: "2024-06-01T10:00:00Z", LeaveTime: "2024-06-01T10:20:00Z", Duration: 1200},
		{ID: "p1", Name: "Pat", JoinTime: "2024-06-01T10:30:00Z", LeaveTime: "2024-06-01T11:00:00Z", Duration: 1800},
		{Name: "Guest", UserEmail: "Guest@Example.com", JoinTime: "2024-06-01T10:05:00Z", Duration: 60},
	}}}

	res, err := NewParticipantSyncer(api, s, 300, 10).SyncAttendees(ctx, "tok", "u1", "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	stored, err := s.ListParticipants(ctx, "u1", "w1", model.ParticipantAttendee)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	byID := map[string]model.WebinarParticipant{}
	for _, r := range stored {
		byID[r.ParticipantID] = r
	}
	pat := byID["p1"]
	assert.Equal(t, 3000, pat.Duration)
	assert.True(t, pat.JoinTime.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, pat.LeaveTime.Equal(time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)))

	join := time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC)
	guestID := SynthesizeParticipantID("guest@example.com", "Guest", &join)
	assert.Contains(t, byID, guestID)
}

func TestSyncAttendeesFetchErrorIsSoft(t *testing.T) {
	s := setupStore(t)
	api := newFakeZoom()

	_, err := NewParticipantSyncer(api, s, 300, 10).SyncAttendees(context.Background(), "tok", "u1", "unknown")

	require.Error(t, err)
	assert.Equal(t, syncerr.KindSoftFetchFailure, syncerr.KindOf(err))
}

func TestSynthesizeParticipantIDIsStable(t *testing.T) {
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	a := SynthesizeParticipantID(" A@Example.com ", "", &ts)
	b := SynthesizeParticipantID("a@example.com", "ignored", ptrTime(ts.UTC()))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SynthesizeParticipantID("a@example.com", "", nil))
}

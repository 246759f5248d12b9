package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/syncerr"
	"example.com/webinar-sync/internal/zoom"
)

var participantNamespace = uuid.MustParse("6f1b8f0e-3c0a-4d0f-9a57-2b8f4f3d5c11")

// SynthesizeParticipantID derives a stable id for participants the remote
// returns without one.
func SynthesizeParticipantID(email, name string, ts *time.Time) string {
	who := strings.ToLower(strings.TrimSpace(email))
	if who == "" {
		who = strings.TrimSpace(name)
	}
	stamp := ""
	if ts != nil {
		stamp = ts.UTC().Format(time.RFC3339)
	}
	return uuid.NewSHA1(participantNamespace, []byte(who+"|"+stamp)).String()
}

type ParticipantSyncResult struct {
	Type  model.ParticipantType `json:"type"`
	Count int                   `json:"count"`
	Pages int                   `json:"pages"`
	// Truncated is set when the page cap was hit with pages remaining.
	Truncated bool `json:"truncated,omitempty"`
}

// AttendeeFetch is one paged read of a participant report.
type AttendeeFetch struct {
	Rows      []model.WebinarParticipant
	Pages     int
	Truncated bool
}

type ParticipantSyncer struct {
	api      ZoomAPI
	store    store.ParticipantStore
	pageSize int
	maxPages int
}

func NewParticipantSyncer(api ZoomAPI, s store.ParticipantStore, pageSize, maxPages int) *ParticipantSyncer {
	if pageSize <= 0 {
		pageSize = 300
	}
	if maxPages <= 0 {
		maxPages = 10
	}
	return &ParticipantSyncer{api: api, store: s, pageSize: pageSize, maxPages: maxPages}
}

// SyncRegistrants mirrors the webinar's registrant list into the store.
func (p *ParticipantSyncer) SyncRegistrants(ctx context.Context, token, userID, webinarID string) (ParticipantSyncResult, error) {
	res := ParticipantSyncResult{Type: model.ParticipantRegistrant}
	var rows []model.WebinarParticipant
	pageToken := ""
	for {
		page, err := p.api.ListRegistrants(ctx, token, webinarID, p.pageSize, pageToken)
		if err != nil {
			return res, syncerr.Wrap(syncerr.KindSoftFetchFailure, err, "list registrants")
		}
		res.Pages++
		for _, r := range page.Registrants {
			rows = append(rows, registrantRow(ctx, userID, webinarID, r))
		}
		if page.NextPageToken == "" {
			break
		}
		if res.Pages >= p.maxPages {
			res.Truncated = true
			break
		}
		pageToken = page.NextPageToken
	}
	return p.save(ctx, userID, webinarID, res, collapseParticipants(rows))
}

// SyncAttendees mirrors the attendee report of an ended webinar.
func (p *ParticipantSyncer) SyncAttendees(ctx context.Context, token, userID, webinarID string) (ParticipantSyncResult, error) {
	res := ParticipantSyncResult{Type: model.ParticipantAttendee}
	f, err := p.FetchAttendees(ctx, token, userID, webinarID, webinarID)
	res.Pages, res.Truncated = f.Pages, f.Truncated
	if err != nil {
		return res, err
	}
	return p.save(ctx, userID, webinarID, res, f.Rows)
}

// FetchAttendees pages through the participant report for idOrUUID without
// touching the store. Repeat joins by one participant collapse into a row.
func (p *ParticipantSyncer) FetchAttendees(ctx context.Context, token, userID, webinarID, idOrUUID string) (AttendeeFetch, error) {
	var f AttendeeFetch
	var rows []model.WebinarParticipant
	pageToken := ""
	for {
		page, err := p.api.ListParticipants(ctx, token, idOrUUID, p.pageSize, pageToken)
		if err != nil {
			return f, syncerr.Wrap(syncerr.KindSoftFetchFailure, err, "list participants")
		}
		f.Pages++
		for _, a := range page.Participants {
			rows = append(rows, attendeeRow(ctx, userID, webinarID, a))
		}
		if page.NextPageToken == "" {
			break
		}
		if f.Pages >= p.maxPages {
			f.Truncated = true
			break
		}
		pageToken = page.NextPageToken
	}
	f.Rows = collapseParticipants(rows)
	return f, nil
}

// save replaces the stored set with a complete fetch. A truncated fetch is
// only upserted, since rows past the cap were never seen.
func (p *ParticipantSyncer) save(ctx context.Context, userID, webinarID string, res ParticipantSyncResult, rows []model.WebinarParticipant) (ParticipantSyncResult, error) {
	if len(rows) == 0 {
		return res, nil
	}
	write := p.store.ReplaceParticipants
	if res.Truncated {
		write = p.store.UpsertParticipants
	}
	if _, err := write(ctx, userID, webinarID, res.Type, rows); err != nil {
		return res, err
	}
	res.Count = len(rows)
	logging.Ctx(ctx).Debug().Str("webinar_id", webinarID).Str("type", string(res.Type)).
		Int("count", res.Count).Bool("truncated", res.Truncated).Msg("participants stored")
	if res.Truncated {
		return res, syncerr.Newf(syncerr.KindSoftFetchFailure, "%s list truncated after %d pages; unfetched rows kept", res.Type, res.Pages)
	}
	return res, nil
}

func parseOptionalTime(ctx context.Context, field, s string) *time.Time {
	t, err := zoom.ParseTime(s)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("field", field).Msg("dropping unparsable timestamp")
		return nil
	}
	return t
}

func registrantRow(ctx context.Context, userID, webinarID string, r zoom.Registrant) model.WebinarParticipant {
	created := parseOptionalTime(ctx, "create_time", r.CreateTime)
	id := r.ID
	if id == "" {
		id = SynthesizeParticipantID(r.Email, r.Name(), created)
	}
	return model.WebinarParticipant{
		UserID:          userID,
		WebinarID:       webinarID,
		ParticipantType: model.ParticipantRegistrant,
		ParticipantID:   id,
		RegistrantID:    r.ID,
		Email:           r.Email,
		Name:            r.Name(),
		Status:          r.Status,
		RawData:         datatypes.JSON(r.Raw),
	}
}

func attendeeRow(ctx context.Context, userID, webinarID string, a zoom.Participant) model.WebinarParticipant {
	join := parseOptionalTime(ctx, "join_time", a.JoinTime)
	id := a.ID
	if id == "" {
		id = SynthesizeParticipantID(a.UserEmail, a.Name, join)
	}
	return model.WebinarParticipant{
		UserID:          userID,
		WebinarID:       webinarID,
		ParticipantType: model.ParticipantAttendee,
		ParticipantID:   id,
		Email:           a.UserEmail,
		Name:            a.Name,
		JoinTime:        join,
		LeaveTime:       parseOptionalTime(ctx, "leave_time", a.LeaveTime),
		Duration:        a.Duration,
		Status:          a.Status,
		RawData:         datatypes.JSON(a.Raw),
	}
}

// collapseParticipants merges rows sharing a participant id: earliest join,
// latest leave, summed duration. Order of first appearance is kept.
func collapseParticipants(rows []model.WebinarParticipant) []model.WebinarParticipant {
	idx := make(map[string]int, len(rows))
	out := make([]model.WebinarParticipant, 0, len(rows))
	for _, r := range rows {
		i, seen := idx[r.ParticipantID]
		if !seen {
			idx[r.ParticipantID] = len(out)
			out = append(out, r)
			continue
		}
		m := &out[i]
		if r.JoinTime != nil && (m.JoinTime == nil || r.JoinTime.Before(*m.JoinTime)) {
			m.JoinTime = r.JoinTime
		}
		if r.LeaveTime != nil && (m.LeaveTime == nil || r.LeaveTime.After(*m.LeaveTime)) {
			m.LeaveTime = r.LeaveTime
		}
		m.Duration += r.Duration
	}
	return out
}

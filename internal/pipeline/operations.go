package pipeline

import (
	"context"
	"errors"
	"time"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/notify"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/syncerr"
)

type EnhanceOutcome struct {
	WebinarID string        `json:"webinarId"`
	Status    EnhanceStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

type EnhanceResult struct {
	Processor string           `json:"processor"`
	Processed int              `json:"processed"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []EnhanceOutcome `json:"results"`
}

func (o *Orchestrator) enhancer(dt DataType) (Enhancer, bool) {
	switch dt {
	case DataHost:
		return o.host, true
	case DataPanelists:
		return o.panelists, true
	case DataSettings:
		return o.settings, true
	}
	return nil, false
}

// EnhanceStored runs one enhancement processor over stored webinars, all of
// them when ids is empty, and writes the results back.
func (o *Orchestrator) EnhanceStored(ctx context.Context, userID string, kind DataType, ids []string) (*EnhanceResult, error) {
	e, ok := o.enhancer(kind)
	if !ok {
		return nil, syncerr.Newf(syncerr.KindInvalidRequest, "no enhancement processor for %q", kind)
	}
	r := o.begin(userID, SyncTypeEnhance+string(kind))
	res, err := o.enhanceStored(ctx, userID, e, ids)
	if res != nil {
		r.items = res.Succeeded
		for _, out := range res.Results {
			if out.Status == EnhanceFailed {
				r.errs = append(r.errs, out.WebinarID+": "+out.Reason)
			}
		}
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) enhanceStored(ctx context.Context, userID string, e Enhancer, ids []string) (*EnhanceResult, error) {
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := &EnhanceResult{Processor: e.Name()}

	var records []model.Webinar
	if len(ids) == 0 {
		if records, err = o.store.ListWebinars(ctx, userID); err != nil {
			return nil, err
		}
	} else {
		for _, id := range ids {
			w, err := o.storedOrRemote(ctx, s, id)
			if err != nil {
				res.Failed++
				res.Results = append(res.Results, EnhanceOutcome{WebinarID: id, Status: EnhanceFailed, Reason: err.Error()})
				continue
			}
			records = append(records, *w)
		}
	}

	keys := make([]string, 0, len(records))
	for _, out := range e.Enhance(ctx, s.token, records) {
		w := out.Value
		outcome := EnhanceOutcome{WebinarID: w.WebinarID, Status: out.Status, Reason: out.Reason}
		if err := o.store.UpsertWebinar(ctx, &w); err != nil {
			outcome.Status, outcome.Reason = EnhanceFailed, err.Error()
		} else {
			keys = append(keys, notify.KeyWebinar(userID, w.WebinarID))
		}
		if outcome.Status == EnhanceOK {
			res.Succeeded++
		} else {
			res.Failed++
		}
		res.Results = append(res.Results, outcome)
	}
	res.Processed = len(res.Results)
	o.invalidate(ctx, userID, keys...)
	return res, nil
}

type InstancesResult struct {
	WebinarID  string                  `json:"webinarId"`
	Completion Completion              `json:"completion"`
	Synced     int                     `json:"synced"`
	Instances  []model.WebinarInstance `json:"instances"`
	Errors     []string                `json:"errors,omitempty"`
}

// WebinarInstances syncs the occurrences of one webinar and returns the
// stored set.
func (o *Orchestrator) WebinarInstances(ctx context.Context, userID, webinarID string) (*InstancesResult, error) {
	r := o.begin(userID, SyncTypeInstances)
	res, err := o.webinarInstances(ctx, userID, webinarID)
	if res != nil {
		r.items, r.errs = res.Synced, res.Errors
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) webinarInstances(ctx context.Context, userID, webinarID string) (*InstancesResult, error) {
	if webinarID == "" {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "webinarId is required")
	}
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	w, err := o.storedOrRemote(ctx, s, webinarID)
	if err != nil {
		return nil, err
	}
	res := &InstancesResult{WebinarID: webinarID, Completion: DetectWebinar(w, o.now())}
	n, err := o.syncInstances(ctx, s, w, res.Completion)
	res.Synced = n
	if err != nil {
		if syncerr.IsFatal(err) {
			return nil, err
		}
		res.Errors = append(res.Errors, err.Error())
	}
	if res.Instances, err = o.store.ListInstances(ctx, userID, webinarID); err != nil {
		return nil, err
	}
	o.invalidate(ctx, userID, notify.KeyInstances(userID, webinarID))
	return res, nil
}

type InstanceParticipantsResult struct {
	WebinarID    string                     `json:"webinarId"`
	InstanceID   string                     `json:"instanceId"`
	Count        int                        `json:"count"`
	Pages        int                        `json:"pages"`
	Truncated    bool                       `json:"truncated,omitempty"`
	Participants []model.WebinarParticipant `json:"participants"`
	Error        string                     `json:"error,omitempty"`
}

// InstanceParticipants reads the attendee report of one occurrence. Nothing
// is stored; a failed fetch is reported in the result.
func (o *Orchestrator) InstanceParticipants(ctx context.Context, userID, webinarID, instanceID string) (*InstanceParticipantsResult, error) {
	r := o.begin(userID, SyncTypeInstanceParticipants)
	res, err := o.instanceParticipants(ctx, userID, webinarID, instanceID)
	if res != nil && res.Error != "" {
		r.errs = []string{res.Error}
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) instanceParticipants(ctx context.Context, userID, webinarID, instanceID string) (*InstanceParticipantsResult, error) {
	if webinarID == "" {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "webinarId is required")
	}
	if instanceID == "" {
		instanceID = webinarID
	}
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := &InstanceParticipantsResult{WebinarID: webinarID, InstanceID: instanceID, Participants: []model.WebinarParticipant{}}
	f, err := o.participants.FetchAttendees(ctx, s.token, userID, webinarID, instanceID)
	res.Pages, res.Truncated = f.Pages, f.Truncated
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.Participants = f.Rows
	res.Count = len(f.Rows)
	return res, nil
}

type ParticipantsResult struct {
	WebinarID   string                 `json:"webinarId"`
	Completion  Completion             `json:"completion"`
	Registrants ParticipantSyncResult  `json:"registrants"`
	Attendees   *ParticipantSyncResult `json:"attendees,omitempty"`
	Errors      []string               `json:"errors,omitempty"`
}

// SyncWebinarParticipants mirrors registrants, and attendees once the
// webinar has ended.
func (o *Orchestrator) SyncWebinarParticipants(ctx context.Context, userID, webinarID string) (*ParticipantsResult, error) {
	r := o.begin(userID, SyncTypeParticipants)
	res, err := o.syncWebinarParticipants(ctx, userID, webinarID)
	if res != nil {
		r.items = res.Registrants.Count
		if res.Attendees != nil {
			r.items += res.Attendees.Count
		}
		r.errs = res.Errors
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) syncWebinarParticipants(ctx context.Context, userID, webinarID string) (*ParticipantsResult, error) {
	if webinarID == "" {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "webinarId is required")
	}
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	w, err := o.storedOrRemote(ctx, s, webinarID)
	if err != nil {
		return nil, err
	}
	res := &ParticipantsResult{WebinarID: webinarID, Completion: DetectWebinar(w, o.now())}

	res.Registrants, err = o.participants.SyncRegistrants(ctx, s.token, userID, webinarID)
	if err != nil {
		if syncerr.IsFatal(err) {
			return nil, err
		}
		res.Errors = append(res.Errors, err.Error())
	}
	if res.Completion.Stage == StageEnded {
		a, err := o.participants.SyncAttendees(ctx, s.token, userID, webinarID)
		if err != nil {
			if syncerr.IsFatal(err) {
				return nil, err
			}
			res.Errors = append(res.Errors, err.Error())
		}
		res.Attendees = &a
	}
	o.invalidate(ctx, userID, notify.KeyParticipants(userID, webinarID))
	return res, nil
}

type TimingResult struct {
	WebinarID  string          `json:"webinarId"`
	Completion Completion      `json:"completion"`
	Timing     PastEventResult `json:"timing"`
	Stored     bool            `json:"stored"`
}

// FetchTimingData pulls post-event timing for one webinar and stores it on
// success.
func (o *Orchestrator) FetchTimingData(ctx context.Context, userID, webinarID string) (*TimingResult, error) {
	r := o.begin(userID, SyncTypeTiming)
	res, err := o.fetchTiming(ctx, userID, webinarID)
	if res != nil {
		if res.Stored {
			r.items = 1
		}
		if res.Completion.ShouldFetchActualData && !res.Timing.Success {
			r.errs = []string{res.Timing.Error}
		}
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) fetchTiming(ctx context.Context, userID, webinarID string) (*TimingResult, error) {
	if webinarID == "" {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "webinarId is required")
	}
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	w, lerr := o.loadWebinar(ctx, s, webinarID)
	if w == nil {
		if lerr == nil {
			lerr = errors.New("not stored")
		}
		return nil, syncerr.Wrap(syncerr.KindNotFound, lerr, "webinar "+webinarID)
	}
	res := &TimingResult{WebinarID: webinarID, Completion: DetectWebinar(w, o.now())}
	res.Timing = o.pastEvents.Fetch(ctx, s.token, w, res.Completion)
	if !res.Timing.Success {
		return res, nil
	}
	res.Timing.Apply(w)
	if err := o.store.UpsertWebinar(ctx, w); err != nil {
		return nil, err
	}
	res.Stored = true
	o.invalidate(ctx, userID, notify.KeyWebinar(userID, webinarID))
	return res, nil
}

type ActualTiming struct {
	WebinarID         string     `json:"webinarId"`
	Completion        Completion `json:"completion"`
	HasActualData     bool       `json:"hasActualData"`
	ScheduledStart    *time.Time `json:"scheduledStart,omitempty"`
	ScheduledDuration int        `json:"scheduledDuration"`
	ActualStart       *time.Time `json:"actualStart,omitempty"`
	ActualEnd         *time.Time `json:"actualEnd,omitempty"`
	ActualDuration    *int       `json:"actualDuration,omitempty"`
	ParticipantsCount *int       `json:"participantsCount,omitempty"`
	LastSyncedAt      *time.Time `json:"lastSyncedAt,omitempty"`
}

// ActualTimingData reads stored timing without contacting the remote.
func (o *Orchestrator) ActualTimingData(ctx context.Context, userID, webinarID string) (*ActualTiming, error) {
	if userID == "" || webinarID == "" {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "userId and webinarId are required")
	}
	w, err := o.store.GetWebinar(ctx, userID, webinarID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, syncerr.Newf(syncerr.KindNotFound, "webinar %s has not been synced", webinarID)
	}
	if err != nil {
		return nil, err
	}
	return &ActualTiming{
		WebinarID:         webinarID,
		Completion:        DetectWebinar(w, o.now()),
		HasActualData:     w.ActualStartTime != nil,
		ScheduledStart:    w.StartTime,
		ScheduledDuration: w.Duration,
		ActualStart:       w.ActualStartTime,
		ActualEnd:         w.ActualEndTime,
		ActualDuration:    w.ActualDuration,
		ParticipantsCount: w.ParticipantsCount,
		LastSyncedAt:      w.LastSyncedAt,
	}, nil
}

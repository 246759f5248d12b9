package pipeline

import (
	"context"
	"fmt"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/notify"
	"example.com/webinar-sync/internal/syncerr"
)

// Include toggles the categories of a comprehensive sync.
type Include struct {
	Settings     bool `json:"includeSettings"`
	Host         bool `json:"includeHost"`
	Panelists    bool `json:"includePanelists"`
	Timing       bool `json:"includeTiming"`
	Participants bool `json:"includeParticipants"`
	Instances    bool `json:"includeInstances"`
}

func DefaultInclude() Include {
	return Include{Settings: true, Host: true, Panelists: true, Timing: true, Participants: true, Instances: true}
}

type CategoryResult struct {
	Enabled   bool `json:"enabled"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
}

type ComprehensiveResult struct {
	WebinarsFound   int            `json:"webinarsFound"`
	WebinarsUpdated int            `json:"webinarsUpdated"`
	Settings        CategoryResult `json:"settings"`
	Host            CategoryResult `json:"host"`
	Panelists       CategoryResult `json:"panelists"`
	Timing          CategoryResult `json:"timing"`
	Participants    CategoryResult `json:"participants"`
	Instances       CategoryResult `json:"instances"`
	ItemsUpdated    int            `json:"itemsUpdated"`
	Errors          int            `json:"errors"`
	ErrorMessages   []string       `json:"errorMessages,omitempty"`
}

func (r *ComprehensiveResult) fail(format string, args ...any) {
	r.Errors++
	r.ErrorMessages = append(r.ErrorMessages, fmt.Sprintf(format, args...))
}

// ComprehensiveSync refreshes every webinar the user owns, remote and stored,
// running the enabled categories over the whole set. Per-record failures are
// counted in the result.
func (o *Orchestrator) ComprehensiveSync(ctx context.Context, userID string, inc Include) (*ComprehensiveResult, error) {
	r := o.begin(userID, SyncTypeComprehensive)
	res, err := o.comprehensive(ctx, userID, inc)
	if res != nil {
		r.items, r.errs = res.ItemsUpdated, res.ErrorMessages
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) comprehensive(ctx context.Context, userID string, inc Include) (*ComprehensiveResult, error) {
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := &ComprehensiveResult{}
	records := o.collectWebinars(ctx, s, res)
	res.WebinarsFound = len(records)

	enhance := func(enabled bool, e Enhancer, cat *CategoryResult) {
		if !enabled {
			return
		}
		cat.Enabled = true
		for i, out := range e.Enhance(ctx, s.token, records) {
			records[i] = out.Value
			if out.OK() {
				cat.Succeeded++
			} else {
				cat.Failed++
				res.fail("%s %s: %s", e.Name(), out.Value.WebinarID, out.Reason)
			}
		}
	}
	enhance(inc.Settings, o.settings, &res.Settings)
	enhance(inc.Host, o.host, &res.Host)
	enhance(inc.Panelists, o.panelists, &res.Panelists)

	now := o.now()
	completions := make([]Completion, len(records))
	res.Timing.Enabled = inc.Timing
	for i := range records {
		completions[i] = DetectWebinar(&records[i], now)
		if !inc.Timing || !completions[i].ShouldFetchActualData {
			continue
		}
		t := o.pastEvents.Fetch(ctx, s.token, &records[i], completions[i])
		if !t.Success {
			res.Timing.Failed++
			res.fail("timing %s: %s", records[i].WebinarID, t.Error)
			continue
		}
		t.Apply(&records[i])
		res.Timing.Succeeded++
	}

	keys := make([]string, 0, len(records))
	for i := range records {
		w := &records[i]
		if err := o.store.UpsertWebinar(ctx, w); err != nil {
			res.fail("store %s: %v", w.WebinarID, err)
			continue
		}
		res.WebinarsUpdated++
		keys = append(keys, notify.KeyWebinar(userID, w.WebinarID))
	}
	res.ItemsUpdated = res.WebinarsUpdated

	if inc.Participants {
		res.Participants.Enabled = true
		for i := range records {
			w := &records[i]
			n, err := o.syncParticipants(ctx, s, w.WebinarID, completions[i], true, true)
			res.ItemsUpdated += n
			if err != nil {
				res.Participants.Failed++
				res.fail("participants %s: %v", w.WebinarID, err)
				continue
			}
			res.Participants.Succeeded++
			keys = append(keys, notify.KeyParticipants(userID, w.WebinarID))
		}
	}

	if inc.Instances {
		res.Instances.Enabled = true
		for i := range records {
			w := &records[i]
			n, err := o.syncInstances(ctx, s, w, completions[i])
			res.ItemsUpdated += n
			if err != nil {
				res.Instances.Failed++
				res.fail("instances %s: %v", w.WebinarID, err)
				continue
			}
			res.Instances.Succeeded++
			keys = append(keys, notify.KeyInstances(userID, w.WebinarID))
		}
	}

	o.invalidate(ctx, userID, keys...)
	return res, nil
}

// collectWebinars merges the remote listing with stored records. Remote
// entries come first; stored-only webinars follow.
func (o *Orchestrator) collectWebinars(ctx context.Context, s *session, res *ComprehensiveResult) []model.Webinar {
	stored, err := o.store.ListWebinars(ctx, s.userID)
	if err != nil {
		res.fail("list stored webinars: %v", err)
	}
	byID := make(map[string]*model.Webinar, len(stored))
	for i := range stored {
		byID[stored[i].WebinarID] = &stored[i]
	}

	remote, err := o.listRemoteWebinars(ctx, s)
	if err != nil {
		res.fail("%v", syncerr.Wrap(syncerr.KindSoftFetchFailure, err, "list webinars"))
	}

	out := make([]model.Webinar, 0, len(remote)+len(stored))
	seen := make(map[string]bool, len(remote))
	for i := range remote {
		id := remote[i].IDString()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, *o.fromRemote(ctx, s.userID, &remote[i], byID[id]))
	}
	for _, w := range stored {
		if !seen[w.WebinarID] {
			out = append(out, w)
		}
	}
	return out
}

// syncParticipants refreshes registrants and, for ended webinars, attendees.
// It returns the rows written and the first failure.
func (o *Orchestrator) syncParticipants(ctx context.Context, s *session, webinarID string, c Completion, registrants, attendees bool) (int, error) {
	n := 0
	var firstErr error
	if registrants {
		r, err := o.participants.SyncRegistrants(ctx, s.token, s.userID, webinarID)
		n += r.Count
		if err != nil {
			firstErr = err
		}
	}
	if attendees && c.Stage == StageEnded {
		a, err := o.participants.SyncAttendees(ctx, s.token, s.userID, webinarID)
		n += a.Count
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return n, firstErr
}

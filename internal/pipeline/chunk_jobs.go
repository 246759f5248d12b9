package pipeline

import (
	"context"
	"fmt"
	"strings"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/syncerr"
)

// chunkFailures collects per-webinar failures inside one chunk.
type chunkFailures struct {
	total int
	msgs  []string
}

func (f *chunkFailures) add(webinarID string, err error) {
	f.msgs = append(f.msgs, fmt.Sprintf("%s: %v", webinarID, err))
}

func (f *chunkFailures) err() error {
	if len(f.msgs) == 0 {
		return nil
	}
	return syncerr.Newf(syncerr.KindChunkFailure, "%d of %d webinars failed: %s", len(f.msgs), f.total, strings.Join(f.msgs, "; "))
}

func (o *Orchestrator) chunkProcessor(s *session) ChunkFunc {
	return func(ctx context.Context, dt DataType, ids []string) (int, error) {
		switch dt {
		case DataWebinars:
			return o.chunkWebinars(ctx, s, ids)
		case DataTiming:
			return o.chunkTiming(ctx, s, ids)
		case DataParticipants, DataRegistrants, DataAttendees:
			return o.chunkParticipants(ctx, s, dt, ids)
		case DataInstances:
			return o.chunkInstances(ctx, s, ids)
		case DataHost:
			return o.chunkEnhance(ctx, s, o.host, ids)
		case DataPanelists:
			return o.chunkEnhance(ctx, s, o.panelists, ids)
		case DataSettings:
			return o.chunkEnhance(ctx, s, o.settings, ids)
		}
		return 0, syncerr.Newf(syncerr.KindInvalidRequest, "unknown data type %q", dt)
	}
}

func (o *Orchestrator) chunkWebinars(ctx context.Context, s *session, ids []string) (int, error) {
	fails := chunkFailures{total: len(ids)}
	n := 0
	for _, id := range ids {
		w, err := o.loadWebinar(ctx, s, id)
		if err != nil || w == nil {
			if err == nil {
				err = syncerr.New(syncerr.KindNotFound, "not found")
			}
			fails.add(id, err)
			continue
		}
		if err := o.store.UpsertWebinar(ctx, w); err != nil {
			fails.add(id, err)
			continue
		}
		n++
	}
	return n, fails.err()
}

func (o *Orchestrator) chunkTiming(ctx context.Context, s *session, ids []string) (int, error) {
	fails := chunkFailures{total: len(ids)}
	n := 0
	now := o.now()
	for _, id := range ids {
		w, err := o.storedOrRemote(ctx, s, id)
		if err != nil {
			fails.add(id, err)
			continue
		}
		c := DetectWebinar(w, now)
		if !c.ShouldFetchActualData {
			continue
		}
		t := o.pastEvents.Fetch(ctx, s.token, w, c)
		if !t.Success {
			fails.add(id, syncerr.New(syncerr.KindSoftFetchFailure, t.Error))
			continue
		}
		t.Apply(w)
		if err := o.store.UpsertWebinar(ctx, w); err != nil {
			fails.add(id, err)
			continue
		}
		n++
	}
	return n, fails.err()
}

func (o *Orchestrator) chunkParticipants(ctx context.Context, s *session, dt DataType, ids []string) (int, error) {
	fails := chunkFailures{total: len(ids)}
	registrants := dt != DataAttendees
	attendees := dt != DataRegistrants
	n := 0
	now := o.now()
	for _, id := range ids {
		c := Completion{Stage: StageUnknown}
		if attendees {
			w, err := o.storedOrRemote(ctx, s, id)
			if err != nil {
				fails.add(id, err)
				continue
			}
			c = DetectWebinar(w, now)
		}
		written, err := o.syncParticipants(ctx, s, id, c, registrants, attendees)
		n += written
		if err != nil {
			fails.add(id, err)
		}
	}
	return n, fails.err()
}

func (o *Orchestrator) chunkInstances(ctx context.Context, s *session, ids []string) (int, error) {
	fails := chunkFailures{total: len(ids)}
	n := 0
	now := o.now()
	for _, id := range ids {
		w, err := o.storedOrRemote(ctx, s, id)
		if err != nil {
			fails.add(id, err)
			continue
		}
		written, err := o.syncInstances(ctx, s, w, DetectWebinar(w, now))
		n += written
		if err != nil {
			fails.add(id, err)
		}
	}
	return n, fails.err()
}

func (o *Orchestrator) chunkEnhance(ctx context.Context, s *session, e Enhancer, ids []string) (int, error) {
	fails := chunkFailures{total: len(ids)}
	records := make([]model.Webinar, 0, len(ids))
	for _, id := range ids {
		w, err := o.storedOrRemote(ctx, s, id)
		if err != nil {
			fails.add(id, err)
			continue
		}
		records = append(records, *w)
	}
	n := 0
	for _, out := range e.Enhance(ctx, s.token, records) {
		w := out.Value
		if !out.OK() {
			fails.add(w.WebinarID, fmt.Errorf("%s: %s", e.Name(), out.Reason))
		}
		if err := o.store.UpsertWebinar(ctx, &w); err != nil {
			fails.add(w.WebinarID, err)
			continue
		}
		if out.OK() {
			n++
		}
	}
	return n, fails.err()
}

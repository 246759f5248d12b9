package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/metrics"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/notify"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/syncerr"
	"example.com/webinar-sync/internal/zoom"
)

const (
	SyncTypeSingle               = "single_webinar"
	SyncTypeComprehensive        = "comprehensive"
	SyncTypeChunked              = "chunked"
	SyncTypeEnhance              = "enhance_"
	SyncTypeInstances            = "instances"
	SyncTypeInstanceParticipants = "instance_participants"
	SyncTypeParticipants         = "participants"
	SyncTypeTiming               = "timing"
)

type Options struct {
	ChunkSize           int
	InterChunkDelay     time.Duration
	Settings            SettingsOptions
	ParticipantPageSize int
	ParticipantMaxPages int
	WebinarPageSize     int
}

type Deps struct {
	Store       store.Store
	API         ZoomAPI
	Credentials CredentialsResolver
	Tokens      TokenSource
	Notifier    notify.Notifier
	Now         func() time.Time
}

// Orchestrator runs every sync flow against one store and remote API.
type Orchestrator struct {
	store    store.Store
	api      ZoomAPI
	creds    CredentialsResolver
	tokens   TokenSource
	notifier notify.Notifier
	now      func() time.Time
	opts     Options

	pastEvents   *PastEventFetcher
	host         *HostResolver
	panelists    *PanelistResolver
	settings     *SettingsEnhancer
	participants *ParticipantSyncer
	instances    *InstanceUpserter
	chunked      *ChunkedEngine
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if opts.WebinarPageSize <= 0 {
		opts.WebinarPageSize = 300
	}
	return &Orchestrator{
		store:        d.Store,
		api:          d.API,
		creds:        d.Credentials,
		tokens:       d.Tokens,
		notifier:     d.Notifier,
		now:          d.Now,
		opts:         opts,
		pastEvents:   NewPastEventFetcher(d.API),
		host:         NewHostResolver(d.API),
		panelists:    NewPanelistResolver(d.API),
		settings:     NewSettingsEnhancer(d.API, opts.Settings),
		participants: NewParticipantSyncer(d.API, d.Store, opts.ParticipantPageSize, opts.ParticipantMaxPages),
		instances:    NewInstanceUpserter(d.Store),
		chunked:      NewChunkedEngine(opts.ChunkSize, opts.InterChunkDelay, d.Notifier),
	}
}

type session struct {
	userID    string
	creds     *model.Credentials
	token     string
	refreshed bool
}

func (o *Orchestrator) authenticate(ctx context.Context, userID string) (*session, error) {
	c, err := o.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	tok, err := o.tokens.GetToken(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := o.creds.MarkVerified(ctx, c); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("could not mark credentials verified")
	}
	return &session{userID: userID, creds: c, token: tok}, nil
}

// reauth swaps in a fresh token when err is a 401 from the remote. It runs at
// most once per session and reports whether the caller should retry.
func (o *Orchestrator) reauth(ctx context.Context, s *session, err error) bool {
	if s.refreshed || !zoom.IsUnauthorized(err) {
		return false
	}
	s.refreshed = true
	log := logging.Ctx(ctx).With().Str("user_id", s.userID).Logger()
	if ferr := o.tokens.Forget(ctx, s.creds); ferr != nil {
		log.Warn().Err(ferr).Msg("could not drop rejected token")
	}
	tok, terr := o.tokens.GetToken(ctx, s.creds)
	if terr != nil {
		log.Warn().Err(terr).Msg("token refresh after 401 failed")
		return false
	}
	s.token = tok
	log.Info().Msg("access token refreshed after 401")
	return true
}

// run records the outcome of one operation in sync history and metrics.
type run struct {
	o        *Orchestrator
	userID   string
	syncType string
	started  time.Time
	items    int
	errs     []string
}

func (o *Orchestrator) begin(userID, syncType string) *run {
	return &run{o: o, userID: userID, syncType: syncType, started: time.Now()}
}

func (r *run) finish(ctx context.Context, err error) {
	status := model.SyncSuccess
	msg := ""
	switch {
	case err != nil:
		status = model.SyncFailed
		msg = err.Error()
	case len(r.errs) > 0:
		status = model.SyncPartialSuccess
		msg = strings.Join(r.errs, "; ")
	}
	elapsed := time.Since(r.started)
	metrics.SyncRuns.WithLabelValues(r.syncType, string(status)).Inc()
	metrics.SyncRunDuration.WithLabelValues(r.syncType).Observe(elapsed.Seconds())

	log := logging.Ctx(ctx)
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("user_id", r.userID).Str("sync_type", r.syncType).Str("status", string(status)).
		Int("items_updated", r.items).Int("errors", len(r.errs)).Dur("elapsed", elapsed).Msg("sync finished")

	if r.userID == "" {
		return
	}
	h := &model.SyncHistory{
		UserID:       r.userID,
		SyncType:     r.syncType,
		Status:       status,
		ItemsUpdated: r.items,
		ErrorMessage: msg,
		DurationMS:   elapsed.Milliseconds(),
	}
	// The run context may already be cancelled by the outer timeout.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.o.store.RecordSync(hctx, h); err != nil {
		log.Warn().Err(err).Str("user_id", r.userID).Msg("failed to record sync history")
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, userID string, keys ...string) {
	keys = append(keys, notify.KeyWebinars(userID), notify.KeySyncHistory(userID))
	notify.Fire(ctx, o.notifier, notify.Invalidation{UserID: userID, Keys: uniqueKeys(keys)})
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// loadWebinar returns the remote detail merged over any stored copy. When the
// remote call fails but a stored copy exists, both the stored copy and the
// remote error are returned. A nil webinar means neither source had it.
func (o *Orchestrator) loadWebinar(ctx context.Context, s *session, webinarID string) (*model.Webinar, error) {
	existing, err := o.store.GetWebinar(ctx, s.userID, webinarID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	detail, derr := o.api.GetWebinar(ctx, s.token, webinarID)
	if derr != nil && o.reauth(ctx, s, derr) {
		detail, derr = o.api.GetWebinar(ctx, s.token, webinarID)
	}
	if derr != nil {
		if existing == nil && zoom.IsNotFound(derr) {
			return nil, syncerr.Wrap(syncerr.KindNotFound, derr, "webinar "+webinarID+" not found")
		}
		return existing, syncerr.Wrap(syncerr.KindSoftFetchFailure, derr, "webinar detail")
	}
	return o.fromRemote(ctx, s.userID, detail, existing), nil
}

// storedOrRemote prefers the stored record and only asks the remote when
// nothing is stored.
func (o *Orchestrator) storedOrRemote(ctx context.Context, s *session, webinarID string) (*model.Webinar, error) {
	w, err := o.store.GetWebinar(ctx, s.userID, webinarID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	w, err = o.loadWebinar(ctx, s, webinarID)
	if w == nil && err == nil {
		err = syncerr.Newf(syncerr.KindNotFound, "webinar %s not found", webinarID)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (o *Orchestrator) fromRemote(ctx context.Context, userID string, d *zoom.Webinar, existing *model.Webinar) *model.Webinar {
	var w model.Webinar
	if existing != nil {
		w = *existing
	}
	w.UserID = userID
	w.WebinarID = d.IDString()
	mergeDetail(ctx, &w, d)
	now := o.now().UTC()
	w.LastSyncedAt = &now
	return &w
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// syncInstances upserts the occurrences of w. Ended webinars use the past
// instance list; anything else, or an empty list, yields one instance built
// from the webinar itself.
func (o *Orchestrator) syncInstances(ctx context.Context, s *session, w *model.Webinar, c Completion) (int, error) {
	var softErr error
	if c.Stage == StageEnded {
		past, err := o.api.ListPastInstances(ctx, s.token, w.WebinarID)
		if err != nil {
			softErr = syncerr.Wrap(syncerr.KindSoftFetchFailure, err, "list past instances")
		}
		if len(past) > 0 {
			written := 0
			var skipped []string
			for _, p := range past {
				d := InstanceData{
					UserID:     s.userID,
					WebinarID:  w.WebinarID,
					InstanceID: p.UUID,
					Topic:      w.Topic,
					Status:     "ended",
					StartTime:  p.StartTime,
					RawData:    p.Raw,
				}
				if p.UUID == w.UUID {
					d.ActualStartTime = formatTime(w.ActualStartTime)
					d.ActualEndTime = formatTime(w.ActualEndTime)
					d.ActualDuration = w.ActualDuration
					d.ParticipantsCount = w.ParticipantsCount
				}
				n, err := o.instances.Upsert(ctx, d)
				if err != nil {
					if syncerr.IsFatal(err) {
						return written, err
					}
					logging.Ctx(ctx).Warn().Err(err).Str("webinar_id", w.WebinarID).Str("instance_id", p.UUID).Msg("skipping past instance")
					skipped = append(skipped, err.Error())
					continue
				}
				written += int(n)
			}
			if len(skipped) > 0 {
				return written, syncerr.Newf(syncerr.KindSoftFetchFailure, "%d of %d past instances skipped: %s",
					len(skipped), len(past), strings.Join(skipped, "; "))
			}
			return written, nil
		}
	}

	id := w.UUID
	if id == "" {
		id = w.WebinarID
	}
	duration := w.Duration
	n, err := o.instances.Upsert(ctx, InstanceData{
		UserID:            s.userID,
		WebinarID:         w.WebinarID,
		InstanceID:        id,
		Topic:             w.Topic,
		Status:            strings.ToLower(string(c.Stage)),
		StartTime:         formatTime(w.StartTime),
		EndTime:           formatTime(w.EndTime()),
		ActualStartTime:   formatTime(w.ActualStartTime),
		ActualEndTime:     formatTime(w.ActualEndTime),
		Duration:          &duration,
		ActualDuration:    w.ActualDuration,
		ParticipantsCount: w.ParticipantsCount,
	})
	if err != nil {
		return 0, err
	}
	return int(n), softErr
}

type SingleResult struct {
	WebinarID         string           `json:"webinarId"`
	DetailFetched     bool             `json:"detailFetched"`
	Completion        Completion       `json:"completion"`
	Timing            *PastEventResult `json:"timing,omitempty"`
	HostEnhanced      bool             `json:"hostEnhanced"`
	PanelistsEnhanced bool             `json:"panelistsEnhanced"`
	InstancesUpserted int              `json:"instancesUpserted"`
	ItemsUpdated      int              `json:"itemsUpdated"`
	Errors            []string         `json:"errors,omitempty"`
	Webinar           *model.Webinar   `json:"webinar,omitempty"`
}

// SyncSingleWebinar refreshes one webinar end to end. Remote failures after
// authentication are reported in the result; only auth, validation and
// not-found conditions are returned as errors.
func (o *Orchestrator) SyncSingleWebinar(ctx context.Context, userID, webinarID string) (*SingleResult, error) {
	r := o.begin(userID, SyncTypeSingle)
	res, err := o.syncSingle(ctx, userID, webinarID)
	if res != nil {
		r.items, r.errs = res.ItemsUpdated, res.Errors
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) syncSingle(ctx context.Context, userID, webinarID string) (*SingleResult, error) {
	if webinarID == "" {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "webinarId is required")
	}
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := &SingleResult{WebinarID: webinarID}

	w, lerr := o.loadWebinar(ctx, s, webinarID)
	if w == nil {
		if lerr == nil {
			lerr = errors.New("not stored")
		}
		return nil, syncerr.Wrap(syncerr.KindNotFound, lerr, fmt.Sprintf("webinar %s", webinarID))
	}
	if lerr != nil {
		res.Errors = append(res.Errors, lerr.Error())
	} else {
		res.DetailFetched = true
	}

	res.Completion = DetectWebinar(w, o.now())
	if res.Completion.ShouldFetchActualData {
		t := o.pastEvents.Fetch(ctx, s.token, w, res.Completion)
		t.Apply(w)
		res.Timing = &t
		if !t.Success {
			res.Errors = append(res.Errors, "timing: "+t.Error)
		}
	}

	host := o.host.Enhance(ctx, s.token, []model.Webinar{*w})[0]
	*w = host.Value
	res.HostEnhanced = host.OK()
	if !host.OK() {
		res.Errors = append(res.Errors, "host: "+host.Reason)
	}
	pan := o.panelists.Enhance(ctx, s.token, []model.Webinar{*w})[0]
	*w = pan.Value
	res.PanelistsEnhanced = pan.OK()
	if !pan.OK() {
		res.Errors = append(res.Errors, "panelists: "+pan.Reason)
	}

	if err := o.store.UpsertWebinar(ctx, w); err != nil {
		return nil, err
	}
	res.ItemsUpdated++

	n, err := o.syncInstances(ctx, s, w, res.Completion)
	res.InstancesUpserted = n
	res.ItemsUpdated += n
	if err != nil {
		if syncerr.IsFatal(err) {
			return nil, err
		}
		res.Errors = append(res.Errors, err.Error())
	}

	res.Webinar = w
	o.invalidate(ctx, userID, notify.KeyWebinar(userID, webinarID), notify.KeyInstances(userID, webinarID))
	return res, nil
}

// ChunkedSync runs the chunked engine over ids, or over every stored webinar
// when ids is empty.
func (o *Orchestrator) ChunkedSync(ctx context.Context, userID string, dataTypes []DataType, ids []string, chunkSize int, onProgress func(Progress)) (*ChunkedResult, error) {
	r := o.begin(userID, SyncTypeChunked)
	res, err := o.chunkedSync(ctx, userID, dataTypes, ids, chunkSize, onProgress)
	if res != nil {
		r.items, r.errs = res.ItemsUpdated, res.ErrorMessages
	}
	r.finish(ctx, err)
	return res, err
}

func (o *Orchestrator) chunkedSync(ctx context.Context, userID string, dataTypes []DataType, ids []string, chunkSize int, onProgress func(Progress)) (*ChunkedResult, error) {
	if len(dataTypes) == 0 {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "dataTypes must not be empty")
	}
	for _, dt := range dataTypes {
		if !knownDataTypes[dt] {
			return nil, syncerr.Newf(syncerr.KindInvalidRequest, "unknown data type %q", dt)
		}
	}
	s, err := o.authenticate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		if ids, err = o.webinarIDs(ctx, s); err != nil {
			return nil, err
		}
	}
	return o.chunked.Run(ctx, userID, dataTypes, ids, chunkSize, o.chunkProcessor(s), onProgress), nil
}

func (o *Orchestrator) listRemoteWebinars(ctx context.Context, s *session) ([]zoom.Webinar, error) {
	ws, err := o.api.ListWebinars(ctx, s.token, s.creds.RemoteUserID(), o.opts.WebinarPageSize)
	if err != nil && o.reauth(ctx, s, err) {
		ws, err = o.api.ListWebinars(ctx, s.token, s.creds.RemoteUserID(), o.opts.WebinarPageSize)
	}
	return ws, err
}

func (o *Orchestrator) webinarIDs(ctx context.Context, s *session) ([]string, error) {
	ids, err := o.store.ListWebinarIDs(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}
	remote, err := o.listRemoteWebinars(ctx, s)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindSoftFetchFailure, err, "list webinars")
	}
	for _, w := range remote {
		ids = append(ids, w.IDString())
	}
	return ids, nil
}

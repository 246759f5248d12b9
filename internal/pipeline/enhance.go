package pipeline

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/metrics"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/zoom"
)

type EnhanceStatus string

const (
	EnhanceOK     EnhanceStatus = "ok"
	EnhanceFailed EnhanceStatus = "failed"
)

// Enhanced pairs a record with the outcome of one enhancement pass.
type Enhanced[T any] struct {
	Value  T             `json:"value"`
	Status EnhanceStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

func (e Enhanced[T]) OK() bool { return e.Status == EnhanceOK }

func enhancedOK[T any](v T) Enhanced[T] {
	return Enhanced[T]{Value: v, Status: EnhanceOK}
}

func enhancedFailed[T any](v T, err error) Enhanced[T] {
	return Enhanced[T]{Value: v, Status: EnhanceFailed, Reason: err.Error()}
}

// Enhancer rewrites a batch of webinars. The result has one entry per input,
// in input order.
type Enhancer interface {
	Name() string
	Enhance(ctx context.Context, token string, ws []model.Webinar) []Enhanced[model.Webinar]
}

func countOutcomes(name string, out []Enhanced[model.Webinar]) (ok, failed int) {
	for _, e := range out {
		if e.OK() {
			ok++
		} else {
			failed++
		}
	}
	metrics.EnhancementResults.WithLabelValues(name, string(EnhanceOK)).Add(float64(ok))
	metrics.EnhancementResults.WithLabelValues(name, string(EnhanceFailed)).Add(float64(failed))
	return ok, failed
}

// HostResolver fills host email and name from the users endpoint when only
// the host id is known.
type HostResolver struct {
	api ZoomAPI
}

func NewHostResolver(api ZoomAPI) *HostResolver { return &HostResolver{api: api} }

func (h *HostResolver) Name() string { return "host" }

func (h *HostResolver) Enhance(ctx context.Context, token string, ws []model.Webinar) []Enhanced[model.Webinar] {
	out := make([]Enhanced[model.Webinar], len(ws))
	for i, w := range ws {
		if w.HostEmail != "" || w.HostID == "" {
			out[i] = enhancedOK(w)
			continue
		}
		u, err := h.api.GetUser(ctx, token, w.HostID)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("webinar_id", w.WebinarID).Str("host_id", w.HostID).Msg("host lookup failed")
			out[i] = enhancedFailed(w, err)
			continue
		}
		w.HostEmail = u.Email
		w.HostName = u.Name()
		out[i] = enhancedOK(w)
	}
	countOutcomes(h.Name(), out)
	return out
}

type PanelistResolver struct {
	api ZoomAPI
}

func NewPanelistResolver(api ZoomAPI) *PanelistResolver { return &PanelistResolver{api: api} }

func (p *PanelistResolver) Name() string { return "panelists" }

// Enhance replaces each webinar's panelist list. A failed lookup stores an
// empty list.
func (p *PanelistResolver) Enhance(ctx context.Context, token string, ws []model.Webinar) []Enhanced[model.Webinar] {
	out := make([]Enhanced[model.Webinar], len(ws))
	for i, w := range ws {
		ps, err := p.api.ListPanelists(ctx, token, w.WebinarID)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("webinar_id", w.WebinarID).Msg("panelist lookup failed")
			w.Panelists = datatypes.JSONSlice[model.Panelist]{}
			out[i] = enhancedFailed(w, err)
			continue
		}
		w.Panelists = toModelPanelists(ps)
		out[i] = enhancedOK(w)
	}
	countOutcomes(p.Name(), out)
	return out
}

func toModelPanelists(ps []zoom.Panelist) datatypes.JSONSlice[model.Panelist] {
	out := make(datatypes.JSONSlice[model.Panelist], 0, len(ps))
	for _, p := range ps {
		out = append(out, model.Panelist{ID: p.ID, Name: p.Name, Email: p.Email, JoinURL: p.JoinURL})
	}
	return out
}

type SettingsOptions struct {
	BatchSize  int
	BatchDelay time.Duration
	CallBurst  int
	CallPause  time.Duration
}

// SettingsEnhancer merges the detail endpoint's payload into stored
// webinars. Detail calls are paced in batches.
type SettingsEnhancer struct {
	api  ZoomAPI
	opts SettingsOptions
}

func NewSettingsEnhancer(api ZoomAPI, opts SettingsOptions) *SettingsEnhancer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.CallBurst <= 0 {
		opts.CallBurst = 10
	}
	return &SettingsEnhancer{api: api, opts: opts}
}

func (s *SettingsEnhancer) Name() string { return "settings" }

func (s *SettingsEnhancer) Enhance(ctx context.Context, token string, ws []model.Webinar) []Enhanced[model.Webinar] {
	out := make([]Enhanced[model.Webinar], len(ws))
	batches := NewPacer(s.opts.BatchDelay, 1)
	calls := NewPacer(s.opts.CallPause, s.opts.CallBurst)

	for start := 0; start < len(ws); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(ws))
		batchErr := batches.Wait(ctx)
		for i := start; i < end; i++ {
			w := ws[i]
			if batchErr != nil {
				out[i] = enhancedFailed(w, batchErr)
				continue
			}
			if err := calls.Wait(ctx); err != nil {
				out[i] = enhancedFailed(w, err)
				continue
			}
			detail, err := s.api.GetWebinar(ctx, token, w.WebinarID)
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("webinar_id", w.WebinarID).Msg("webinar detail lookup failed")
				out[i] = enhancedFailed(w, err)
				continue
			}
			mergeDetail(ctx, &w, detail)
			out[i] = enhancedOK(w)
		}
	}
	countOutcomes(s.Name(), out)
	return out
}

// mergeDetail overlays the detail payload onto w. Set detail fields win;
// the settings object is merged key by key.
func mergeDetail(ctx context.Context, w *model.Webinar, d *zoom.Webinar) {
	if d.UUID != "" {
		w.UUID = d.UUID
	}
	if d.Topic != "" {
		w.Topic = d.Topic
	}
	if d.Agenda != "" {
		w.Agenda = d.Agenda
	}
	if d.Type != 0 {
		w.Type = d.Type
	}
	if d.Status != "" {
		w.Status = d.Status
	}
	if d.StartTime != "" {
		if t, err := zoom.ParseTime(d.StartTime); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("webinar_id", w.WebinarID).Msg("ignoring unparsable start_time")
		} else {
			w.StartTime = t
		}
	}
	if d.Duration > 0 {
		w.Duration = d.Duration
	}
	if d.Timezone != "" {
		w.Timezone = d.Timezone
	}
	if d.JoinURL != "" {
		w.JoinURL = d.JoinURL
	}
	if d.HostID != "" {
		w.HostID = d.HostID
	}
	if d.HostEmail != "" {
		w.HostEmail = d.HostEmail
	}
	if d.Settings != nil {
		w.Settings = MergeSettings(w.Settings, d.Settings)
	}
	if len(d.Raw) > 0 {
		w.RawData = datatypes.JSON(d.Raw)
	}
}

// MergeSettings returns base overlaid with detail. Nested objects merge
// recursively; on any other conflict the detail value wins. Nil detail
// values do not erase base values.
func MergeSettings(base, detail map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(detail))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range detail {
		if v == nil {
			continue
		}
		dm, dOK := v.(map[string]any)
		bm, bOK := out[k].(map[string]any)
		if dOK && bOK {
			out[k] = MergeSettings(bm, dm)
			continue
		}
		out[k] = v
	}
	return out
}

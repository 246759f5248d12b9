package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/pipeline"
	"example.com/webinar-sync/internal/syncerr"
)

// Service is the set of pipeline operations the dispatcher exposes.
type Service interface {
	SyncSingleWebinar(ctx context.Context, userID, webinarID string) (*pipeline.SingleResult, error)
	ComprehensiveSync(ctx context.Context, userID string, inc pipeline.Include) (*pipeline.ComprehensiveResult, error)
	ChunkedSync(ctx context.Context, userID string, dataTypes []pipeline.DataType, ids []string, chunkSize int, onProgress func(pipeline.Progress)) (*pipeline.ChunkedResult, error)
	EnhanceStored(ctx context.Context, userID string, kind pipeline.DataType, ids []string) (*pipeline.EnhanceResult, error)
	WebinarInstances(ctx context.Context, userID, webinarID string) (*pipeline.InstancesResult, error)
	InstanceParticipants(ctx context.Context, userID, webinarID, instanceID string) (*pipeline.InstanceParticipantsResult, error)
	SyncWebinarParticipants(ctx context.Context, userID, webinarID string) (*pipeline.ParticipantsResult, error)
	FetchTimingData(ctx context.Context, userID, webinarID string) (*pipeline.TimingResult, error)
	ActualTimingData(ctx context.Context, userID, webinarID string) (*pipeline.ActualTiming, error)
}

var _ Service = (*pipeline.Orchestrator)(nil)

// DefaultTimeout bounds a single action when none is configured.
const DefaultTimeout = 5 * time.Minute

type handlerFunc func(ctx context.Context, svc Service, req Request) (any, error)

var handlers = map[string]handlerFunc{
	ActionSyncSingleWebinar: func(ctx context.Context, svc Service, req Request) (any, error) {
		return svc.SyncSingleWebinar(ctx, req.UserID, req.WebinarID)
	},
	ActionComprehensiveSync: func(ctx context.Context, svc Service, req Request) (any, error) {
		return svc.ComprehensiveSync(ctx, req.UserID, req.Include())
	},
	ActionChunkedSync: func(ctx context.Context, svc Service, req Request) (any, error) {
		types, err := pipeline.ParseDataTypes(req.DataTypes)
		if err != nil {
			return nil, err
		}
		return svc.ChunkedSync(ctx, req.UserID, types, req.WebinarIDs, req.ChunkSize, req.OnProgress)
	},
	ActionEnhanceHost:      enhance(pipeline.DataHost),
	ActionEnhancePanelists: enhance(pipeline.DataPanelists),
	ActionEnhanceSettings:  enhance(pipeline.DataSettings),
	ActionGetWebinarInstances: func(ctx context.Context, svc Service, req Request) (any, error) {
		return svc.WebinarInstances(ctx, req.UserID, req.WebinarID)
	},
	ActionGetInstanceParticipants: func(ctx context.Context, svc Service, req Request) (any, error) {
		return svc.InstanceParticipants(ctx, req.UserID, req.WebinarID, req.InstanceID)
	},
	ActionSyncWebinarParticipants: func(ctx context.Context, svc Service, req Request) (any, error) {
		return svc.SyncWebinarParticipants(ctx, req.UserID, req.WebinarID)
	},
	ActionFetchTimingData: func(ctx context.Context, svc Service, req Request) (any, error) {
		return svc.FetchTimingData(ctx, req.UserID, req.WebinarID)
	},
	ActionGetActualTimingData: func(ctx context.Context, svc Service, req Request) (any, error) {
		return svc.ActualTimingData(ctx, req.UserID, req.WebinarID)
	},
}

func enhance(kind pipeline.DataType) handlerFunc {
	return func(ctx context.Context, svc Service, req Request) (any, error) {
		ids := req.WebinarIDs
		if len(ids) == 0 && req.WebinarID != "" {
			ids = []string{req.WebinarID}
		}
		return svc.EnhanceStored(ctx, req.UserID, kind, ids)
	}
}

type Dispatcher struct {
	svc     Service
	timeout time.Duration
}

func NewDispatcher(svc Service, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{svc: svc, timeout: timeout}
}

// Response is the wire shape of every action: success and error next to the
// payload's own fields.
type Response struct {
	Status    int    `json:"-"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Payload   any    `json:"-"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if r.Payload != nil {
		body, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			fields = map[string]any{"data": json.RawMessage(body)}
		}
	}
	fields["success"] = r.Success
	if r.Error != "" {
		fields["error"] = r.Error
		fields["errorKind"] = r.ErrorKind
	}
	return json.Marshal(fields)
}

// Dispatch executes req and shapes the outcome as a Response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	v, err := d.Execute(ctx, req)
	if err != nil {
		return ErrorResponse(err)
	}
	return Response{Status: http.StatusOK, Success: true, Payload: v}
}

func ErrorResponse(err error) Response {
	return Response{
		Status:    syncerr.HTTPStatus(err),
		Error:     err.Error(),
		ErrorKind: string(syncerr.KindOf(err)),
	}
}

// Execute validates req and runs its action. The action gets at most the
// dispatcher's timeout; when that fires RunTimeout is returned even if the
// action has not yet returned.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	h, ok := handlers[req.Action]
	if !ok {
		return nil, syncerr.Newf(syncerr.KindInvalidRequest, "unknown action %s", req.Action)
	}

	ctx = logging.EnsureCorrelationID(ctx)
	log := logging.Ctx(ctx).With().Str("action", req.Action).Str("user_id", req.UserID).Logger()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("action panicked")
				done <- outcome{err: syncerr.Newf(syncerr.KindInternal, "action %s panicked: %v", req.Action, r)}
			}
		}()
		v, err := h(ctx, d.svc, req)
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			log.Warn().Err(o.err).Str("kind", string(syncerr.KindOf(o.err))).Dur("elapsed", time.Since(started)).Msg("action failed")
			return nil, o.err
		}
		log.Info().Dur("elapsed", time.Since(started)).Msg("action completed")
		return o.v, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error().Dur("timeout", d.timeout).Msg("action timed out")
			return nil, syncerr.New(syncerr.KindRunTimeout, fmt.Sprintf("%s exceeded %s", req.Action, d.timeout))
		}
		return nil, syncerr.Wrap(syncerr.KindInternal, err, "action cancelled")
	}
}

// Package command decodes action requests and runs them against the sync
// pipeline under a run timeout.
package command

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"example.com/webinar-sync/internal/pipeline"
	"example.com/webinar-sync/internal/syncerr"
)

const (
	ActionSyncSingleWebinar       = "sync-single-webinar"
	ActionComprehensiveSync       = "comprehensive-sync"
	ActionChunkedSync             = "chunked-sync"
	ActionEnhanceHost             = "enhance-host"
	ActionEnhancePanelists        = "enhance-panelists"
	ActionEnhanceSettings         = "enhance-settings"
	ActionGetWebinarInstances     = "get-webinar-instances"
	ActionGetInstanceParticipants = "get-instance-participants"
	ActionSyncWebinarParticipants = "sync-webinar-participants"
	ActionFetchTimingData         = "fetch-timing-data"
	ActionGetActualTimingData     = "get-actual-timing-data"
)

// Request is the union of every action's parameters.
type Request struct {
	Action     string   `json:"action" validate:"required,oneof=sync-single-webinar comprehensive-sync chunked-sync enhance-host enhance-panelists enhance-settings get-webinar-instances get-instance-participants sync-webinar-participants fetch-timing-data get-actual-timing-data"`
	UserID     string   `json:"userId" validate:"required"`
	WebinarID  string   `json:"webinarId,omitempty"`
	WebinarIDs []string `json:"webinarIds,omitempty"`
	InstanceID string   `json:"instanceId,omitempty"`
	DataTypes  []string `json:"dataTypes,omitempty"`
	ChunkSize  int      `json:"chunkSize,omitempty" validate:"gte=0"`

	IncludeSettings     *bool `json:"includeSettings,omitempty"`
	IncludeHost         *bool `json:"includeHost,omitempty"`
	IncludePanelists    *bool `json:"includePanelists,omitempty"`
	IncludeTiming       *bool `json:"includeTiming,omitempty"`
	IncludeParticipants *bool `json:"includeParticipants,omitempty"`
	IncludeInstances    *bool `json:"includeInstances,omitempty"`

	// OnProgress receives chunked-sync progress. It is never serialized.
	OnProgress func(pipeline.Progress) `json:"-"`
}

var validate = validator.New()

// Decode parses a request body.
func Decode(body []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return req, syncerr.Wrap(syncerr.KindInvalidRequest, err, "invalid json")
	}
	return req, nil
}

// FromParams builds a request from a stored job's action and parameters.
func FromParams(action string, params map[string]any) (Request, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return Request{}, syncerr.Wrap(syncerr.KindInvalidRequest, err, "encode params")
	}
	req, err := Decode(body)
	if err != nil {
		return req, err
	}
	req.Action = action
	return req, nil
}

// Params is the inverse of FromParams.
func (r Request) Params() (map[string]any, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	delete(m, "action")
	return m, nil
}

func (r Request) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return syncerr.Wrap(syncerr.KindInvalidRequest, err, "invalid request")
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch {
		case fe.Field() == "Action" && fe.Tag() == "oneof":
			msgs = append(msgs, "unknown action "+strings.TrimSpace(r.Action))
		default:
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
		}
	}
	return syncerr.New(syncerr.KindInvalidRequest, strings.Join(msgs, "; "))
}

func flag(p *bool) bool {
	return p == nil || *p
}

// Include resolves the comprehensive-sync toggles. Unset toggles are on.
func (r Request) Include() pipeline.Include {
	return pipeline.Include{
		Settings:     flag(r.IncludeSettings),
		Host:         flag(r.IncludeHost),
		Panelists:    flag(r.IncludePanelists),
		Timing:       flag(r.IncludeTiming),
		Participants: flag(r.IncludeParticipants),
		Instances:    flag(r.IncludeInstances),
	}
}

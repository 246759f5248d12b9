package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/syncerr"
	"example.com/webinar-sync/internal/zoom"
)

// maxMinutes bounds duration fields; anything larger is treated as garbage.
const maxMinutes = 60 * 24 * 31

const maxCount = 1_000_000

// InstanceData is an unvalidated instance as assembled from remote payloads.
// Timestamps stay as strings until Upsert parses them.
type InstanceData struct {
	UserID     string `validate:"required"`
	WebinarID  string `validate:"required"`
	InstanceID string `validate:"required"`

	Topic             string
	Status            string
	StartTime         string
	EndTime           string
	ActualStartTime   string
	ActualEndTime     string
	Duration          *int
	ActualDuration    *int
	ParticipantsCount *int
	RegistrantsCount  *int
	RawData           []byte
}

type InstanceUpserter struct {
	store    store.InstanceStore
	validate *validator.Validate
}

func NewInstanceUpserter(s store.InstanceStore) *InstanceUpserter {
	return &InstanceUpserter{store: s, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Upsert writes d keyed on (user, webinar, instance) and reports 1 when a row
// was written. Bad optional fields are logged and stored as NULL.
func (u *InstanceUpserter) Upsert(ctx context.Context, d InstanceData) (int64, error) {
	if err := u.validate.Struct(d); err != nil {
		return 0, syncerr.Wrap(syncerr.KindValidation, err, describeValidation(err))
	}

	log := logging.Ctx(ctx).With().Str("webinar_id", d.WebinarID).Str("instance_id", d.InstanceID).Logger()
	ts := func(field, v string) *time.Time {
		t, err := zoom.ParseTime(v)
		if err != nil {
			log.Warn().Err(err).Str("field", field).Msg("invalid instance timestamp stored as null")
			return nil
		}
		return t
	}
	bounded := func(field string, v *int, limit int) *int {
		if v == nil {
			return nil
		}
		if *v < 0 || *v > limit {
			log.Warn().Str("field", field).Int("value", *v).Msg("out of range instance value stored as null")
			return nil
		}
		return v
	}

	in := &model.WebinarInstance{
		UserID:            d.UserID,
		WebinarID:         d.WebinarID,
		InstanceID:        d.InstanceID,
		Topic:             d.Topic,
		Status:            d.Status,
		StartTime:         ts("start_time", d.StartTime),
		EndTime:           ts("end_time", d.EndTime),
		ActualStartTime:   ts("actual_start_time", d.ActualStartTime),
		ActualEndTime:     ts("actual_end_time", d.ActualEndTime),
		Duration:          bounded("duration", d.Duration, maxMinutes),
		ActualDuration:    bounded("actual_duration", d.ActualDuration, maxMinutes),
		ParticipantsCount: bounded("participants_count", d.ParticipantsCount, maxCount),
		RegistrantsCount:  bounded("registrants_count", d.RegistrantsCount, maxCount),
	}
	if len(d.RawData) > 0 {
		in.RawData = datatypes.JSON(d.RawData)
	}

	n, err := u.store.UpsertInstance(ctx, in)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 1, nil
	}
	return 0, nil
}

func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "invalid instance"
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Field())
	}
	return "instance missing " + strings.Join(fields, ", ")
}

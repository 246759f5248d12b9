package store

import (
	"context"
	"errors"
	"time"

	"example.com/webinar-sync/internal/model"
)

var ErrNotFound = errors.New("record not found")

type CredentialsStore interface {
	GetCredentials(ctx context.Context, userID string) (*model.Credentials, error)
	SaveCredentials(ctx context.Context, c *model.Credentials) error
	MarkCredentialsVerified(ctx context.Context, userID string, at time.Time) error
}

type WebinarStore interface {
	UpsertWebinar(ctx context.Context, w *model.Webinar) error
	GetWebinar(ctx context.Context, userID, webinarID string) (*model.Webinar, error)
	ListWebinars(ctx context.Context, userID string) ([]model.Webinar, error)
	ListWebinarIDs(ctx context.Context, userID string) ([]string, error)
}

type InstanceStore interface {
	// UpsertInstance returns the driver's rows-affected count unchanged.
	UpsertInstance(ctx context.Context, in *model.WebinarInstance) (int64, error)
	ListInstances(ctx context.Context, userID, webinarID string) ([]model.WebinarInstance, error)
}

type ParticipantStore interface {
	// ReplaceParticipants makes the stored set for (user, webinar, type) equal
	// to ps and returns the number of rows written.
	ReplaceParticipants(ctx context.Context, userID, webinarID string, typ model.ParticipantType, ps []model.WebinarParticipant) (int, error)
	// UpsertParticipants writes ps without removing anything already stored.
	UpsertParticipants(ctx context.Context, userID, webinarID string, typ model.ParticipantType, ps []model.WebinarParticipant) (int, error)
	ListParticipants(ctx context.Context, userID, webinarID string, typ model.ParticipantType) ([]model.WebinarParticipant, error)
}

type HistoryStore interface {
	RecordSync(ctx context.Context, h *model.SyncHistory) error
	ListSyncHistory(ctx context.Context, userID string, limit int) ([]model.SyncHistory, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, j *model.SyncJob) (string, error)
	GetJob(ctx context.Context, id string) (*model.SyncJob, error)
	UpdateJob(ctx context.Context, j *model.SyncJob) error
	ListJobs(ctx context.Context, limit int) ([]model.SyncJob, error)
}

// Store is everything the pipeline, API and workers persist.
type Store interface {
	CredentialsStore
	WebinarStore
	InstanceStore
	ParticipantStore
	HistoryStore
	JobStore
}

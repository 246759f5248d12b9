// Package pipeline synchronizes Zoom webinars, their instances, participants
// and post-event timing into the store.
package pipeline

import (
	"context"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/zoom"
)

// ZoomAPI is the subset of the Zoom client the pipeline calls.
type ZoomAPI interface {
	ListWebinars(ctx context.Context, token, userID string, pageSize int) ([]zoom.Webinar, error)
	GetWebinar(ctx context.Context, token, webinarID string) (*zoom.Webinar, error)
	GetPastWebinar(ctx context.Context, token, idOrUUID string) (*zoom.PastWebinar, error)
	ListPastInstances(ctx context.Context, token, webinarID string) ([]zoom.PastInstance, error)
	ListRegistrants(ctx context.Context, token, webinarID string, pageSize int, pageToken string) (*zoom.RegistrantsPage, error)
	ListParticipants(ctx context.Context, token, idOrUUID string, pageSize int, pageToken string) (*zoom.ParticipantsPage, error)
	ListPanelists(ctx context.Context, token, webinarID string) ([]zoom.Panelist, error)
	GetUser(ctx context.Context, token, userID string) (*zoom.User, error)
}

var _ ZoomAPI = (*zoom.Client)(nil)

type CredentialsResolver interface {
	Resolve(ctx context.Context, userID string) (*model.Credentials, error)
	MarkVerified(ctx context.Context, c *model.Credentials) error
}

type TokenSource interface {
	GetToken(ctx context.Context, c *model.Credentials) (string, error)
	// Forget drops a cached token the remote has rejected.
	Forget(ctx context.Context, c *model.Credentials) error
}

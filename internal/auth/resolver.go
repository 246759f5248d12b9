package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/syncerr"
)

// Resolver finds the credentials to use for a user: stored ones first, then
// the process-wide fallback.
type Resolver struct {
	store    store.CredentialsStore
	fallback model.Credentials
	now      func() time.Time
}

func NewResolver(s store.CredentialsStore, fallback model.Credentials) *Resolver {
	return &Resolver{store: s, fallback: fallback, now: time.Now}
}

// Resolve returns usable credentials or a CredentialsMissing error. Fallback
// credentials come back with ID 0 and are never persisted.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*model.Credentials, error) {
	if userID == "" {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "userId is required")
	}
	stored, err := r.store.GetCredentials(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if stored.Usable() {
		return stored, nil
	}
	if r.fallback.Usable() {
		c := r.fallback
		c.ID = 0
		c.UserID = userID
		return &c, nil
	}
	return nil, syncerr.Newf(syncerr.KindCredentialsMissing, "no usable Zoom credentials for user %s", userID)
}

// MarkVerified records a successful exchange on stored credentials.
func (r *Resolver) MarkVerified(ctx context.Context, c *model.Credentials) error {
	if c == nil || c.ID == 0 || c.IsVerified {
		return nil
	}
	if err := r.store.MarkCredentialsVerified(ctx, c.UserID, r.now().UTC()); err != nil {
		return err
	}
	c.IsVerified = true
	return nil
}

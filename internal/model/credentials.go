package model

import (
	"strings"
	"time"
)

// DefaultZoomUserID addresses the account owner in Zoom user-scoped endpoints.
const DefaultZoomUserID = "me"

// Credentials are a user's Zoom server-to-server OAuth app secrets.
// IsVerified only ever moves from false to true.
type Credentials struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string     `gorm:"size:64;not null;uniqueIndex:idx_credentials_user" json:"user_id"`
	AccountID    string     `gorm:"size:255" json:"account_id"`
	ClientID     string     `gorm:"size:255" json:"client_id"`
	ClientSecret string     `gorm:"size:255" json:"-"`
	ZoomUserID   string     `gorm:"size:128" json:"zoom_user_id"`
	IsVerified   bool       `gorm:"not null;default:false" json:"is_verified"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Credentials) TableName() string { return "zoom_credentials" }

// Usable reports whether all three secrets are present.
func (c *Credentials) Usable() bool {
	return c != nil &&
		strings.TrimSpace(c.AccountID) != "" &&
		strings.TrimSpace(c.ClientID) != "" &&
		strings.TrimSpace(c.ClientSecret) != ""
}

// CacheKey identifies the token issued for these credentials.
func (c *Credentials) CacheKey() string {
	return c.AccountID + ":" + c.ClientID
}

// RemoteUserID is the Zoom user whose webinars are listed.
func (c *Credentials) RemoteUserID() string {
	if c.ZoomUserID == "" {
		return DefaultZoomUserID
	}
	return c.ZoomUserID
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/metrics"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/syncerr"
)

const (
	DefaultTokenURL = "https://zoom.us/oauth/token"
	DefaultSkew     = 60 * time.Second
	defaultTokenTTL = time.Hour
	// exchangeTimeout bounds a shared exchange once it is detached from the
	// caller that started it.
	exchangeTimeout = 30 * time.Second
)

// Manager hands out access tokens, exchanging credentials only on a cache
// miss. A failed exchange is never retried here.
type Manager struct {
	cache      TokenCache
	tokenURL   string
	httpClient *http.Client
	skew       time.Duration
	now        func() time.Time
	group      singleflight.Group
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithHTTPClient(c *http.Client) Option { return func(m *Manager) { m.httpClient = c } }

func WithSkew(d time.Duration) Option { return func(m *Manager) { m.skew = d } }

func NewManager(cache TokenCache, tokenURL string, opts ...Option) *Manager {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	m := &Manager{
		cache:      cache,
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		skew:       DefaultSkew,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetToken returns a cached token while it is still valid, otherwise performs
// the account_credentials exchange and caches the result.
func (m *Manager) GetToken(ctx context.Context, c *model.Credentials) (string, error) {
	if !c.Usable() {
		return "", syncerr.New(syncerr.KindCredentialsMissing, "credentials are incomplete")
	}
	key := c.CacheKey()
	if tok, ok := m.cache.Get(ctx, key); ok && m.now().Before(tok.ExpiresAt) {
		metrics.TokenCacheLookups.WithLabelValues("hit").Inc()
		return tok.AccessToken, nil
	}
	metrics.TokenCacheLookups.WithLabelValues("miss").Inc()

	// waiters share one exchange, so it must outlive any single caller's ctx
	ch := m.group.DoChan(key, func() (interface{}, error) {
		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
		defer cancel()
		return m.exchange(xctx, c)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", syncerr.Wrap(syncerr.KindTokenExchangeFailed, ctx.Err(), "token exchange abandoned")
	}
}

func (m *Manager) exchange(ctx context.Context, c *model.Credentials) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     m.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
		EndpointParams: url.Values{
			"grant_type": {"account_credentials"},
			"account_id": {c.AccountID},
		},
	}
	issuedAt := m.now()
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, m.httpClient))
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("error").Inc()
		mapped := mapExchangeError(err)
		logging.Ctx(ctx).Warn().Err(err).Str("account_id", c.AccountID).Str("kind", string(syncerr.KindOf(mapped))).Msg("token exchange failed")
		return "", mapped
	}
	metrics.TokenExchanges.WithLabelValues("ok").Inc()

	ttl := tokenTTL(tok)
	expiresAt := issuedAt.Add(ttl - m.skew)
	if cacheFor := expiresAt.Sub(issuedAt); cacheFor > 0 {
		if err := m.cache.Set(ctx, c.CacheKey(), CachedToken{AccessToken: tok.AccessToken, ExpiresAt: expiresAt}, cacheFor); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("token cache write failed")
		}
	}
	return tok.AccessToken, nil
}

// tokenTTL prefers the raw expires_in so the caller's clock governs expiry.
func tokenTTL(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if !tok.Expiry.IsZero() {
		return time.Until(tok.Expiry)
	}
	return defaultTokenTTL
}

func mapExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_client":
			return syncerr.Wrap(syncerr.KindBadCredentials, err, "Zoom rejected the client id or secret")
		case "invalid_grant":
			return syncerr.Wrap(syncerr.KindInsufficientPermissions, err, "Zoom app lacks the required permissions or account id is wrong")
		}
	}
	return syncerr.Wrap(syncerr.KindTokenExchangeFailed, err, "token exchange failed")
}

// Forget drops the cached token for c.
func (m *Manager) Forget(ctx context.Context, c *model.Credentials) error {
	return m.cache.Clear(ctx, c.CacheKey())
}

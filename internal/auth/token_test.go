package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/syncerr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testCreds() *model.Credentials {
	return &model.Credentials{UserID: "u1", AccountID: "acc", ClientID: "cid", ClientSecret: "secret"}
}

func tokenServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "account_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "acc", r.PostForm.Get("account_id"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGetTokenReusesCachedTokenUntilExpiry(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, `{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache()
	defer cache.Close()
	m := NewManager(cache, srv.URL, WithClock(clock.Now))
	ctx := context.Background()

	tok, err := m.GetToken(ctx, testCreds())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// cached: no network
	clock.Advance(30 * time.Minute)
	tok, err = m.GetToken(ctx, testCreds())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	// within the 60s skew window the token is treated as expired
	clock.Advance(29*time.Minute + 1*time.Second)
	_, err = m.GetToken(ctx, testCreds())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestGetTokenErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"invalid client", http.StatusBadRequest, `{"reason":"Invalid client_id or client_secret","error":"invalid_client"}`, syncerr.ErrBadCredentials},
		{"invalid grant", http.StatusBadRequest, `{"reason":"Invalid grant","error":"invalid_grant"}`, syncerr.ErrInsufficientPermissions},
		{"server error", http.StatusInternalServerError, `oops`, syncerr.ErrTokenExchangeFailed},
		{"other code", http.StatusBadRequest, `{"error":"unsupported_grant_type"}`, syncerr.ErrTokenExchangeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, calls := tokenServer(t, tc.status, tc.body)
			m := NewManager(NewMemoryCache(), srv.URL)

			_, err := m.GetToken(context.Background(), testCreds())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			// no automatic retry
			assert.EqualValues(t, 1, atomic.LoadInt32(calls))
		})
	}
}

func TestGetTokenRejectsIncompleteCredentials(t *testing.T) {
	m := NewManager(NewMemoryCache(), "http://127.0.0.1:0")
	_, err := m.GetToken(context.Background(), &model.Credentials{AccountID: "acc", ClientID: "cid"})
	assert.ErrorIs(t, err, syncerr.ErrCredentialsMissing)
}

func TestForgetDropsCachedToken(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, `{"access_token":"tok","expires_in":3600}`)
	m := NewManager(NewMemoryCache(), srv.URL)
	ctx := context.Background()

	_, err := m.GetToken(ctx, testCreds())
	require.NoError(t, err)
	require.NoError(t, m.Forget(ctx, testCreds()))
	_, err = m.GetToken(ctx, testCreds())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestCancelledCallerDoesNotFailSharedExchange(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(arrived)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"shared","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	cache := NewMemoryCache()
	defer cache.Close()
	m := NewManager(cache, srv.URL)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetToken(firstCtx, testCreds())
		firstErr <- err
	}()
	<-arrived

	type result struct {
		tok string
		err error
	}
	second := make(chan result, 1)
	go func() {
		tok, err := m.GetToken(context.Background(), testCreds())
		second <- result{tok, err}
	}()
	// let the second caller join the in-flight exchange
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}
	close(release)

	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, "shared", r.tok)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

// Package zoom is a minimal client for the Zoom REST API v2 webinar endpoints.
// Every call takes the bearer token explicitly; token lifecycle lives in the
// auth package.
package zoom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/metrics"
)

const DefaultBaseURL = "https://api.zoom.us/v2"

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoom api error: %s: %d %s", e.Endpoint, e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports a rejected access token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	RPS        float64
	Burst      int
	MaxRetries int
	// RetryBase is the first 429 backoff when no Retry-After is sent.
	RetryBase time.Duration
}

type Client struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[[]byte]
	maxRetries int
	retryBase  time.Duration
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       opts.HTTPClient,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		cb:         newBreaker("zoom-api"),
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		// client errors say nothing about the remote's health
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("zoom: circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// EscapeUUID encodes a webinar UUID for use as a path segment. UUIDs that
// start with "/" or contain "//" must be encoded twice.
func EscapeUUID(uuid string) string {
	escaped := url.PathEscape(uuid)
	if strings.HasPrefix(uuid, "/") || strings.Contains(uuid, "//") {
		escaped = url.PathEscape(escaped)
	}
	return escaped
}

// get issues an authenticated GET and decodes the body into out.
func (c *Client) get(ctx context.Context, token, endpoint, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, token, endpoint, path, query)
	})
	metrics.ZoomAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ZoomAPIRequests.WithLabelValues(endpoint, "error").Inc()
		return err
	}
	metrics.ZoomAPIRequests.WithLabelValues(endpoint, "ok").Inc()
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("zoom: decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, token, endpoint, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("zoom: %s: %w", endpoint, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("zoom: read %s: %w", endpoint, readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			delay := c.retryBase * (1 << attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			metrics.ZoomAPIRetries.Inc()
			logging.Ctx(ctx).Warn().Str("endpoint", endpoint).Dur("retry_delay", delay).Int("attempt", attempt+1).Msg("zoom: rate limited, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint}
			if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(string(body))
			}
			return nil, apiErr
		}
		return body, nil
	}
}

// ListWebinars returns every webinar of a user, following next_page_token.
func (c *Client) ListWebinars(ctx context.Context, token, userID string, pageSize int) ([]Webinar, error) {
	if pageSize <= 0 || pageSize > 300 {
		pageSize = 300
	}
	var out []Webinar
	next := ""
	for {
		q := url.Values{"page_size": {strconv.Itoa(pageSize)}}
		if next != "" {
			q.Set("next_page_token", next)
		}
		var page struct {
			Webinars      []json.RawMessage `json:"webinars"`
			NextPageToken string            `json:"next_page_token"`
		}
		if err := c.get(ctx, token, "list_webinars", "/users/"+url.PathEscape(userID)+"/webinars", q, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Webinars {
			w, err := decodeWebinar(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, *w)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		next = page.NextPageToken
	}
}

func decodeWebinar(raw json.RawMessage) (*Webinar, error) {
	var w Webinar
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("zoom: decode webinar: %w", err)
	}
	w.Raw = raw
	return &w, nil
}

func (c *Client) GetWebinar(ctx context.Context, token, webinarID string) (*Webinar, error) {
	var raw json.RawMessage
	if err := c.get(ctx, token, "get_webinar", "/webinars/"+url.PathEscape(webinarID), nil, &raw); err != nil {
		return nil, err
	}
	return decodeWebinar(raw)
}

// GetPastWebinar accepts either a webinar id or an instance UUID.
func (c *Client) GetPastWebinar(ctx context.Context, token, idOrUUID string) (*PastWebinar, error) {
	var raw json.RawMessage
	if err := c.get(ctx, token, "past_webinar", "/past_webinars/"+EscapeUUID(idOrUUID), nil, &raw); err != nil {
		return nil, err
	}
	var pw PastWebinar
	if err := json.Unmarshal(raw, &pw); err != nil {
		return nil, fmt.Errorf("zoom: decode past webinar: %w", err)
	}
	pw.Raw = raw
	return &pw, nil
}

func (c *Client) ListPastInstances(ctx context.Context, token, webinarID string) ([]PastInstance, error) {
	var resp struct {
		Webinars []json.RawMessage `json:"webinars"`
	}
	if err := c.get(ctx, token, "past_instances", "/past_webinars/"+url.PathEscape(webinarID)+"/instances", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]PastInstance, 0, len(resp.Webinars))
	for _, raw := range resp.Webinars {
		var pi PastInstance
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("zoom: decode instance: %w", err)
		}
		pi.Raw = raw
		out = append(out, pi)
	}
	return out, nil
}

func (c *Client) ListRegistrants(ctx context.Context, token, webinarID string, pageSize int, pageToken string) (*RegistrantsPage, error) {
	q := url.Values{"page_size": {strconv.Itoa(pageSize)}}
	if pageToken != "" {
		q.Set("next_page_token", pageToken)
	}
	var resp struct {
		Registrants   []json.RawMessage `json:"registrants"`
		NextPageToken string            `json:"next_page_token"`
		TotalRecords  int               `json:"total_records"`
	}
	if err := c.get(ctx, token, "registrants", "/webinars/"+url.PathEscape(webinarID)+"/registrants", q, &resp); err != nil {
		return nil, err
	}
	page := &RegistrantsPage{NextPageToken: resp.NextPageToken, TotalRecords: resp.TotalRecords}
	for _, raw := range resp.Registrants {
		var r Registrant
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("zoom: decode registrant: %w", err)
		}
		r.Raw = raw
		page.Registrants = append(page.Registrants, r)
	}
	return page, nil
}

// ListParticipants lists attendees of an ended webinar or instance.
func (c *Client) ListParticipants(ctx context.Context, token, idOrUUID string, pageSize int, pageToken string) (*ParticipantsPage, error) {
	q := url.Values{"page_size": {strconv.Itoa(pageSize)}}
	if pageToken != "" {
		q.Set("next_page_token", pageToken)
	}
	var resp struct {
		Participants  []json.RawMessage `json:"participants"`
		NextPageToken string            `json:"next_page_token"`
		TotalRecords  int               `json:"total_records"`
	}
	if err := c.get(ctx, token, "participants", "/past_webinars/"+EscapeUUID(idOrUUID)+"/participants", q, &resp); err != nil {
		return nil, err
	}
	page := &ParticipantsPage{NextPageToken: resp.NextPageToken, TotalRecords: resp.TotalRecords}
	for _, raw := range resp.Participants {
		var p Participant
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("zoom: decode participant: %w", err)
		}
		p.Raw = raw
		page.Participants = append(page.Participants, p)
	}
	return page, nil
}

func (c *Client) ListPanelists(ctx context.Context, token, webinarID string) ([]Panelist, error) {
	var resp struct {
		Panelists []Panelist `json:"panelists"`
	}
	if err := c.get(ctx, token, "panelists", "/webinars/"+url.PathEscape(webinarID)+"/panelists", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Panelists, nil
}

func (c *Client) GetUser(ctx context.Context, token, userID string) (*User, error) {
	var u User
	if err := c.get(ctx, token, "get_user", "/users/"+url.PathEscape(userID), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

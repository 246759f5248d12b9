package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/zoom"
)

func setupStore(t *testing.T) *store.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	s, err := store.NewGormStoreFromDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

var errRemote = &zoom.APIError{StatusCode: 500, Message: "boom"}

// fakeZoom serves canned payloads and counts calls per method.
type fakeZoom struct {
	mu sync.Mutex

	list          []zoom.Webinar
	listErr       error
	details       map[string]*zoom.Webinar
	past          map[string]*zoom.PastWebinar
	pastInstances map[string][]zoom.PastInstance
	registrants   map[string][]zoom.RegistrantsPage
	participants  map[string][]zoom.ParticipantsPage
	panelists     map[string][]zoom.Panelist
	panelistErr   map[string]error
	users         map[string]*zoom.User
	// revoked is a token the fake answers with 401.
	revoked string

	calls     map[string]int
	pastCalls []string
}

func newFakeZoom() *fakeZoom {
	return &fakeZoom{
		details:       map[string]*zoom.Webinar{},
		past:          map[string]*zoom.PastWebinar{},
		pastInstances: map[string][]zoom.PastInstance{},
		registrants:   map[string][]zoom.RegistrantsPage{},
		participants:  map[string][]zoom.ParticipantsPage{},
		panelists:     map[string][]zoom.Panelist{},
		panelistErr:   map[string]error{},
		users:         map[string]*zoom.User{},
		calls:         map[string]int{},
	}
}

func (f *fakeZoom) count(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

func (f *fakeZoom) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func pageIndex(token string) int {
	if token == "" {
		return 0
	}
	n, _ := strconv.Atoi(token[1:])
	return n
}

func nextToken(i, total int) string {
	if i+1 < total {
		return fmt.Sprintf("p%d", i+1)
	}
	return ""
}

func (f *fakeZoom) rejects(token string) error {
	if f.revoked != "" && token == f.revoked {
		return &zoom.APIError{StatusCode: 401, Message: "Invalid access token."}
	}
	return nil
}

func (f *fakeZoom) ListWebinars(_ context.Context, token, _ string, _ int) ([]zoom.Webinar, error) {
	f.count("ListWebinars")
	if err := f.rejects(token); err != nil {
		return nil, err
	}
	return f.list, f.listErr
}

func (f *fakeZoom) GetWebinar(_ context.Context, token, id string) (*zoom.Webinar, error) {
	f.count("GetWebinar")
	if err := f.rejects(token); err != nil {
		return nil, err
	}
	if w, ok := f.details[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, &zoom.APIError{StatusCode: 404, Message: "Webinar does not exist"}
}

func (f *fakeZoom) GetPastWebinar(_ context.Context, _, id string) (*zoom.PastWebinar, error) {
	f.count("GetPastWebinar")
	f.mu.Lock()
	f.pastCalls = append(f.pastCalls, id)
	f.mu.Unlock()
	if p, ok := f.past[id]; ok {
		return p, nil
	}
	return nil, &zoom.APIError{StatusCode: 404, Message: "past webinar not found"}
}

func (f *fakeZoom) ListPastInstances(_ context.Context, _, id string) ([]zoom.PastInstance, error) {
	f.count("ListPastInstances")
	return f.pastInstances[id], nil
}

func (f *fakeZoom) ListRegistrants(_ context.Context, _, id string, _ int, token string) (*zoom.RegistrantsPage, error) {
	f.count("ListRegistrants")
	pages, ok := f.registrants[id]
	if !ok {
		return &zoom.RegistrantsPage{}, nil
	}
	i := pageIndex(token)
	p := pages[i]
	p.NextPageToken = nextToken(i, len(pages))
	return &p, nil
}

func (f *fakeZoom) ListParticipants(_ context.Context, _, id string, _ int, token string) (*zoom.ParticipantsPage, error) {
	f.count("ListParticipants")
	pages, ok := f.participants[id]
	if !ok {
		return nil, errRemote
	}
	i := pageIndex(token)
	p := pages[i]
	p.NextPageToken = nextToken(i, len(pages))
	return &p, nil
}

func (f *fakeZoom) ListPanelists(_ context.Context, _, id string) ([]zoom.Panelist, error) {
	f.count("ListPanelists")
	if err := f.panelistErr[id]; err != nil {
		return nil, err
	}
	return f.panelists[id], nil
}

func (f *fakeZoom) GetUser(_ context.Context, _, id string) (*zoom.User, error) {
	f.count("GetUser")
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errRemote
}

type fakeCreds struct {
	err      error
	verified int
}

func (f *fakeCreds) Resolve(_ context.Context, userID string) (*model.Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Credentials{ID: 1, UserID: userID, AccountID: "acct", ClientID: "cid", ClientSecret: "secret"}, nil
}

func (f *fakeCreds) MarkVerified(context.Context, *model.Credentials) error {
	f.verified++
	return nil
}

type fakeTokens struct {
	err error
}

func (f fakeTokens) GetToken(context.Context, *model.Credentials) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "tok", nil
}

func (fakeTokens) Forget(context.Context, *model.Credentials) error { return nil }

// rotatingTokens hands out tok-1, tok-2, ... and moves on only after Forget.
type rotatingTokens struct {
	issued  int
	forgets int
}

func (r *rotatingTokens) GetToken(context.Context, *model.Credentials) (string, error) {
	if r.issued == 0 || r.forgets >= r.issued {
		r.issued++
	}
	return fmt.Sprintf("tok-%d", r.issued), nil
}

func (r *rotatingTokens) Forget(context.Context, *model.Credentials) error {
	r.forgets++
	return nil
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, api ZoomAPI) (*Orchestrator, *store.GormStore) {
	t.Helper()
	s := setupStore(t)
	o := NewOrchestrator(Deps{
		Store:       s,
		API:         api,
		Credentials: &fakeCreds{},
		Tokens:      fakeTokens{},
		Now:         func() time.Time { return testNow },
	}, Options{ChunkSize: 2})
	return o, s
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrInt(v int) *int { return &v }

var errBoom = errors.New("boom")

package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/webinar-sync/internal/model"
)

func setupInMemoryStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	s, err := NewGormStoreFromDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func intPtr(v int) *int { return &v }

func TestUpsertInstanceIsIdempotent(t *testing.T) {
	s := setupInMemoryStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	in := &model.WebinarInstance{
		UserID: "u1", WebinarID: "w1", InstanceID: "i1",
		Topic: "Launch", StartTime: &start, Duration: intPtr(60),
	}
	n, err := s.UpsertInstance(ctx, in)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if n != 1 {
		t.Fatalf("first upsert affected %d rows", n)
	}

	in.Topic = "Launch (updated)"
	in.ParticipantsCount = intPtr(42)
	if _, err := s.UpsertInstance(ctx, in); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	list, err := s.ListInstances(ctx, "u1", "w1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(list))
	}
	if list[0].Topic != "Launch (updated)" || list[0].ParticipantsCount == nil || *list[0].ParticipantsCount != 42 {
		t.Fatalf("row not updated in place: %+v", list[0])
	}
}

func TestUpsertWebinarKeepsEnrichmentOnPartialWrite(t *testing.T) {
	s := setupInMemoryStore(t)
	ctx := context.Background()

	actual := time.Date(2026, 3, 1, 15, 2, 0, 0, time.UTC)
	w := &model.Webinar{
		UserID: "u1", WebinarID: "w1", Topic: "Q1 review", Status: "ended",
		HostEmail: "host@example.com", HostName: "Host",
		ActualStartTime: &actual, ActualDuration: intPtr(58),
		Panelists: datatypes.NewJSONSlice([]model.Panelist{{ID: "p1", Name: "Pat"}}),
		Settings:  datatypes.JSONMap{"approval_type": float64(2)},
	}
	if err := s.UpsertWebinar(ctx, w); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// a later metadata-only sync
	if err := s.UpsertWebinar(ctx, &model.Webinar{UserID: "u1", WebinarID: "w1", Topic: "Q1 review!", Status: "ended"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetWebinar(ctx, "u1", "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Topic != "Q1 review!" {
		t.Fatalf("topic not updated: %q", got.Topic)
	}
	if got.ActualStartTime == nil || !got.ActualStartTime.Equal(actual) {
		t.Fatalf("actual start lost: %v", got.ActualStartTime)
	}
	if got.HostEmail != "host@example.com" || len(got.Panelists) != 1 || got.Settings["approval_type"] != float64(2) {
		t.Fatalf("enrichment lost: %+v", got)
	}

	ids, err := s.ListWebinarIDs(ctx, "u1")
	if err != nil || len(ids) != 1 || ids[0] != "w1" {
		t.Fatalf("ids = %v, err = %v", ids, err)
	}
}

func TestReplaceParticipantsMirrorsLatestFetch(t *testing.T) {
	s := setupInMemoryStore(t)
	ctx := context.Background()

	first := []model.WebinarParticipant{
		{ParticipantID: "a", Email: "a@x.com"},
		{ParticipantID: "b", Email: "b@x.com"},
		{ParticipantID: "c", Email: "c@x.com"},
	}
	if n, err := s.ReplaceParticipants(ctx, "u1", "w1", model.ParticipantAttendee, first); err != nil || n != 3 {
		t.Fatalf("first replace: n=%d err=%v", n, err)
	}
	// registrants of the same webinar are a separate set
	if _, err := s.ReplaceParticipants(ctx, "u1", "w1", model.ParticipantRegistrant, []model.WebinarParticipant{{ParticipantID: "r1"}}); err != nil {
		t.Fatalf("registrants: %v", err)
	}

	second := []model.WebinarParticipant{
		{ParticipantID: "b", Email: "b@new.com"},
		{ParticipantID: "d", Email: "d@x.com"},
	}
	if _, err := s.ReplaceParticipants(ctx, "u1", "w1", model.ParticipantAttendee, second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := s.ListParticipants(ctx, "u1", "w1", model.ParticipantAttendee)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ParticipantID != "b" || got[1].ParticipantID != "d" {
		t.Fatalf("unexpected attendee set: %+v", got)
	}
	if got[0].Email != "b@new.com" {
		t.Fatalf("email not updated: %q", got[0].Email)
	}
	regs, _ := s.ListParticipants(ctx, "u1", "w1", model.ParticipantRegistrant)
	if len(regs) != 1 {
		t.Fatalf("registrant set touched: %+v", regs)
	}

	// an empty fetch leaves storage alone
	if n, err := s.ReplaceParticipants(ctx, "u1", "w1", model.ParticipantAttendee, nil); err != nil || n != 0 {
		t.Fatalf("empty replace: n=%d err=%v", n, err)
	}
	got, _ = s.ListParticipants(ctx, "u1", "w1", model.ParticipantAttendee)
	if len(got) != 2 {
		t.Fatalf("empty fetch modified storage: %d rows", len(got))
	}
}

func TestUpsertParticipantsKeepsUnfetchedRows(t *testing.T) {
	s := setupInMemoryStore(t)
	ctx := context.Background()

	stored := []model.WebinarParticipant{
		{ParticipantID: "a", Email: "a@x.com"},
		{ParticipantID: "b", Email: "b@x.com"},
		{ParticipantID: "c", Email: "c@x.com"},
	}
	if _, err := s.ReplaceParticipants(ctx, "u1", "w1", model.ParticipantRegistrant, stored); err != nil {
		t.Fatalf("seed: %v", err)
	}

	partial := []model.WebinarParticipant{{ParticipantID: "a", Email: "a@new.com"}}
	if n, err := s.UpsertParticipants(ctx, "u1", "w1", model.ParticipantRegistrant, partial); err != nil || n != 1 {
		t.Fatalf("upsert: n=%d err=%v", n, err)
	}

	got, err := s.ListParticipants(ctx, "u1", "w1", model.ParticipantRegistrant)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("upsert pruned rows: %+v", got)
	}
	if got[0].Email != "a@new.com" {
		t.Fatalf("email not updated: %q", got[0].Email)
	}
}

func TestCredentialsVerificationIsOneWay(t *testing.T) {
	s := setupInMemoryStore(t)
	ctx := context.Background()

	if _, err := s.GetCredentials(ctx, "u1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	c := &model.Credentials{UserID: "u1", AccountID: "acc", ClientID: "cid", ClientSecret: "sec"}
	if err := s.SaveCredentials(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	at := time.Now().UTC()
	if err := s.MarkCredentialsVerified(ctx, "u1", at); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// re-saving secrets does not clear the flag
	c2 := &model.Credentials{UserID: "u1", AccountID: "acc", ClientID: "cid2", ClientSecret: "sec2"}
	if err := s.SaveCredentials(ctx, c2); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := s.GetCredentials(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsVerified || got.VerifiedAt == nil || got.ClientID != "cid2" {
		t.Fatalf("unexpected credentials: %+v", got)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := setupInMemoryStore(t)
	ctx := context.Background()

	j := &model.SyncJob{Action: "sync-single-webinar", Params: datatypes.JSONMap{"userId": "u1", "webinarId": "w1"}}
	id, err := s.CreateJob(ctx, j)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatalf("empty id")
	}
	got, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPending || got.Params["webinarId"] != "w1" {
		t.Fatalf("unexpected job: %+v", got)
	}
	got.Status = model.StatusSuccess
	got.Result = datatypes.JSON(`{"success":true}`)
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	later, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if later.Status != model.StatusSuccess {
		t.Fatalf("status not updated")
	}
	if _, err := s.GetJob(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, err := s.ListJobs(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %d, err = %v", len(list), err)
	}
}

func TestSyncHistoryAppendOnly(t *testing.T) {
	s := setupInMemoryStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.RecordSync(ctx, &model.SyncHistory{UserID: "u1", SyncType: "single", Status: model.SyncSuccess, ItemsUpdated: i}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	hist, err := s.ListSyncHistory(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(hist) != 2 || hist[0].ItemsUpdated != 2 {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	out, err := normalizeMySQLDSN("user:pw@tcp(db:3306)/webinars")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if want := "user:pw@tcp(db:3306)/webinars?parseTime=true"; out != want {
		t.Fatalf("got %q want %q", out, want)
	}
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

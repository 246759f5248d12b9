package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/model"
)

// GormStore implements Store on top of GORM.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// Open connects with the named driver (mysql, postgres or sqlite) and runs
// migrations.
func Open(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		normalized, err := normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		dialector = mysql.Open(normalized)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(gormLogWriter{}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite serializes writers; one connection also keeps :memory: a single database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return NewGormStoreFromDB(db)
}

// NewGormStoreFromDB constructs a GormStore from an existing *gorm.DB. This is
// useful for tests (sqlite in-memory) or when the caller manages the DB.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) DB() *gorm.DB { return s.db }

// normalizeMySQLDSN forces parseTime so DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...interface{}) {
	logging.Warn().Str("component", "gorm").Msgf(format, args...)
}

var migrations = []struct {
	model   interface{}
	indexes []string
}{
	{&model.Credentials{}, []string{"idx_credentials_user"}},
	{&model.Webinar{}, []string{"idx_webinar_key"}},
	{&model.WebinarInstance{}, []string{"idx_instance_key"}},
	{&model.WebinarParticipant{}, []string{"idx_participant_key"}},
	{&model.SyncHistory{}, []string{"idx_history_user"}},
	{&model.SyncJob{}, []string{"idx_job_action", "idx_job_status"}},
}

func RunMigrations(db *gorm.DB) error {
	mig := db.Migrator()
	for _, m := range migrations {
		if !mig.HasTable(m.model) {
			if err := mig.CreateTable(m.model); err != nil {
				return err
			}
		}
		for _, idx := range m.indexes {
			if !mig.HasIndex(m.model, idx) {
				if err := mig.CreateIndex(m.model, idx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// credentials

func (s *GormStore) GetCredentials(ctx context.Context, userID string) (*model.Credentials, error) {
	var c model.Credentials
	if err := s.db.WithContext(ctx).First(&c, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *GormStore) SaveCredentials(ctx context.Context, c *model.Credentials) error {
	if c == nil || c.UserID == "" {
		return errors.New("invalid credentials")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_id", "client_id", "client_secret", "zoom_user_id", "updated_at"}),
	}).Create(c).Error
}

func (s *GormStore) MarkCredentialsVerified(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Credentials{}).
		Where("user_id = ? AND is_verified = ?", userID, false).
		Updates(map[string]interface{}{"is_verified": true, "verified_at": at}).Error
}

// webinars

func (s *GormStore) UpsertWebinar(ctx context.Context, w *model.Webinar) error {
	if w == nil || w.UserID == "" || w.WebinarID == "" {
		return errors.New("invalid webinar")
	}
	// the conflict target is the natural key; a loaded primary key would
	// collide first
	rec := *w
	rec.ID = 0
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "webinar_id"}},
		DoUpdates: clause.AssignmentColumns(webinarUpdateColumns(w)),
	}).Create(&rec).Error
}

// webinarUpdateColumns leaves enrichment columns alone when this write does
// not carry them, so a partial sync never erases earlier results.
func webinarUpdateColumns(w *model.Webinar) []string {
	cols := []string{
		"uuid", "topic", "agenda", "type", "status", "start_time", "duration",
		"timezone", "join_url", "host_id", "raw_data", "last_synced_at", "updated_at",
	}
	if w.HostEmail != "" {
		cols = append(cols, "host_email", "host_name")
	}
	if w.ActualStartTime != nil {
		cols = append(cols, "actual_start_time", "actual_end_time", "actual_duration")
	}
	if w.ParticipantsCount != nil {
		cols = append(cols, "participants_count")
	}
	if w.Panelists != nil {
		cols = append(cols, "panelists")
	}
	if w.Settings != nil {
		cols = append(cols, "settings")
	}
	return cols
}

func (s *GormStore) GetWebinar(ctx context.Context, userID, webinarID string) (*model.Webinar, error) {
	var w model.Webinar
	if err := s.db.WithContext(ctx).First(&w, "user_id = ? AND webinar_id = ?", userID, webinarID).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (s *GormStore) ListWebinars(ctx context.Context, userID string) ([]model.Webinar, error) {
	var ws []model.Webinar
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("start_time DESC").Find(&ws).Error
	return ws, err
}

func (s *GormStore) ListWebinarIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Webinar{}).Where("user_id = ?", userID).
		Order("webinar_id").Pluck("webinar_id", &ids).Error
	return ids, err
}

// instances

func (s *GormStore) UpsertInstance(ctx context.Context, in *model.WebinarInstance) (int64, error) {
	rec := *in
	rec.ID = 0
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "webinar_id"}, {Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"topic", "status", "start_time", "end_time", "actual_start_time", "actual_end_time",
			"duration", "actual_duration", "participants_count", "registrants_count", "raw_data", "updated_at",
		}),
	}).Create(&rec)
	return res.RowsAffected, res.Error
}

func (s *GormStore) ListInstances(ctx context.Context, userID, webinarID string) ([]model.WebinarInstance, error) {
	var out []model.WebinarInstance
	err := s.db.WithContext(ctx).Where("user_id = ? AND webinar_id = ?", userID, webinarID).
		Order("start_time").Find(&out).Error
	return out, err
}

// participants

var participantConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "user_id"}, {Name: "webinar_id"}, {Name: "participant_type"}, {Name: "participant_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"registrant_id", "email", "name", "join_time", "leave_time", "duration", "status", "raw_data", "updated_at",
	}),
}

func keyParticipants(userID, webinarID string, typ model.ParticipantType, ps []model.WebinarParticipant) []string {
	ids := make([]string, 0, len(ps))
	for i := range ps {
		ps[i].UserID = userID
		ps[i].WebinarID = webinarID
		ps[i].ParticipantType = typ
		ids = append(ids, ps[i].ParticipantID)
	}
	return ids
}

func (s *GormStore) ReplaceParticipants(ctx context.Context, userID, webinarID string, typ model.ParticipantType, ps []model.WebinarParticipant) (int, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	ids := keyParticipants(userID, webinarID, typ, ps)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(participantConflict).CreateInBatches(ps, 200).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND webinar_id = ? AND participant_type = ?", userID, webinarID, typ).
			Where("participant_id NOT IN ?", ids).
			Delete(&model.WebinarParticipant{}).Error
	})
	if err != nil {
		return 0, err
	}
	return len(ps), nil
}

func (s *GormStore) UpsertParticipants(ctx context.Context, userID, webinarID string, typ model.ParticipantType, ps []model.WebinarParticipant) (int, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	keyParticipants(userID, webinarID, typ, ps)
	if err := s.db.WithContext(ctx).Clauses(participantConflict).CreateInBatches(ps, 200).Error; err != nil {
		return 0, err
	}
	return len(ps), nil
}

func (s *GormStore) ListParticipants(ctx context.Context, userID, webinarID string, typ model.ParticipantType) ([]model.WebinarParticipant, error) {
	var out []model.WebinarParticipant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND webinar_id = ? AND participant_type = ?", userID, webinarID, typ).
		Order("participant_id").Find(&out).Error
	return out, err
}

// history

func (s *GormStore) RecordSync(ctx context.Context, h *model.SyncHistory) error {
	if h == nil {
		return errors.New("nil history")
	}
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *GormStore) ListSyncHistory(ctx context.Context, userID string, limit int) ([]model.SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.SyncHistory
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// jobs

func (s *GormStore) CreateJob(ctx context.Context, j *model.SyncJob) (string, error) {
	if j == nil {
		return "", errors.New("nil job")
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = model.StatusPending
	}
	if err := s.db.WithContext(ctx).Create(j).Error; err != nil {
		return "", err
	}
	return j.ID, nil
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*model.SyncJob, error) {
	var j model.SyncJob
	if err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (s *GormStore) UpdateJob(ctx context.Context, j *model.SyncJob) error {
	if j == nil || j.ID == "" {
		return errors.New("invalid job")
	}
	updates := map[string]interface{}{
		"status":     j.Status,
		"result":     j.Result,
		"error":      j.Error,
		"updated_at": time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Model(&model.SyncJob{}).Where("id = ?", j.ID).Updates(updates).Error
}

func (s *GormStore) ListJobs(ctx context.Context, limit int) ([]model.SyncJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.SyncJob
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Package pgstore is the PostgreSQL implementation of the domain stores, built on gorm.
// Per-lesson serialization uses SELECT ... FOR UPDATE on the lesson row.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/config"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	*queries
	db     *gorm.DB
	logger *zerolog.Logger
}

var (
	_ domain.Store    = (*Store)(nil)
	_ domain.JobStore = (*Store)(nil)
)

// Open connects, migrates the schema, and returns a ready store.
func Open(cfg config.PostgresConfig, log *zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	s := New(db, log)
	if err := s.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("Postgres store ready")
	return s, nil
}

// New wraps an open gorm connection.
func New(db *gorm.DB, log *zerolog.Logger) *Store {
	return &Store{queries: &queries{db: db}, db: db, logger: log}
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&models.ClassOption{},
		&models.User{},
		&models.Lesson{},
		&models.Booking{},
		&models.ScheduleTemplate{},
		&models.Job{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	// Range scans by tenant and start time drive generation and listing.
	return s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_lessons_tenant_start ON lessons (tenant_id, start_time)`).Error
}

// InTx runs fn in one transaction. It commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(q domain.Queries) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx})
	})
	var typed *domain.Error
	if err != nil && !errors.As(err, &typed) {
		return domain.WrapStorage(err, "transaction")
	}
	return err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return domain.WrapStorage(err, "create job")
	}
	return nil
}

func (s *Store) GetPendingJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", models.JobStatusPending, time.Now()).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, domain.WrapStorage(err, "get pending jobs")
	}
	return jobs, nil
}

func (s *Store) ClaimJob(ctx context.Context, id int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusPending).
		Update("status", models.JobStatusProcessing)
	if res.Error != nil {
		return false, domain.WrapStorage(res.Error, "claim job")
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ResetProcessingJobs(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", models.JobStatusProcessing).
		Update("status", models.JobStatusPending)
	if res.Error != nil {
		return 0, domain.WrapStorage(res.Error, "reset processing jobs")
	}
	return int(res.RowsAffected), nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, id int64, status string, errMsg *string, nextRetryAt *time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"last_error": errMsg,
	}
	switch {
	case status == models.JobStatusPending && nextRetryAt != nil:
		updates["next_retry_at"] = nextRetryAt
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	case status == models.JobStatusCompleted || status == models.JobStatusFailed:
		updates["next_retry_at"] = nil
		updates["processed_at"] = time.Now()
	default:
		updates["next_retry_at"] = nextRetryAt
	}

	res := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.WrapStorage(res.Error, "update job status")
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("job", id)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

const jobColumns = `id, type, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	var j models.Job
	var lastError sql.NullString
	var createdAt int64
	var processedAt, nextRetryAt sql.NullInt64
	if err := row.Scan(&j.ID, &j.Type, &j.Payload, &j.Status, &j.RetryCount, &lastError, &createdAt, &processedAt, &nextRetryAt); err != nil {
		return nil, err
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	j.CreatedAt = fromMillis(createdAt)
	j.ProcessedAt = timePtr(processedAt)
	j.NextRetryAt = timePtr(nextRetryAt)
	return &j, nil
}

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	now := time.Now()
	result, err := db.ExecContext(ctx,
		`INSERT INTO jobs (type, payload, status, retry_count, last_error, created_at, next_retry_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.Type, job.Payload, job.Status, job.RetryCount, job.LastError, toMillis(now), nullableMillis(job.NextRetryAt),
	)
	if err != nil {
		return domain.WrapStorage(err, "create job")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.WrapStorage(err, "get last insert id")
	}
	job.ID = id
	job.CreatedAt = now
	return nil
}

func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "job", id, "get job")
	}
	return job, nil
}

// GetPendingJobs returns jobs that are due, oldest first.
func (db *DB) GetPendingJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
         ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.JobStatusPending, toMillis(time.Now()), limit)
	if err != nil {
		return nil, domain.WrapStorage(err, "get pending jobs")
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, domain.WrapStorage(err, "scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, domain.WrapStorage(rows.Err(), "get pending jobs")
}

// UpdateJobStatus records a job outcome. A pending status with nextRetryAt counts as a retry.
func (db *DB) UpdateJobStatus(ctx context.Context, id int64, status string, errMsg *string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	switch {
	case status == models.JobStatusPending && nextRetryAt != nil:
		query = `UPDATE jobs SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nullableMillis(nextRetryAt), id}
	case status == models.JobStatusCompleted || status == models.JobStatusFailed:
		query = `UPDATE jobs SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, toMillis(now), id}
	default:
		query = `UPDATE jobs SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nullableMillis(nextRetryAt), id}
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.WrapStorage(err, "update job status")
	}
	return checkAffected(res, "job", id)
}

func (db *DB) GetFailedJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC`, models.JobStatusFailed)
	if err != nil {
		return nil, domain.WrapStorage(err, "get failed jobs")
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, domain.WrapStorage(err, "scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, domain.WrapStorage(rows.Err(), "get failed jobs")
}

// ClaimJob moves a pending job to processing. It reports false when another consumer got there first.
func (db *DB) ClaimJob(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		models.JobStatusProcessing, id, models.JobStatusPending)
	if err != nil {
		return false, domain.WrapStorage(err, "claim job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.WrapStorage(err, "claim job")
	}
	return n == 1, nil
}

// ResetProcessingJobs returns jobs left in processing by a stopped worker to the pending queue.
func (db *DB) ResetProcessingJobs(ctx context.Context) (int, error) {
	res, err := db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE status = ?`,
		models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return 0, domain.WrapStorage(err, "reset processing jobs")
	}
	n, err := res.RowsAffected()
	return int(n), domain.WrapStorage(err, "reset processing jobs")
}

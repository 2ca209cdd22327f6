package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"
)

const scheduleColumns = `id, tenant_id, name, start_date, end_date, default_class_option_id, lock_out_time, days, created_at, updated_at`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*models.ScheduleTemplate, error) {
	var tpl models.ScheduleTemplate
	var startDate, endDate clock.Date
	var lockOut sql.NullInt64
	var days string
	var createdAt, updatedAt int64
	err := row.Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &startDate, &endDate, &tpl.DefaultClassOptionID,
		&lockOut, &days, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(days), &tpl.Days); err != nil {
		return nil, err
	}
	tpl.StartDate = startDate
	tpl.EndDate = endDate
	tpl.LockOutTime = intPtr(lockOut)
	tpl.CreatedAt = fromMillis(createdAt)
	tpl.UpdatedAt = fromMillis(updatedAt)
	return &tpl, nil
}

func (s *queries) GetSchedule(ctx context.Context, tenantID string) (*models.ScheduleTemplate, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE tenant_id = ?`, tenantID)
	tpl, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("schedule for tenant", tenantID)
	}
	if err != nil {
		return nil, domain.WrapStorage(err, "get schedule")
	}
	return tpl, nil
}

func (s *queries) ListSchedules(ctx context.Context) ([]models.ScheduleTemplate, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY tenant_id ASC`)
	if err != nil {
		return nil, domain.WrapStorage(err, "list schedules")
	}
	defer rows.Close()

	var templates []models.ScheduleTemplate
	for rows.Next() {
		tpl, err := scanSchedule(rows)
		if err != nil {
			return nil, domain.WrapStorage(err, "scan schedule")
		}
		templates = append(templates, *tpl)
	}
	return templates, domain.WrapStorage(rows.Err(), "list schedules")
}

// SaveSchedule inserts or replaces the template of tpl.TenantID.
func (s *queries) SaveSchedule(ctx context.Context, tpl *models.ScheduleTemplate) error {
	days, err := json.Marshal(tpl.Days)
	if err != nil {
		return domain.WrapStorage(err, "encode schedule days")
	}
	now := time.Now()
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO schedules (tenant_id, name, start_date, end_date, default_class_option_id, lock_out_time, days, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(tenant_id) DO UPDATE SET
            name = excluded.name,
            start_date = excluded.start_date,
            end_date = excluded.end_date,
            default_class_option_id = excluded.default_class_option_id,
            lock_out_time = excluded.lock_out_time,
            days = excluded.days,
            updated_at = excluded.updated_at`,
		tpl.TenantID, tpl.Name, tpl.StartDate, tpl.EndDate, tpl.DefaultClassOptionID, nullableInt(tpl.LockOutTime),
		string(days), toMillis(now), toMillis(now),
	)
	if err != nil {
		return domain.WrapStorage(err, "save schedule")
	}

	var createdAt int64
	err = s.q.QueryRowContext(ctx, `SELECT id, created_at FROM schedules WHERE tenant_id = ?`, tpl.TenantID).Scan(&tpl.ID, &createdAt)
	if err != nil {
		return domain.WrapStorage(err, "reload schedule")
	}
	tpl.CreatedAt = fromMillis(createdAt)
	tpl.UpdatedAt = now
	return nil
}

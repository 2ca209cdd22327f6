package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

const lessonColumns = `id, tenant_id, date, start_time, end_time, class_option_id, location, instructor_id,
	lock_out_time, original_lock_out_time, active, created_at, updated_at`

func scanLesson(row interface{ Scan(...interface{}) error }) (*models.Lesson, error) {
	var l models.Lesson
	var date, start, end, createdAt, updatedAt int64
	var instructorID sql.NullInt64
	err := row.Scan(&l.ID, &l.TenantID, &date, &start, &end, &l.ClassOptionID, &l.Location, &instructorID,
		&l.LockOutTime, &l.OriginalLockOutTime, &l.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	l.Date = fromMillis(date)
	l.StartTime = fromMillis(start)
	l.EndTime = fromMillis(end)
	l.InstructorID = int64Ptr(instructorID)
	l.CreatedAt = fromMillis(createdAt)
	l.UpdatedAt = fromMillis(updatedAt)
	return &l, nil
}

func (s *queries) GetLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id)
	l, err := scanLesson(row)
	if err != nil {
		return nil, notFoundOr(err, "lesson", id, "get lesson")
	}
	return l, nil
}

// LockLesson is a plain read: the surrounding BEGIN IMMEDIATE transaction already holds
// the database write lock.
func (s *queries) LockLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	return s.GetLesson(ctx, id)
}

func lessonWhere(f domain.LessonFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.TenantID != "" || f.TenantScoped {
		conds = append(conds, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.ClassOptionID != 0 {
		conds = append(conds, "class_option_id = ?")
		args = append(args, f.ClassOptionID)
	}
	if !f.StartFrom.IsZero() {
		conds = append(conds, "start_time >= ?")
		args = append(args, toMillis(f.StartFrom))
	}
	if !f.StartBefore.IsZero() {
		conds = append(conds, "start_time < ?")
		args = append(args, toMillis(f.StartBefore))
	}
	if !f.EndAfter.IsZero() {
		conds = append(conds, "end_time > ?")
		args = append(args, toMillis(f.EndAfter))
	}
	if !f.EndBy.IsZero() {
		conds = append(conds, "end_time <= ?")
		args = append(args, toMillis(f.EndBy))
	}
	if f.Location != nil {
		conds = append(conds, "location = ?")
		args = append(args, *f.Location)
	}
	if f.ActiveOnly {
		conds = append(conds, "active = 1")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *queries) ListLessons(ctx context.Context, f domain.LessonFilter) ([]models.Lesson, error) {
	where, args := lessonWhere(f)
	rows, err := s.q.QueryContext(ctx, `SELECT `+lessonColumns+` FROM lessons`+where+` ORDER BY start_time ASC, id ASC`, args...)
	if err != nil {
		return nil, domain.WrapStorage(err, "list lessons")
	}
	defer rows.Close()

	var lessons []models.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, domain.WrapStorage(err, "scan lesson")
		}
		lessons = append(lessons, *l)
	}
	return lessons, domain.WrapStorage(rows.Err(), "list lessons")
}

// CreateLesson stores the lesson and records its lock-out as the original value.
func (s *queries) CreateLesson(ctx context.Context, l *models.Lesson) error {
	now := time.Now()
	l.OriginalLockOutTime = l.LockOutTime
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO lessons (tenant_id, date, start_time, end_time, class_option_id, location, instructor_id,
                              lock_out_time, original_lock_out_time, active, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.TenantID, toMillis(l.Date), toMillis(l.StartTime), toMillis(l.EndTime), l.ClassOptionID, l.Location,
		nullableInt64(l.InstructorID), l.LockOutTime, l.OriginalLockOutTime, l.Active, toMillis(now), toMillis(now),
	)
	if err != nil {
		return domain.WrapStorage(err, "create lesson")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.WrapStorage(err, "get last insert id")
	}
	l.ID = id
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

// DeleteLesson removes the lesson; its bookings go with it through the foreign key.
func (s *queries) DeleteLesson(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return domain.WrapStorage(err, "delete lesson")
	}
	return checkAffected(res, "lesson", id)
}

func (s *queries) UpdateLessonLockOut(ctx context.Context, id int64, minutes int) error {
	res, err := s.q.ExecContext(ctx, `UPDATE lessons SET lock_out_time = ?, updated_at = ? WHERE id = ?`,
		minutes, toMillis(time.Now()), id)
	if err != nil {
		return domain.WrapStorage(err, "update lesson lock-out")
	}
	return checkAffected(res, "lesson", id)
}

package database

import (
	"context"
	"strings"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

const bookingColumns = `id, lesson_id, user_id, status, checked_in, created_at, updated_at`

func scanBooking(row interface{ Scan(...interface{}) error }) (*models.Booking, error) {
	var b models.Booking
	var createdAt, updatedAt int64
	if err := row.Scan(&b.ID, &b.LessonID, &b.UserID, &b.Status, &b.CheckedIn, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	return &b, nil
}

func bookingWhere(f domain.BookingFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.LessonID != 0 {
		conds = append(conds, "lesson_id = ?")
		args = append(args, f.LessonID)
	}
	if len(f.UserIDs) > 0 {
		conds = append(conds, "user_id IN ("+placeholders(len(f.UserIDs))+")")
		for _, id := range f.UserIDs {
			args = append(args, id)
		}
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *queries) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, notFoundOr(err, "booking", id, "get booking")
	}
	return b, nil
}

func (s *queries) CreateBooking(ctx context.Context, b *models.Booking) error {
	now := time.Now()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO bookings (lesson_id, user_id, status, checked_in, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.LessonID, b.UserID, string(b.Status), b.CheckedIn, toMillis(now), toMillis(now),
	)
	if err != nil {
		return domain.WrapStorage(err, "create booking")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.WrapStorage(err, "get last insert id")
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (s *queries) UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus) error {
	res, err := s.q.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(time.Now()), id)
	if err != nil {
		return domain.WrapStorage(err, "update booking status")
	}
	return checkAffected(res, "booking", id)
}

func (s *queries) SetCheckedIn(ctx context.Context, id int64, checkedIn bool) error {
	res, err := s.q.ExecContext(ctx, `UPDATE bookings SET checked_in = ?, updated_at = ? WHERE id = ?`,
		checkedIn, toMillis(time.Now()), id)
	if err != nil {
		return domain.WrapStorage(err, "update booking check-in")
	}
	return checkAffected(res, "booking", id)
}

// ListBookings returns matching bookings oldest first.
func (s *queries) ListBookings(ctx context.Context, f domain.BookingFilter) ([]models.Booking, error) {
	where, args := bookingWhere(f)
	rows, err := s.q.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, domain.WrapStorage(err, "list bookings")
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, domain.WrapStorage(err, "scan booking")
		}
		bookings = append(bookings, *b)
	}
	return bookings, domain.WrapStorage(rows.Err(), "list bookings")
}

func (s *queries) CountBookings(ctx context.Context, f domain.BookingFilter) (int, error) {
	where, args := bookingWhere(f)
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&count); err != nil {
		return 0, domain.WrapStorage(err, "count bookings")
	}
	return count, nil
}

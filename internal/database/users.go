package database

import (
	"context"
	"database/sql"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

const userColumns = `id, name, email, telegram_id, role, parent_id, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	var parentID sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.TelegramID, &u.Role, &parentID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.ParentID = int64Ptr(parentID)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func (s *queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundOr(err, "user", id, "get user")
	}
	return u, nil
}

func (s *queries) CreateUser(ctx context.Context, u *models.User) error {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	now := time.Now()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, name, email, telegram_id, role, parent_id, created_at, updated_at)
         VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.TelegramID, u.Role, nullableInt64(u.ParentID), toMillis(now), toMillis(now),
	)
	if err != nil {
		return domain.WrapStorage(err, "create user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.WrapStorage(err, "get last insert id")
	}
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *queries) ListChildren(ctx context.Context, parentID int64) ([]models.User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE parent_id = ? ORDER BY id ASC`, parentID)
	if err != nil {
		return nil, domain.WrapStorage(err, "list children")
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, domain.WrapStorage(err, "scan user")
		}
		users = append(users, *u)
	}
	return users, domain.WrapStorage(rows.Err(), "list children")
}

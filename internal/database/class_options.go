package database

import (
	"context"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

const classOptionColumns = `id, name, places, description, type, trial_enabled, created_at, updated_at`

func scanClassOption(row interface{ Scan(...interface{}) error }) (*models.ClassOption, error) {
	var c models.ClassOption
	var createdAt, updatedAt int64
	if err := row.Scan(&c.ID, &c.Name, &c.Places, &c.Description, &c.Type, &c.TrialEnabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (s *queries) GetClassOption(ctx context.Context, id int64) (*models.ClassOption, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+classOptionColumns+` FROM class_options WHERE id = ?`, id)
	c, err := scanClassOption(row)
	if err != nil {
		return nil, notFoundOr(err, "class option", id, "get class option")
	}
	return c, nil
}

func (s *queries) ListClassOptions(ctx context.Context) ([]models.ClassOption, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+classOptionColumns+` FROM class_options ORDER BY name ASC`)
	if err != nil {
		return nil, domain.WrapStorage(err, "list class options")
	}
	defer rows.Close()

	var options []models.ClassOption
	for rows.Next() {
		c, err := scanClassOption(rows)
		if err != nil {
			return nil, domain.WrapStorage(err, "scan class option")
		}
		options = append(options, *c)
	}
	return options, domain.WrapStorage(rows.Err(), "list class options")
}

func (s *queries) CreateClassOption(ctx context.Context, c *models.ClassOption) error {
	now := time.Now()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO class_options (id, name, places, description, type, trial_enabled, created_at, updated_at)
         VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Places, c.Description, c.Type, c.TrialEnabled, toMillis(now), toMillis(now),
	)
	if err != nil {
		return domain.WrapStorage(err, "create class option")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.WrapStorage(err, "get last insert id")
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (s *queries) UpdateClassOption(ctx context.Context, c *models.ClassOption) error {
	now := time.Now()
	res, err := s.q.ExecContext(ctx,
		`UPDATE class_options SET name = ?, places = ?, description = ?, type = ?, trial_enabled = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Places, c.Description, c.Type, c.TrialEnabled, toMillis(now), c.ID,
	)
	if err != nil {
		return domain.WrapStorage(err, "update class option")
	}
	c.UpdatedAt = now
	return checkAffected(res, "class option", c.ID)
}

func (s *queries) DeleteClassOption(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM class_options WHERE id = ?`, id)
	if err != nil {
		return domain.WrapStorage(err, "delete class option")
	}
	return checkAffected(res, "class option", id)
}

// Package seed loads reference data (class options, users, weekly templates) from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

type Data struct {
	ClassOptions []models.ClassOption      `yaml:"class_options"`
	Users        []models.User             `yaml:"users"`
	Schedules    []models.ScheduleTemplate `yaml:"schedules"`
}

// Result counts what Apply wrote.
type Result struct {
	OptionsCreated int
	OptionsUpdated int
	UsersCreated   int
	Schedules      int
}

func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i := range d.ClassOptions {
		if err := d.ClassOptions[i].Validate(); err != nil {
			return nil, fmt.Errorf("class option %q: %w", d.ClassOptions[i].Name, err)
		}
	}
	for i := range d.Schedules {
		if err := d.Schedules[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", d.Schedules[i].TenantID, err)
		}
	}
	return &d, nil
}

// Apply writes the data in one transaction. Class options match on id, then name; existing users are left alone;
// schedules replace the tenant's template.
func Apply(ctx context.Context, store domain.Store, d *Data, logger *zerolog.Logger) (*Result, error) {
	res := &Result{}
	err := store.InTx(ctx, func(q domain.Queries) error {
		*res = Result{}
		if err := applyOptions(ctx, q, d.ClassOptions, res); err != nil {
			return err
		}
		for i := range d.Users {
			u := d.Users[i]
			if u.Role == "" {
				u.Role = models.RoleUser
			}
			if u.ID > 0 {
				_, err := q.GetUser(ctx, u.ID)
				if err == nil {
					continue
				}
				if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
			}
			if err := q.CreateUser(ctx, &u); err != nil {
				return fmt.Errorf("seed user %q: %w", u.Name, err)
			}
			res.UsersCreated++
		}
		for i := range d.Schedules {
			tpl := d.Schedules[i]
			if err := q.SaveSchedule(ctx, &tpl); err != nil {
				return fmt.Errorf("seed schedule %q: %w", tpl.TenantID, err)
			}
			res.Schedules++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int("options_created", res.OptionsCreated).
		Int("options_updated", res.OptionsUpdated).
		Int("users_created", res.UsersCreated).
		Int("schedules", res.Schedules).
		Msg("seed applied")
	return res, nil
}

func applyOptions(ctx context.Context, q domain.Queries, options []models.ClassOption, res *Result) error {
	existing, err := q.ListClassOptions(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]int64, len(existing))
	byID := make(map[int64]bool, len(existing))
	for _, o := range existing {
		byName[o.Name] = o.ID
		byID[o.ID] = true
	}

	for i := range options {
		o := options[i]
		if o.ID == 0 {
			o.ID = byName[o.Name]
		}
		if o.ID > 0 && byID[o.ID] {
			if err := q.UpdateClassOption(ctx, &o); err != nil {
				return fmt.Errorf("seed class option %q: %w", o.Name, err)
			}
			res.OptionsUpdated++
			continue
		}
		if err := q.CreateClassOption(ctx, &o); err != nil {
			return fmt.Errorf("seed class option %q: %w", o.Name, err)
		}
		byName[o.Name], byID[o.ID] = o.ID, true
		res.OptionsCreated++
	}
	return nil
}

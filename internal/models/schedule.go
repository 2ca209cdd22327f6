package models

import (
	"errors"
	"fmt"
	"time"

	"studiobook/internal/clock"
)

// ScheduleTemplate is the weekly definition lessons are generated from.
// Days is indexed Monday = 0 ... Sunday = 6.
type ScheduleTemplate struct {
	ID                   int64          `gorm:"primaryKey" json:"id" yaml:"id"`
	TenantID             string         `gorm:"size:64;uniqueIndex" json:"tenant_id" yaml:"tenant_id"`
	Name                 string         `gorm:"size:255" json:"name" yaml:"name"`
	StartDate            clock.Date     `gorm:"type:text" json:"start_date" yaml:"start_date"`
	EndDate              clock.Date     `gorm:"type:text" json:"end_date" yaml:"end_date"`
	DefaultClassOptionID int64          `json:"default_class_option_id" yaml:"default_class_option_id"`
	LockOutTime          *int           `json:"lock_out_time,omitempty" yaml:"lock_out_time"`
	Days                 [7]ScheduleDay `gorm:"serializer:json;type:text" json:"days" yaml:"days"`
	CreatedAt            time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt            time.Time      `json:"updated_at" yaml:"-"`
}

type ScheduleDay struct {
	Active bool       `json:"active" yaml:"active"`
	Slots  []TimeSlot `json:"slots" yaml:"slots"`
}

// TimeSlot is one recurring lesson on a weekday. Optional fields override template defaults.
type TimeSlot struct {
	Start         clock.WallClock `json:"start" yaml:"start"`
	End           clock.WallClock `json:"end" yaml:"end"`
	ClassOptionID *int64          `json:"class_option_id,omitempty" yaml:"class_option_id"`
	Location      string          `json:"location,omitempty" yaml:"location"`
	InstructorID  *int64          `json:"instructor_id,omitempty" yaml:"instructor_id"`
	LockOutTime   *int            `json:"lock_out_time,omitempty" yaml:"lock_out_time"`
	SkipDates     []clock.Date    `json:"skip_dates,omitempty" yaml:"skip_dates"`
}

func (s *TimeSlot) Skips(d clock.Date) bool {
	for _, skip := range s.SkipDates {
		if skip == d {
			return true
		}
	}
	return false
}

// ResolveClassOption returns the slot override or the template default.
func (t *ScheduleTemplate) ResolveClassOption(s *TimeSlot) int64 {
	if s.ClassOptionID != nil && *s.ClassOptionID > 0 {
		return *s.ClassOptionID
	}
	return t.DefaultClassOptionID
}

// ResolveLockOut returns slot ?? template ?? 0.
func (t *ScheduleTemplate) ResolveLockOut(s *TimeSlot) int {
	if s.LockOutTime != nil {
		return *s.LockOutTime
	}
	if t.LockOutTime != nil {
		return *t.LockOutTime
	}
	return 0
}

// Day returns the bucket for a Monday-based weekday index.
func (t *ScheduleTemplate) Day(weekday int) *ScheduleDay {
	if weekday < 0 || weekday >= len(t.Days) {
		return nil
	}
	return &t.Days[weekday]
}

// Covers reports whether d is inside the template window. A zero bound is open.
func (t *ScheduleTemplate) Covers(d clock.Date) bool {
	if !t.StartDate.IsZero() && d.Before(t.StartDate) {
		return false
	}
	if !t.EndDate.IsZero() && d.After(t.EndDate) {
		return false
	}
	return true
}

func (t *ScheduleTemplate) Validate() error {
	if !t.StartDate.IsZero() && !t.EndDate.IsZero() && t.EndDate.Before(t.StartDate) {
		return errors.New("schedule end date is before start date")
	}
	if t.LockOutTime != nil && *t.LockOutTime < 0 {
		return errors.New("schedule lock-out time must not be negative")
	}
	for i := range t.Days {
		for j := range t.Days[i].Slots {
			slot := &t.Days[i].Slots[j]
			if !slot.Start.Valid() || !slot.End.Valid() {
				return fmt.Errorf("day %d slot %d: invalid wall clock", i, j)
			}
			if !slot.Start.Before(slot.End) {
				return fmt.Errorf("day %d slot %d: end time must be after start time", i, j)
			}
			if t.ResolveClassOption(slot) <= 0 {
				return fmt.Errorf("day %d slot %d: no class option and no template default", i, j)
			}
			if slot.LockOutTime != nil && *slot.LockOutTime < 0 {
				return fmt.Errorf("day %d slot %d: lock-out time must not be negative", i, j)
			}
		}
	}
	return nil
}

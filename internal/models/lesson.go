package models

import (
	"errors"
	"time"
)

// Lesson is a single scheduled class instance.
type Lesson struct {
	ID                  int64     `gorm:"primaryKey" json:"id"`
	TenantID            string    `gorm:"size:64;index" json:"tenant_id,omitempty"`
	Date                time.Time `gorm:"not null;index" json:"date"`
	StartTime           time.Time `gorm:"not null;index" json:"start_time"`
	EndTime             time.Time `gorm:"not null" json:"end_time"`
	ClassOptionID       int64     `gorm:"not null;index" json:"class_option_id"`
	Location            string    `gorm:"size:255" json:"location,omitempty"`
	InstructorID        *int64    `json:"instructor_id,omitempty"`
	LockOutTime         int       `gorm:"not null;default:0" json:"lock_out_time"`
	OriginalLockOutTime int       `gorm:"not null;default:0" json:"original_lock_out_time"`
	Active              bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (l *Lesson) Validate() error {
	if l.ClassOptionID <= 0 {
		return errors.New("lesson class option is required")
	}
	if !l.EndTime.After(l.StartTime) {
		return errors.New("lesson end time must be after start time")
	}
	if l.LockOutTime < 0 {
		return errors.New("lesson lock-out time must not be negative")
	}
	return nil
}

// Overlaps reports whether [start, end) intersects the lesson.
func (l *Lesson) Overlaps(start, end time.Time) bool {
	return start.Before(l.EndTime) && l.StartTime.Before(end)
}

// EffectiveLockOut is 0 once the lesson has a confirmed attendee, the configured value otherwise.
func (l *Lesson) EffectiveLockOut(confirmed int) int {
	if confirmed > 0 {
		return 0
	}
	return l.OriginalLockOutTime
}

// ClosesAt is the instant after which new bookings are refused.
func (l *Lesson) ClosesAt(confirmed int) time.Time {
	return l.StartTime.Add(-time.Duration(l.EffectiveLockOut(confirmed)) * time.Minute)
}

func (l *Lesson) IsClosed(now time.Time, confirmed int) bool {
	return !now.Before(l.ClosesAt(confirmed))
}

package models

import "time"

// Job is a persisted unit of background work.
type Job struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	Type        string     `gorm:"size:64;not null;index" json:"type"`
	Payload     string     `gorm:"type:text" json:"payload"`
	Status      string     `gorm:"size:16;not null;default:'pending';index" json:"status"`
	RetryCount  int        `gorm:"not null;default:0" json:"retry_count"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// WaitlistNotice is the payload of a waitlist_notify job.
type WaitlistNotice struct {
	BookingID int64 `json:"booking_id"`
	LessonID  int64 `json:"lesson_id"`
	UserID    int64 `json:"user_id"`
}

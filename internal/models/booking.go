package models

import "time"

// Booking ties a user to a lesson.
type Booking struct {
	ID        int64         `gorm:"primaryKey" json:"id"`
	LessonID  int64         `gorm:"not null;index" json:"lesson_id"`
	UserID    int64         `gorm:"not null;index" json:"user_id"`
	Status    BookingStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	CheckedIn bool          `gorm:"not null;default:false" json:"checked_in"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
	StatusWaiting:   {StatusConfirmed, StatusCancelled},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusWaiting:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s. Nothing leaves cancelled.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

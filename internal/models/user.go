package models

import "time"

// User is the collaborator view of an account: enough for access checks and notices.
type User struct {
	ID         int64     `gorm:"primaryKey" json:"id" yaml:"id"`
	Name       string    `gorm:"size:255" json:"name" yaml:"name"`
	Email      string    `gorm:"size:255" json:"email" yaml:"email"`
	TelegramID int64     `json:"telegram_id,omitempty" yaml:"telegram_id"`
	Role       string    `gorm:"size:16;not null;default:'user'" json:"role" yaml:"role"`
	ParentID   *int64    `gorm:"index" json:"parent_id,omitempty" yaml:"parent_id"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsChildOf(parentID int64) bool {
	return u.ParentID != nil && *u.ParentID == parentID
}

package models

import (
	"errors"
	"time"
)

// ClassOption is the capacity template a lesson draws its places from.
type ClassOption struct {
	ID           int64     `gorm:"primaryKey" json:"id" yaml:"id"`
	Name         string    `gorm:"size:255;uniqueIndex;not null" json:"name" yaml:"name"`
	Places       int       `gorm:"not null" json:"places" yaml:"places"`
	Description  string    `json:"description" yaml:"description"`
	Type         string    `gorm:"size:16;not null;default:'adult'" json:"type" yaml:"type"`
	TrialEnabled bool      `gorm:"not null;default:false" json:"trial_enabled" yaml:"trial_enabled"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

func (c *ClassOption) Validate() error {
	if c.Name == "" {
		return errors.New("class option name is required")
	}
	if c.Places < 1 {
		return errors.New("class option places must be positive")
	}
	switch c.Type {
	case "":
		c.Type = ClassTypeAdult
	case ClassTypeAdult, ClassTypeChild:
	default:
		return errors.New("class option type must be adult or child")
	}
	return nil
}

func (c *ClassOption) IsChild() bool {
	return c.Type == ClassTypeChild
}

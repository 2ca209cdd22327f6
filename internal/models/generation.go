package models

import (
	"time"

	"studiobook/internal/clock"
)

type SkipReason string

const (
	SkipExplicit SkipReason = "explicit"
	SkipExists   SkipReason = "exists"
	SkipFailed   SkipReason = "failed"
)

// GeneratedLesson describes a lesson created by a generation run.
type GeneratedLesson struct {
	LessonID int64      `json:"lesson_id"`
	Date     clock.Date `json:"date"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
}

// SlotOutcome describes a slot that was skipped or found in conflict.
type SlotOutcome struct {
	Date     clock.Date `json:"date"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Reason   SkipReason `json:"reason,omitempty"`
	Detail   string     `json:"detail,omitempty"`
	LessonID int64      `json:"lesson_id,omitempty"`
}

type GenerationResult struct {
	Created   []GeneratedLesson `json:"created"`
	Skipped   []SlotOutcome     `json:"skipped"`
	Conflicts []SlotOutcome     `json:"conflicts"`
	Cleared   int               `json:"cleared"`
	Retained  []int64           `json:"retained,omitempty"`
}

// SkippedFor counts skipped slots with the given reason.
func (r *GenerationResult) SkippedFor(reason SkipReason) int {
	n := 0
	for _, s := range r.Skipped {
		if s.Reason == reason {
			n++
		}
	}
	return n
}

// GenerationRequest asks for a tenant's template to be expanded over [Start, End].
type GenerationRequest struct {
	TenantID      string     `json:"tenant_id"`
	Start         clock.Date `json:"start"`
	End           clock.Date `json:"end"`
	ClearExisting bool       `json:"clear_existing"`
}

// PublishRequest asks for the lessons of [From, To] to be written to the schedule sheet.
type PublishRequest struct {
	TenantID string     `json:"tenant_id"`
	From     clock.Date `json:"from"`
	To       clock.Date `json:"to"`
}

package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Priority is the user-assigned importance of a task.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Field limits enforced on every stored task.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
)

// Validation errors returned by Task.Validate and Task.ValidateDueDate.
var (
	ErrTitleRequired   = errors.New("task title is required")
	ErrTitleTooLong    = fmt.Errorf("title cannot exceed %d characters", MaxTitleLength)
	ErrDescTooLong     = fmt.Errorf("description cannot exceed %d characters", MaxDescriptionLength)
	ErrInvalidPriority = errors.New("priority must be Low, Medium or High")
	ErrDueDateInPast   = errors.New("due date must be in the future")
)

// Task is a unit of work owned by one user.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`

	// OwnerID references the user who owns the task.
	OwnerID string `json:"userId"`

	// Title is the short summary shown in lists, reminders and pushes.
	Title string `json:"title"`

	// Description is optional free-form detail.
	Description string `json:"description,omitempty"`

	// Priority is one of the Priority* constants.
	Priority Priority `json:"priority"`

	// DueDate is the instant the task is due. Tasks without one are
	// never picked up by the reminder pipeline.
	DueDate *time.Time `json:"dueDate,omitempty"`

	// IsCompleted is set by the user or by auto-completion.
	IsCompleted bool `json:"isCompleted"`

	// CompletedAt is present iff IsCompleted is true.
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// ReminderSent gates the upcoming-reminder email. The pipeline only
	// ever sets it; a due date change made by the user clears it.
	ReminderSent bool `json:"reminderSent"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the field constraints that hold for every stored task.
// It does not check the due date against the clock; see ValidateDueDate.
func (t Task) Validate() error {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		return ErrTitleRequired
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if utf8.RuneCountInString(strings.TrimSpace(t.Description)) > MaxDescriptionLength {
		return ErrDescTooLong
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// ValidateDueDate checks that a due date, when present, lies after now.
// Stored tasks are never re-checked, so an overdue task stays valid.
func (t Task) ValidateDueDate(now time.Time) error {
	if t.DueDate != nil && !t.DueDate.After(now) {
		return ErrDueDateInPast
	}
	return nil
}

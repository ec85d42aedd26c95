package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want error
	}{
		{"ok", Task{Title: "Pay rent", Priority: PriorityHigh}, nil},
		{"default priority", Task{Title: "Pay rent"}, nil},
		{"blank title", Task{Title: "   "}, ErrTitleRequired},
		{"long title", Task{Title: strings.Repeat("x", MaxTitleLength+1)}, ErrTitleTooLong},
		{"long description", Task{Title: "x", Description: strings.Repeat("d", MaxDescriptionLength+1)}, ErrDescTooLong},
		{"bad priority", Task{Title: "x", Priority: "Urgent"}, ErrInvalidPriority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTaskValidateDueDate(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	assert.NoError(t, Task{Title: "x"}.ValidateDueDate(now))
	assert.NoError(t, Task{Title: "x", DueDate: at(time.Second)}.ValidateDueDate(now))
	assert.ErrorIs(t, Task{Title: "x", DueDate: at(0)}.ValidateDueDate(now), ErrDueDateInPast)
	assert.ErrorIs(t, Task{Title: "x", DueDate: at(-time.Hour)}.ValidateDueDate(now), ErrDueDateInPast)
}

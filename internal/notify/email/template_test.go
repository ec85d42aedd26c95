package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-reminders/internal/model"
)

func TestRenderReminder(t *testing.T) {
	due := time.Date(2026, 10, 14, 12, 20, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "t1", Title: "Ship release", Description: "tag and push", Priority: model.PriorityHigh, DueDate: &due},
		{ID: "t2", Title: "Water plants", Priority: model.PriorityLow, DueDate: &due},
	}

	html, err := RenderReminder(ReminderData{
		UserName: "Ada",
		Tasks:    tasks,
		Horizon:  30 * time.Minute,
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Hi Ada,")
	assert.Contains(t, html, "<strong>2</strong> tasks due in the next 30 minutes")
	assert.Contains(t, html, "Ship release")
	assert.Contains(t, html, "tag and push")
	assert.Contains(t, html, "border-left: 4px solid #f44336")
	assert.Contains(t, html, "border-left: 4px solid #4CAF50")
	assert.Contains(t, html, "Due: Oct 14, 2026 12:20 PM UTC")
	assert.Contains(t, html, "Priority: High")
	assert.Contains(t, html, "these tasks on time")
}

func TestRenderReminderSingleTask(t *testing.T) {
	html, err := RenderReminder(ReminderData{
		Tasks:   []model.Task{{Title: "Call mom", Priority: model.PriorityMedium}},
		Horizon: time.Hour,
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Hi there,")
	assert.Contains(t, html, "<strong>1</strong> task due in the next hour")
	assert.Contains(t, html, "this task on time")
	assert.Contains(t, html, "#ff9800")
	assert.NotContains(t, html, "Due:")
}

func TestRenderReminderEscapesContent(t *testing.T) {
	html, err := RenderReminder(ReminderData{
		UserName: "<b>Eve</b>",
		Tasks:    []model.Task{{Title: "<script>alert(1)</script>", Priority: model.PriorityLow}},
	})
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "<b>Eve</b>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestRenderReminderLocation(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	due := time.Date(2026, 10, 14, 12, 20, 0, 0, time.UTC)

	html, err := RenderReminder(ReminderData{
		Tasks:    []model.Task{{Title: "Standup", Priority: model.PriorityLow, DueDate: &due}},
		Location: loc,
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Due: Oct 14, 2026 2:20 PM CEST")
}

func TestFormatWindow(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Minute, "30 minutes"},
		{time.Minute, "minute"},
		{time.Hour, "hour"},
		{2 * time.Hour, "2 hours"},
		{90 * time.Minute, "90 minutes"},
		{0, "30 minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatWindow(tt.in))
		})
	}
}

func TestPriorityColor(t *testing.T) {
	assert.Equal(t, ColorHigh, PriorityColor(model.PriorityHigh))
	assert.Equal(t, ColorMedium, PriorityColor(model.PriorityMedium))
	assert.Equal(t, ColorLow, PriorityColor(model.PriorityLow))
	assert.Equal(t, ColorLow, PriorityColor(model.Priority("other")))
}

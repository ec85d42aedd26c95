package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/nhle/task-reminders/internal/model"
)

// ReminderSubject is the subject line of the upcoming-task reminder.
const ReminderSubject = "Task Reminder - Tasks Due Soon"

// Priority accent colors used in reminder emails.
const (
	ColorHigh   = "#f44336"
	ColorMedium = "#ff9800"
	ColorLow    = "#4CAF50"
)

// PriorityColor returns the accent color for a priority.
func PriorityColor(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return ColorHigh
	case model.PriorityMedium:
		return ColorMedium
	default:
		return ColorLow
	}
}

// ReminderData is the input to RenderReminder.
type ReminderData struct {
	UserName string
	Tasks    []model.Task
	Horizon  time.Duration

	// Location is the zone due times are displayed in. Nil means UTC.
	Location *time.Location
}

type reminderItem struct {
	Title       string
	Description string
	Priority    model.Priority
	Color       template.CSS
	Due         string
}

type reminderView struct {
	UserName string
	Count    int
	Plural   bool
	Window   string
	Items    []reminderItem
}

var reminderTemplate = template.Must(template.New("reminder").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color:#ff9800;">Upcoming Task Reminder</h2>
  <p>Hi {{.UserName}},</p>
  <p>You have <strong>{{.Count}}</strong> task{{if .Plural}}s{{end}} due in the next {{.Window}}:</p>
  <ul style="list-style: none; padding: 0;">
{{- range .Items}}
    <li style="margin-bottom: 15px; padding: 10px; background-color: #f9f9f9; border-left: 4px solid {{.Color}};">
      <strong>{{.Title}}</strong>
      {{- if .Description}}
      <br><span style="color: #666;">{{.Description}}</span>
      {{- end}}
      {{- if .Due}}
      <br><small style="color: #999;">Due: {{.Due}}</small>
      {{- end}}
      <br><small style="color: #999;">Priority: {{.Priority}}</small>
    </li>
{{- end}}
  </ul>
  <p>Don't forget to complete {{if .Plural}}these tasks{{else}}this task{{end}} on time!</p>
  <p>Best regards,<br>DTT App Team</p>
</div>
`))

// RenderReminder renders the aggregate reminder email for one user.
func RenderReminder(data ReminderData) (string, error) {
	loc := data.Location
	if loc == nil {
		loc = time.UTC
	}

	name := data.UserName
	if name == "" {
		name = "there"
	}

	view := reminderView{
		UserName: name,
		Count:    len(data.Tasks),
		Plural:   len(data.Tasks) != 1,
		Window:   formatWindow(data.Horizon),
		Items:    make([]reminderItem, 0, len(data.Tasks)),
	}
	for _, t := range data.Tasks {
		item := reminderItem{
			Title:       t.Title,
			Description: t.Description,
			Priority:    t.Priority,
			Color:       template.CSS(PriorityColor(t.Priority)),
		}
		if t.DueDate != nil {
			item.Due = t.DueDate.In(loc).Format("Jan 2, 2006 3:04 PM MST")
		}
		view.Items = append(view.Items, item)
	}

	var buf bytes.Buffer
	if err := reminderTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("rendering reminder email: %w", err)
	}
	return buf.String(), nil
}

// formatWindow renders the horizon for "due in the next ...": "30 minutes",
// "hour", "2 hours".
func formatWindow(d time.Duration) string {
	if d <= 0 {
		d = 30 * time.Minute
	}
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int(d / time.Minute)
	if m == 1 {
		return "minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

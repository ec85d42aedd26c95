package pipeline

import "time"

// Class is the scheduling state of a task relative to a scan instant.
type Class int

const (
	// Unscheduled tasks have no due date and are never selected.
	Unscheduled Class = iota
	// NotYetDue tasks are due after the upcoming horizon.
	NotYetDue
	// Upcoming tasks are due in (now, now+horizon].
	Upcoming
	// DueNow tasks are due at or before now.
	DueNow
)

func (c Class) String() string {
	switch c {
	case Unscheduled:
		return "unscheduled"
	case NotYetDue:
		return "not-yet-due"
	case Upcoming:
		return "upcoming"
	case DueNow:
		return "due-now"
	default:
		return "unknown"
	}
}

// Classify places due on the timeline relative to now. The due-now and
// upcoming windows are half-open and adjacent, so a task due exactly at now
// is DueNow and one due exactly at now+horizon is Upcoming.
func Classify(now time.Time, horizon time.Duration, due *time.Time) Class {
	if due == nil || due.IsZero() {
		return Unscheduled
	}
	switch {
	case !due.After(now):
		return DueNow
	case !due.After(now.Add(horizon)):
		return Upcoming
	default:
		return NotYetDue
	}
}

// UpcomingWindow returns the bounds (after, through] of the upcoming window.
func UpcomingWindow(now time.Time, horizon time.Duration) (after, through time.Time) {
	now = now.UTC()
	return now, now.Add(horizon)
}

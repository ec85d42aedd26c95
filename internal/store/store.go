package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/task-reminders/internal/model"
)

// ErrNotFound is returned when a lookup by ID matches no row.
var ErrNotFound = errors.New("not found")

// DueWindow selects open (not completed) tasks whose due date lies in the
// half-open interval (After, Through]. A nil After leaves the window
// unbounded below. Tasks without a due date never match.
type DueWindow struct {
	After   *time.Time
	Through time.Time

	// ReminderSent, when set, additionally filters on the reminder flag.
	ReminderSent *bool

	// Limit caps the number of rows returned; zero means no cap.
	Limit int
}

// CompletedPrecondition is re-asserted by BulkSetCompletedWhere for every
// row it updates: the task must still be open and still due by DueThrough.
type CompletedPrecondition struct {
	DueThrough  time.Time
	CompletedAt time.Time
}

// ReminderPrecondition is re-asserted by BulkSetReminderSentWhere: the task
// must still be open, not yet reminded, and due within (DueAfter, DueThrough].
type ReminderPrecondition struct {
	DueAfter   time.Time
	DueThrough time.Time
}

// TaskStore is the query/update contract the reminder pipeline consumes.
type TaskStore interface {
	// FindByDueWindow returns open tasks due inside the window, earliest first.
	FindByDueWindow(ctx context.Context, w DueWindow) ([]model.Task, error)

	// BulkSetCompletedWhere completes the given tasks that still satisfy pre
	// and returns the IDs it actually updated.
	BulkSetCompletedWhere(ctx context.Context, ids []string, pre CompletedPrecondition) ([]string, error)

	// BulkSetReminderSentWhere marks the given tasks as reminded when they
	// still satisfy pre and returns the IDs it actually updated.
	BulkSetReminderSentWhere(ctx context.Context, ids []string, pre ReminderPrecondition) ([]string, error)
}

// SubscriptionStore is the push endpoint contract the pipeline consumes.
type SubscriptionStore interface {
	FindByUserID(ctx context.Context, userID string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
}

// UserStore resolves task owners.
type UserStore interface {
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]model.User, error)
}

// Store is the full persistence interface: the pipeline contracts plus the
// CRUD operations used by the API surface and tests.
type Store interface {
	TaskStore
	SubscriptionStore
	UserStore

	// === Users ===

	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)

	// === Tasks ===

	CreateTask(ctx context.Context, task model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, task model.Task) error
	CompleteTask(ctx context.Context, id string) (bool, error)
	DeleteTask(ctx context.Context, id string) error
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)

	// === Subscriptions ===

	UpsertSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)

	Close() error
}

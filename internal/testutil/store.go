package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedUser inserts a user with the given name and email.
func SeedUser(t *testing.T, s store.Store, name, email string) model.User {
	t.Helper()

	u, err := s.CreateUser(context.Background(), model.User{Name: name, Email: email})
	if err != nil {
		t.Fatalf("seeding user %s: %v", email, err)
	}
	return u
}

// SeedTask inserts an open task owned by ownerID, due at due. A zero due
// leaves the task unscheduled.
func SeedTask(t *testing.T, s store.Store, ownerID, title string, due time.Time) model.Task {
	t.Helper()

	task := model.Task{
		OwnerID:  ownerID,
		Title:    title,
		Priority: model.PriorityMedium,
	}
	if !due.IsZero() {
		task.DueDate = &due
	}

	created, err := s.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("seeding task %q: %v", title, err)
	}
	return created
}

// SeedSubscription registers a push endpoint for userID.
func SeedSubscription(t *testing.T, s store.Store, userID, endpoint string) model.Subscription {
	t.Helper()

	sub, err := s.UpsertSubscription(context.Background(), model.Subscription{
		UserID:   userID,
		Endpoint: endpoint,
		Keys: model.SubscriptionKeys{
			P256dh: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM",
			Auth:   "tBHItJI5svbpez7KI4CCXg",
		},
	})
	if err != nil {
		t.Fatalf("seeding subscription %s: %v", endpoint, err)
	}
	return sub
}

// MustGetTask reloads a task or fails the test.
func MustGetTask(t *testing.T, s store.Store, id string) model.Task {
	t.Helper()

	task, err := s.GetTaskByID(context.Background(), id)
	if err != nil {
		t.Fatalf("loading task %s: %v", id, err)
	}
	return *task
}
